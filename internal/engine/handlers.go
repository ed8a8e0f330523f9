package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ricfalco/pdfmate/internal/pdf"
	"github.com/ricfalco/pdfmate/internal/policy"
	"github.com/ricfalco/pdfmate/internal/reliability"
	"github.com/ricfalco/pdfmate/internal/session"
	"github.com/ricfalco/pdfmate/internal/validate"
)

// fallbackGuidance handles every (state, event) pair the table does not:
// stray uploads, stray text, unknown tokens. Nothing is retained and the
// session is left untouched.
func fallbackGuidance(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	if sess == nil && ev.Kind() == KindText {
		return e.out.SendText(ctx, ev.Conversation(), expiredText, mainMenu())
	}
	return e.out.SendText(ctx, ev.Conversation(), useMenuText, mainMenu())
}

func cmdStart(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	id := ev.Conversation()
	e.releaseSessionArtifacts(sess)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if _, err := e.sessions.Upsert(ctx, id, session.StateRef(session.StateWaiting), nil); err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	return e.out.SendText(ctx, id, welcomeText, mainMenu())
}

func cmdHelp(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	return e.out.SendText(ctx, ev.Conversation(), helpText, nil)
}

func cmdCancel(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	id := ev.Conversation()
	e.releaseSessionArtifacts(sess)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	return e.out.SendText(ctx, id, cancelledText, mainMenu())
}

func btnClear(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	id := ev.Conversation()
	e.releaseSessionArtifacts(sess)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return e.out.SendText(ctx, id, clearedText, mainMenu())
}

func btnMerge(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	return e.beginOperation(ctx, sess, ev, session.StateUploadingMerge, mergeInstructions)
}

func btnRename(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	return e.beginOperation(ctx, sess, ev, session.StateUploadingRename, renameInstructions)
}

func btnWatermark(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	return e.beginOperation(ctx, sess, ev, session.StateUploadingWatermark, watermarkInstructions)
}

// beginOperation resets the session into a fresh uploading state.
// Artifacts held by an abandoned previous operation are released here
// rather than waiting for the sweep.
func (e *Engine) beginOperation(ctx context.Context, sess *session.Session, ev Event, state session.State, instructions string) error {
	id := ev.Conversation()
	e.releaseSessionArtifacts(sess)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	files := []string{}
	if _, err := e.sessions.Upsert(ctx, id, session.StateRef(state), &session.DataPatch{Files: &files}); err != nil {
		return fmt.Errorf("begin operation: %w", err)
	}
	return e.out.SendText(ctx, id, instructions, cancelMenu())
}

func fileForMerge(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	upload := ev.(FileUpload)
	path, err := e.ingest(ctx, upload)
	if err != nil || path == "" {
		return err
	}
	files := append(append([]string(nil), sess.Data.Files...), path)
	if _, err := e.sessions.Upsert(ctx, upload.ConversationID, nil, &session.DataPatch{Files: &files}); err != nil {
		e.artifacts.Release(path)
		return fmt.Errorf("store merge file: %w", err)
	}
	return e.out.SendText(ctx, upload.ConversationID, fileAddedText(upload.DeclaredName, len(files)), mergeProgressMenu(len(files)))
}

func btnConfirmMerge(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	id := ev.Conversation()
	if sess == nil {
		return e.out.SendText(ctx, id, expiredText, mainMenu())
	}
	files := sess.Data.Files
	if len(files) < 2 {
		return e.out.SendText(ctx, id, needTwoFilesText, mergeProgressMenu(len(files)))
	}

	e.out.SendChatActionHint(ctx, id)
	if err := e.out.SendText(ctx, id, mergingText, nil); err != nil {
		return err
	}

	output := e.artifacts.Allocate("_merged.pdf")
	start := time.Now()
	err := e.transform.Merge(ctx, files, output)
	e.metrics.ObserveTransform("merge", err, time.Since(start))
	if err != nil {
		// Keep the session and its files so the user can retry.
		return e.out.SendText(ctx, id, transformFailedText("merging PDFs", userErrText(err)), nil)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("read merged output: %w", err)
	}
	if err := e.out.SendFile(ctx, id, data, "merged_document.pdf", "✅ PDFs merged successfully!"); err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("send merged document: %w", err)
	}

	for _, f := range files {
		e.artifacts.Release(f)
	}
	e.artifacts.Release(output)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("finish merge: %w", err)
	}
	return e.out.SendText(ctx, id, nextText, mainMenu())
}

func fileForRename(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	upload := ev.(FileUpload)
	path, err := e.ingest(ctx, upload)
	if err != nil || path == "" {
		return err
	}
	if _, err := e.sessions.Upsert(ctx, upload.ConversationID, session.StateRef(session.StateWaitingFilename), &session.DataPatch{FilePath: &path}); err != nil {
		e.artifacts.Release(path)
		return fmt.Errorf("store rename file: %w", err)
	}
	return e.out.SendText(ctx, upload.ConversationID, askFilenameText, nil)
}

func textFilename(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	id := ev.Conversation()
	text := strings.TrimSpace(ev.(TextMessage).Text)

	src := sess.Data.FilePath
	if src == "" || !fileExists(src) {
		if _, err := e.sessions.Upsert(ctx, id, session.StateRef(session.StateUploadingRename), nil); err != nil {
			return fmt.Errorf("reset rename: %w", err)
		}
		return e.out.SendText(ctx, id, fileGoneText, nil)
	}
	if text == "" || !validate.IsSafeFreeText(text, 100) {
		return e.out.SendText(ctx, id, badFilenameText, nil)
	}
	name := validate.SanitizeFilename(text)

	e.out.SendChatActionHint(ctx, id)
	output := e.artifacts.Allocate(".pdf")
	start := time.Now()
	err := e.transform.Rename(ctx, src, output)
	e.metrics.ObserveTransform("rename", err, time.Since(start))
	if err != nil {
		return e.out.SendText(ctx, id, transformFailedText("renaming PDF", userErrText(err)), nil)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("read renamed output: %w", err)
	}
	if err := e.out.SendFile(ctx, id, data, name, fmt.Sprintf("✅ Renamed to: *%s*", name)); err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("send renamed document: %w", err)
	}

	e.artifacts.Release(src)
	e.artifacts.Release(output)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("finish rename: %w", err)
	}
	return e.out.SendText(ctx, id, nextText, mainMenu())
}

func fileForWatermark(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	upload := ev.(FileUpload)
	path, err := e.ingest(ctx, upload)
	if err != nil || path == "" {
		return err
	}
	if _, err := e.sessions.Upsert(ctx, upload.ConversationID, session.StateRef(session.StateWaitingWatermarkText), &session.DataPatch{FilePath: &path}); err != nil {
		e.artifacts.Release(path)
		return fmt.Errorf("store watermark file: %w", err)
	}
	return e.out.SendText(ctx, upload.ConversationID, askWatermarkText, nil)
}

func textWatermarkText(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	id := ev.Conversation()
	text := strings.TrimSpace(ev.(TextMessage).Text)
	if !validate.IsSafeFreeText(text, e.limits.MaxWatermarkText) {
		return e.out.SendText(ctx, id, badWatermarkText, nil)
	}
	if _, err := e.sessions.Upsert(ctx, id, session.StateRef(session.StateWaitingWatermarkPosition), &session.DataPatch{WatermarkText: &text}); err != nil {
		return fmt.Errorf("store watermark text: %w", err)
	}
	return e.out.SendText(ctx, id, watermarkTextChosen(text), positionMenu())
}

func btnPosition(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	id := ev.Conversation()
	position := strings.TrimPrefix(ev.(ButtonPress).Token, tokenPositionPrefix)
	if _, err := e.sessions.Upsert(ctx, id, session.StateRef(session.StateWaitingWatermarkOpacity), &session.DataPatch{Position: &position}); err != nil {
		return fmt.Errorf("store position: %w", err)
	}
	return e.out.SendText(ctx, id, positionChosenText(position), opacityMenu())
}

func btnOpacityCustom(ctx context.Context, e *Engine, _ *session.Session, ev Event) error {
	return e.out.SendText(ctx, ev.Conversation(), customOpacityText, nil)
}

func btnOpacityPreset(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	raw := strings.TrimPrefix(ev.(ButtonPress).Token, tokenOpacityPrefix)
	opacity, ok := validate.ParseOpacity(raw)
	if !ok {
		return e.out.SendText(ctx, ev.Conversation(), badOpacityText, nil)
	}
	return e.runWatermark(ctx, ev.Conversation(), sess, opacity)
}

func textCustomOpacity(ctx context.Context, e *Engine, sess *session.Session, ev Event) error {
	opacity, ok := validate.ParseOpacity(ev.(TextMessage).Text)
	if !ok {
		return e.out.SendText(ctx, ev.Conversation(), badOpacityText, nil)
	}
	return e.runWatermark(ctx, ev.Conversation(), sess, opacity)
}

func (e *Engine) runWatermark(ctx context.Context, id string, sess *session.Session, opacity float64) error {
	d := sess.Data
	if d.FilePath == "" || d.WatermarkText == "" || d.Position == "" {
		return e.out.SendText(ctx, id, missingParamsText, nil)
	}
	if !fileExists(d.FilePath) {
		return e.out.SendText(ctx, id, fileGoneText, nil)
	}

	e.out.SendChatActionHint(ctx, id)
	output := e.artifacts.Allocate("_watermarked.pdf")
	start := time.Now()
	err := e.transform.StampWatermark(ctx, d.FilePath, output, d.WatermarkText, pdf.ParsePosition(d.Position), opacity)
	e.metrics.ObserveTransform("watermark", err, time.Since(start))
	if err != nil {
		return e.out.SendText(ctx, id, transformFailedText("adding watermark", userErrText(err)), nil)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("read watermarked output: %w", err)
	}
	if err := e.out.SendFile(ctx, id, data, "watermarked_document.pdf", "✅ Watermark added successfully!"); err != nil {
		e.artifacts.Release(output)
		return fmt.Errorf("send watermarked document: %w", err)
	}

	e.artifacts.Release(d.FilePath)
	e.artifacts.Release(output)
	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("finish watermark: %w", err)
	}
	return e.out.SendText(ctx, id, nextText, mainMenu())
}

// ingest validates a declared upload and writes it into the artifact
// store. A rejection replies to the user and returns an empty path; the
// bytes are never retained.
func (e *Engine) ingest(ctx context.Context, upload FileUpload) (string, error) {
	id := upload.ConversationID
	name := upload.DeclaredName
	if name == "" {
		name = validate.DefaultFilename
	}
	if !validate.IsDocumentFilename(name) {
		return "", e.out.SendText(ctx, id, notPDFText, nil)
	}
	if !validate.IsWithinSizeLimit(upload.DeclaredSize, e.limits.MaxFileSize) ||
		int64(len(upload.Data)) > e.limits.MaxFileSize {
		return "", e.out.SendText(ctx, id, tooLargeText(e.limits.MaxFileSize), nil)
	}
	if !validate.HasValidSignature(upload.Data) {
		return "", e.out.SendText(ctx, id, badSignatureText, nil)
	}

	path, err := e.artifacts.WriteFile(".pdf", upload.Data)
	if err != nil {
		return "", fmt.Errorf("ingest upload: %w", err)
	}
	if e.limits.MaxStorageBytes > 0 || e.limits.MaxStorageFiles > 0 {
		e.artifacts.EnforceCapacity(e.limits.MaxStorageBytes, e.limits.MaxStorageFiles)
	}
	return path, nil
}

// releaseSessionArtifacts frees every artifact the session references.
func (e *Engine) releaseSessionArtifacts(sess *session.Session) {
	if sess == nil {
		return
	}
	for _, f := range sess.Data.Files {
		e.artifacts.Release(f)
	}
	if sess.Data.FilePath != "" {
		e.artifacts.Release(sess.Data.FilePath)
	}
}

// userErrText turns a transform failure into reply text. Failures
// caused by the document itself are explained, sanitized and bounded;
// service-side failures get a generic notice instead of leaking
// internals into the chat.
func userErrText(err error) string {
	if !reliability.IsUserDocumentError(err) {
		return "temporary processing problem, please try again"
	}
	return policy.SanitizeErrorText(err.Error(), 200)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
