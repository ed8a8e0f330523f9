package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricfalco/pdfmate/internal/artifact"
	"github.com/ricfalco/pdfmate/internal/observability"
	"github.com/ricfalco/pdfmate/internal/pdf"
	"github.com/ricfalco/pdfmate/internal/session"
)

var validUpload = []byte("%PDF-1.4 fake document body")

type fakeTransform struct {
	mu         sync.Mutex
	mergeCalls [][]string
	failWith   error
}

func (f *fakeTransform) Merge(_ context.Context, sources []string, output string) error {
	f.mu.Lock()
	f.mergeCalls = append(f.mergeCalls, append([]string(nil), sources...))
	f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	return os.WriteFile(output, []byte("%PDF-merged"), 0o600)
}

func (f *fakeTransform) Rename(_ context.Context, source, output string) error {
	if f.failWith != nil {
		return f.failWith
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o600)
}

func (f *fakeTransform) StampWatermark(_ context.Context, source, output, text string, _ pdf.Position, opacity float64) error {
	if f.failWith != nil {
		return f.failWith
	}
	body := fmt.Sprintf("%%PDF-stamped %s %.2f", text, opacity)
	return os.WriteFile(output, []byte(body), 0o600)
}

type sentText struct {
	id   string
	text string
	menu Menu
}

type sentFile struct {
	id      string
	name    string
	caption string
	data    []byte
}

type fakeMessenger struct {
	mu    sync.Mutex
	texts []sentText
	files []sentFile
}

func (f *fakeMessenger) SendText(_ context.Context, id, text string, menu Menu) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{id, text, menu})
	return nil
}

func (f *fakeMessenger) SendFile(_ context.Context, id string, data []byte, name, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, sentFile{id, name, caption, data})
	return nil
}

func (f *fakeMessenger) SendChatActionHint(context.Context, string) {}

func (f *fakeMessenger) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no text was sent")
	}
	return f.texts[len(f.texts)-1]
}

func newTestEngine(t *testing.T, transform Transformer) (*Engine, *fakeMessenger, *artifact.Store, session.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	sessions := session.NewMemoryStore(time.Hour)
	out := &fakeMessenger{}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	e := New(context.Background(), Limits{MaxFileSize: 1 << 20, MaxWatermarkText: 100}, sessions, store, transform, out, metrics)
	return e, out, store, sessions
}

func TestMergeFlowEndToEnd(t *testing.T) {
	tr := &fakeTransform{}
	e, out, store, sessions := newTestEngine(t, tr)
	const chat = "chat-1"

	e.handle(Command{chat, "start"})
	e.handle(ButtonPress{chat, TokenMerge})
	e.handle(FileUpload{chat, "a.pdf", int64(len(validUpload)), validUpload})
	e.handle(FileUpload{chat, "b.pdf", int64(len(validUpload)), validUpload})

	sess, err := sessions.Get(context.Background(), chat)
	if err != nil {
		t.Fatalf("session before confirm: %v", err)
	}
	if got := len(sess.Data.Files); got != 2 {
		t.Fatalf("accumulated files = %d, want 2", got)
	}

	e.handle(ButtonPress{chat, TokenConfirmMerge})

	if len(tr.mergeCalls) != 1 {
		t.Fatalf("merge calls = %d, want 1", len(tr.mergeCalls))
	}
	if got := tr.mergeCalls[0]; len(got) != 2 || got[0] != sess.Data.Files[0] || got[1] != sess.Data.Files[1] {
		t.Fatalf("merge sources = %v, want upload order %v", got, sess.Data.Files)
	}
	if len(out.files) != 1 || out.files[0].name != "merged_document.pdf" {
		t.Fatalf("sent files = %+v, want one merged_document.pdf", out.files)
	}
	if _, err := sessions.Get(context.Background(), chat); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session after merge: err = %v, want ErrNotFound", err)
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("artifacts after merge = %d files, want 0", u.FileCount)
	}
}

func TestConfirmMergeNeedsTwoFiles(t *testing.T) {
	tr := &fakeTransform{}
	e, out, _, _ := newTestEngine(t, tr)
	const chat = "chat-2"

	e.handle(ButtonPress{chat, TokenMerge})
	e.handle(FileUpload{chat, "only.pdf", int64(len(validUpload)), validUpload})
	e.handle(ButtonPress{chat, TokenConfirmMerge})

	if len(tr.mergeCalls) != 0 {
		t.Fatal("merge ran with a single input")
	}
	if got := out.lastText(t).text; got != needTwoFilesText {
		t.Fatalf("reply = %q, want %q", got, needTwoFilesText)
	}
}

func TestUploadWhileIdleIsNotRetained(t *testing.T) {
	e, out, store, _ := newTestEngine(t, &fakeTransform{})

	e.handle(FileUpload{"chat-3", "stray.pdf", int64(len(validUpload)), validUpload})

	if got := out.lastText(t).text; got != useMenuText {
		t.Fatalf("reply = %q, want guidance %q", got, useMenuText)
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("stray upload retained: %d files on disk", u.FileCount)
	}
}

func TestUploadValidation(t *testing.T) {
	e, out, store, _ := newTestEngine(t, &fakeTransform{})
	const chat = "chat-4"
	e.handle(ButtonPress{chat, TokenMerge})

	cases := []struct {
		name   string
		upload FileUpload
		reply  string
	}{
		{"wrong extension", FileUpload{chat, "notes.txt", 10, validUpload}, notPDFText},
		{"oversize", FileUpload{chat, "big.pdf", 2 << 20, validUpload}, tooLargeText(1 << 20)},
		{"bad signature", FileUpload{chat, "fake.pdf", 10, []byte("MZ not a pdf")}, badSignatureText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e.handle(tc.upload)
			if got := out.lastText(t).text; got != tc.reply {
				t.Fatalf("reply = %q, want %q", got, tc.reply)
			}
		})
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("rejected uploads retained: %d files on disk", u.FileCount)
	}
}

func TestRenameFlow(t *testing.T) {
	e, out, store, sessions := newTestEngine(t, &fakeTransform{})
	const chat = "chat-5"

	e.handle(ButtonPress{chat, TokenRename})
	e.handle(FileUpload{chat, "old.pdf", int64(len(validUpload)), validUpload})
	if got := out.lastText(t).text; got != askFilenameText {
		t.Fatalf("reply = %q, want filename prompt", got)
	}

	e.handle(TextMessage{chat, "My Report v2"})

	if len(out.files) != 1 {
		t.Fatalf("sent files = %d, want 1", len(out.files))
	}
	if got := out.files[0].name; got != "My_Report_v2.pdf" {
		t.Fatalf("renamed to %q, want My_Report_v2.pdf", got)
	}
	if _, err := sessions.Get(context.Background(), chat); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session after rename: err = %v, want ErrNotFound", err)
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("artifacts after rename = %d files, want 0", u.FileCount)
	}
}

func TestWatermarkFlowWithCustomOpacity(t *testing.T) {
	e, out, store, _ := newTestEngine(t, &fakeTransform{})
	const chat = "chat-6"

	e.handle(ButtonPress{chat, TokenWatermark})
	e.handle(FileUpload{chat, "doc.pdf", int64(len(validUpload)), validUpload})
	e.handle(TextMessage{chat, "CONFIDENTIAL"})
	e.handle(ButtonPress{chat, "pos_diagonal"})
	e.handle(ButtonPress{chat, tokenOpacityCustom})
	if got := out.lastText(t).text; got != customOpacityText {
		t.Fatalf("reply = %q, want custom opacity prompt", got)
	}
	e.handle(TextMessage{chat, "0.4"})

	if len(out.files) != 1 || out.files[0].name != "watermarked_document.pdf" {
		t.Fatalf("sent files = %+v, want one watermarked_document.pdf", out.files)
	}
	if got := string(out.files[0].data); !strings.Contains(got, "CONFIDENTIAL") || !strings.Contains(got, "0.40") {
		t.Fatalf("stamp did not receive text and opacity: %q", got)
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("artifacts after watermark = %d files, want 0", u.FileCount)
	}
}

func TestWatermarkRejectsBadOpacity(t *testing.T) {
	e, out, _, sessions := newTestEngine(t, &fakeTransform{})
	const chat = "chat-7"

	e.handle(ButtonPress{chat, TokenWatermark})
	e.handle(FileUpload{chat, "doc.pdf", int64(len(validUpload)), validUpload})
	e.handle(TextMessage{chat, "DRAFT"})
	e.handle(ButtonPress{chat, "pos_center"})
	e.handle(TextMessage{chat, "1.5"})

	if got := out.lastText(t).text; got != badOpacityText {
		t.Fatalf("reply = %q, want %q", got, badOpacityText)
	}
	sess, err := sessions.Get(context.Background(), chat)
	if err != nil {
		t.Fatalf("session should survive a bad opacity: %v", err)
	}
	if sess.State != session.StateWaitingWatermarkOpacity {
		t.Fatalf("state = %q, want %q", sess.State, session.StateWaitingWatermarkOpacity)
	}
}

func TestTransformFailureKeepsSessionAndInputs(t *testing.T) {
	tr := &fakeTransform{failWith: errors.New("render failed: /tmp/work/abc.pdf: broken xref")}
	e, out, store, sessions := newTestEngine(t, tr)
	const chat = "chat-8"

	e.handle(ButtonPress{chat, TokenMerge})
	e.handle(FileUpload{chat, "a.pdf", int64(len(validUpload)), validUpload})
	e.handle(FileUpload{chat, "b.pdf", int64(len(validUpload)), validUpload})
	e.handle(ButtonPress{chat, TokenConfirmMerge})

	reply := out.lastText(t).text
	if !strings.Contains(reply, "Error merging") {
		t.Fatalf("reply = %q, want a merge error notice", reply)
	}
	if strings.Contains(reply, "/tmp/work") {
		t.Fatalf("reply leaked a filesystem path: %q", reply)
	}
	sess, err := sessions.Get(context.Background(), chat)
	if err != nil {
		t.Fatalf("session should survive a failed merge: %v", err)
	}
	if len(sess.Data.Files) != 2 {
		t.Fatalf("inputs after failure = %d, want 2 for retry", len(sess.Data.Files))
	}
	if u := store.Usage(); u.FileCount != 2 {
		t.Fatalf("artifacts after failure = %d files, want the 2 inputs", u.FileCount)
	}
}

func TestCancelReleasesArtifacts(t *testing.T) {
	e, out, store, sessions := newTestEngine(t, &fakeTransform{})
	const chat = "chat-9"

	e.handle(ButtonPress{chat, TokenMerge})
	e.handle(FileUpload{chat, "a.pdf", int64(len(validUpload)), validUpload})
	e.handle(Command{chat, "cancel"})

	if got := out.lastText(t).text; got != cancelledText {
		t.Fatalf("reply = %q, want %q", got, cancelledText)
	}
	if _, err := sessions.Get(context.Background(), chat); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session after cancel: err = %v, want ErrNotFound", err)
	}
	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("artifacts after cancel = %d files, want 0", u.FileCount)
	}
}

func TestSwitchingOperationReleasesPreviousUploads(t *testing.T) {
	e, _, store, sessions := newTestEngine(t, &fakeTransform{})
	const chat = "chat-10"

	e.handle(ButtonPress{chat, TokenMerge})
	e.handle(FileUpload{chat, "a.pdf", int64(len(validUpload)), validUpload})
	e.handle(ButtonPress{chat, TokenRename})

	if u := store.Usage(); u.FileCount != 0 {
		t.Fatalf("abandoned merge inputs retained: %d files", u.FileCount)
	}
	sess, err := sessions.Get(context.Background(), chat)
	if err != nil {
		t.Fatalf("session after switch: %v", err)
	}
	if sess.State != session.StateUploadingRename {
		t.Fatalf("state = %q, want %q", sess.State, session.StateUploadingRename)
	}
}

func TestUnknownButtonGetsGuidance(t *testing.T) {
	e, out, _, _ := newTestEngine(t, &fakeTransform{})

	e.handle(ButtonPress{"chat-11", "bogus_token"})

	if got := out.lastText(t).text; got != useMenuText {
		t.Fatalf("reply = %q, want %q", got, useMenuText)
	}
}

func TestPositionButtonOutsideWatermarkFlowIsIgnored(t *testing.T) {
	e, out, _, sessions := newTestEngine(t, &fakeTransform{})
	const chat = "chat-12"

	e.handle(ButtonPress{chat, "pos_center"})

	if got := out.lastText(t).text; got != useMenuText {
		t.Fatalf("reply = %q, want guidance", got)
	}
	if _, err := sessions.Get(context.Background(), chat); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("stray button created a session: err = %v", err)
	}
}

func TestDispatchTableCoversEveryState(t *testing.T) {
	table := buildTable()

	fileStates := []session.State{
		session.StateUploadingMerge,
		session.StateUploadingRename,
		session.StateUploadingWatermark,
	}
	for _, st := range fileStates {
		if _, ok := table[tableKey{st, KindFile, anyToken}]; !ok {
			t.Errorf("no file handler for state %q", st)
		}
	}

	textStates := []session.State{
		session.StateWaitingFilename,
		session.StateWaitingWatermarkText,
		session.StateWaitingWatermarkOpacity,
	}
	for _, st := range textStates {
		if _, ok := table[tableKey{st, KindText, anyToken}]; !ok {
			t.Errorf("no text handler for state %q", st)
		}
	}

	for _, cmd := range []string{"start", "help", "cancel"} {
		if _, ok := table[tableKey{anyState, KindCommand, cmd}]; !ok {
			t.Errorf("no handler for command %q", cmd)
		}
	}

	for _, tok := range []string{TokenMerge, TokenRename, TokenWatermark, TokenHelp, TokenClear, TokenConfirmMerge} {
		if _, ok := table[tableKey{anyState, KindButton, tok}]; !ok {
			t.Errorf("no handler for button token %q", tok)
		}
	}
}

func TestDispatchSerializesPerConversation(t *testing.T) {
	e, out, _, _ := newTestEngine(t, &fakeTransform{})
	const chat = "chat-13"

	for i := 0; i < 5; i++ {
		e.Dispatch(Command{chat, "help"})
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		out.mu.Lock()
		n := len(out.texts)
		out.mu.Unlock()
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("handled %d of 5 dispatched events", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
