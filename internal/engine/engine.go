// Package engine implements the conversation state machine: it receives
// normalized chat events, consults the session store, routes each event
// through a dispatch table keyed by (state, event kind, token), invokes
// the document transforms on completion and replies through the
// messaging port.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ricfalco/pdfmate/internal/artifact"
	"github.com/ricfalco/pdfmate/internal/observability"
	"github.com/ricfalco/pdfmate/internal/pdf"
	"github.com/ricfalco/pdfmate/internal/session"
)

// Transformer is the document transform contract the engine invokes
// exactly once per completed operation.
type Transformer interface {
	Merge(ctx context.Context, sources []string, output string) error
	Rename(ctx context.Context, source, output string) error
	StampWatermark(ctx context.Context, source, output, text string, pos pdf.Position, opacity float64) error
}

// Limits are the per-upload and storage bounds enforced at ingestion.
type Limits struct {
	MaxFileSize      int64
	MaxWatermarkText int
	MaxStorageBytes  int64
	MaxStorageFiles  int
}

// anyState matches every session state in the dispatch table.
const anyState = session.State("*")

// anyToken matches any token of a kind in the dispatch table.
const anyToken = "*"

type tableKey struct {
	state session.State
	kind  Kind
	token string
}

type handlerFunc func(ctx context.Context, e *Engine, sess *session.Session, ev Event) error

// Engine dispatches events. Events for different conversations run in
// parallel; events for the same conversation are serialized through a
// per-conversation mailbox, so a long transform never blocks other
// users and never races a duplicate delivery for the same chat.
type Engine struct {
	limits    Limits
	sessions  session.Store
	artifacts *artifact.Store
	transform Transformer
	out       Messenger
	metrics   *observability.Metrics
	table     map[tableKey]handlerFunc

	ctx context.Context

	mu        sync.Mutex
	mailboxes map[string]chan Event

	// idleTimeout controls when an idle mailbox worker exits.
	idleTimeout time.Duration
}

func New(ctx context.Context, limits Limits, sessions session.Store, artifacts *artifact.Store, transform Transformer, out Messenger, metrics *observability.Metrics) *Engine {
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = 20 << 20
	}
	if limits.MaxWatermarkText <= 0 {
		limits.MaxWatermarkText = 100
	}
	e := &Engine{
		limits:      limits,
		sessions:    sessions,
		artifacts:   artifacts,
		transform:   transform,
		out:         out,
		metrics:     metrics,
		ctx:         ctx,
		mailboxes:   make(map[string]chan Event),
		idleTimeout: 2 * time.Minute,
	}
	e.table = buildTable()
	return e
}

// Dispatch enqueues one event for its conversation and returns without
// waiting for it to be handled.
func (e *Engine) Dispatch(ev Event) {
	id := ev.Conversation()
	if id == "" {
		return
	}

	e.mu.Lock()
	box, ok := e.mailboxes[id]
	if !ok {
		box = make(chan Event, 16)
		e.mailboxes[id] = box
		go e.run(id, box)
	}
	select {
	case box <- ev:
	default:
		// The user is flooding faster than their worker drains; shed
		// rather than block other conversations.
		e.metrics.EventsDispatched.WithLabelValues(string(ev.Kind()), "dropped").Inc()
	}
	e.mu.Unlock()
}

func (e *Engine) run(id string, box chan Event) {
	idle := time.NewTimer(e.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-box:
			e.handle(ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.idleTimeout)
		case <-idle.C:
			// Sends happen under mu, so the empty check cannot race a
			// concurrent enqueue.
			e.mu.Lock()
			if len(box) == 0 {
				delete(e.mailboxes, id)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			idle.Reset(e.idleTimeout)
		}
	}
}

// handle runs one event to completion. It is the error boundary: no
// event, however malformed, may take down the dispatch loop.
func (e *Engine) handle(ev Event) {
	id := ev.Conversation()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			log.Printf("event dispatch panic (conversation=%s kind=%s): %v", id, ev.Kind(), r)
			_ = e.out.SendText(e.ctx, id, apologyText, nil)
		}
		e.metrics.EventsDispatched.WithLabelValues(string(ev.Kind()), outcome).Inc()
	}()

	sess, err := e.sessions.Get(e.ctx, id)
	if err != nil && err != session.ErrNotFound {
		outcome = "error"
		log.Printf("session lookup failed (conversation=%s): %v", id, err)
		_ = e.out.SendText(e.ctx, id, apologyText, nil)
		return
	}

	if err := e.lookup(sess, ev)(e.ctx, e, sess, ev); err != nil {
		outcome = "error"
		log.Printf("event handling failed (conversation=%s kind=%s): %v", id, ev.Kind(), err)
		_ = e.out.SendText(e.ctx, id, apologyText, nil)
	}
	e.updateSessionGauge()
}

// lookup resolves the handler for (state, kind, token), trying the
// state-specific entry, then the state-independent one, then the
// per-state wildcard, and finally the guidance fallback.
func (e *Engine) lookup(sess *session.Session, ev Event) handlerFunc {
	state := session.StateWaiting
	if sess != nil {
		state = session.NormalizeState(sess.State)
	}
	token := eventToken(ev)

	for _, k := range []tableKey{
		{state, ev.Kind(), token},
		{anyState, ev.Kind(), token},
		{state, ev.Kind(), anyToken},
	} {
		if h, ok := e.table[k]; ok {
			return h
		}
	}
	return fallbackGuidance
}

// eventToken normalizes the routing token: commands route by name,
// buttons by token with parameterized families collapsed to a prefix
// key, files and text have none.
func eventToken(ev Event) string {
	switch v := ev.(type) {
	case Command:
		return strings.ToLower(v.Name)
	case ButtonPress:
		if v.Token == tokenOpacityCustom {
			return tokenOpacityCustom
		}
		if strings.HasPrefix(v.Token, tokenPositionPrefix) {
			return tokenPositionPrefix + anyToken
		}
		if strings.HasPrefix(v.Token, tokenOpacityPrefix) {
			return tokenOpacityPrefix + anyToken
		}
		return v.Token
	default:
		return anyToken
	}
}

func (e *Engine) updateSessionGauge() {
	if n, err := e.sessions.Count(e.ctx); err == nil {
		e.metrics.ActiveSessions.Set(float64(n))
	}
}

// buildTable wires the transition table. It mirrors the state machine
// one row per entry so the mapping stays auditable.
func buildTable() map[tableKey]handlerFunc {
	return map[tableKey]handlerFunc{
		// Commands work in every state.
		{anyState, KindCommand, "start"}:  cmdStart,
		{anyState, KindCommand, "help"}:   cmdHelp,
		{anyState, KindCommand, "cancel"}: cmdCancel,

		// Operation selection and session control buttons.
		{anyState, KindButton, TokenMerge}:        btnMerge,
		{anyState, KindButton, TokenRename}:       btnRename,
		{anyState, KindButton, TokenWatermark}:    btnWatermark,
		{anyState, KindButton, TokenHelp}:         cmdHelp,
		{anyState, KindButton, TokenClear}:        btnClear,
		{anyState, KindButton, TokenCancel}:       btnClear,
		{anyState, KindButton, TokenConfirmMerge}: btnConfirmMerge,

		// Parameter selection buttons, only in their waiting states.
		{session.StateWaitingWatermarkPosition, KindButton, tokenPositionPrefix + anyToken}: btnPosition,
		{session.StateWaitingWatermarkOpacity, KindButton, tokenOpacityCustom}:              btnOpacityCustom,
		{session.StateWaitingWatermarkOpacity, KindButton, tokenOpacityPrefix + anyToken}:   btnOpacityPreset,

		// File uploads per uploading state.
		{session.StateUploadingMerge, KindFile, anyToken}:     fileForMerge,
		{session.StateUploadingRename, KindFile, anyToken}:    fileForRename,
		{session.StateUploadingWatermark, KindFile, anyToken}: fileForWatermark,

		// Free text per waiting state.
		{session.StateWaitingFilename, KindText, anyToken}:         textFilename,
		{session.StateWaitingWatermarkText, KindText, anyToken}:    textWatermarkText,
		{session.StateWaitingWatermarkOpacity, KindText, anyToken}: textCustomOpacity,
	}
}
