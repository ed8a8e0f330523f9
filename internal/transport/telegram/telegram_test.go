package telegram

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ricfalco/pdfmate/internal/engine"
)

type recorder struct {
	events []engine.Event
}

func (r *recorder) Dispatch(ev engine.Event) { r.events = append(r.events, ev) }

func TestHandleWebhook(t *testing.T) {
	rec := &recorder{}
	b := &Bot{dispatch: rec}

	body := `{"update_id":1,"message":{"message_id":7,"chat":{"id":42},"text":"hello"}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	b.HandleWebhook(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(rec.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(rec.events))
	}
	ev, ok := rec.events[0].(engine.TextMessage)
	if !ok || ev.ConversationID != "42" || ev.Text != "hello" {
		t.Fatalf("event = %#v, want text for chat 42", rec.events[0])
	}
}

func TestHandleWebhookRejectsMalformedBody(t *testing.T) {
	b := &Bot{dispatch: &recorder{}}
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	b.HandleWebhook(w, req)
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestKeyboardPreservesLayout(t *testing.T) {
	menu := engine.Menu{
		{{Label: "A", Token: "a"}, {Label: "B", Token: "b"}},
		{{Label: "C", Token: "c"}},
	}
	kb := keyboard(menu)
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(kb.InlineKeyboard))
	}
	if len(kb.InlineKeyboard[0]) != 2 || len(kb.InlineKeyboard[1]) != 1 {
		t.Fatalf("row widths = %d,%d, want 2,1", len(kb.InlineKeyboard[0]), len(kb.InlineKeyboard[1]))
	}
	btn := kb.InlineKeyboard[0][1]
	if btn.Text != "B" || btn.CallbackData == nil || *btn.CallbackData != "b" {
		t.Fatalf("button = %+v, want label B token b", btn)
	}
}

func TestChatKeyRoundTrip(t *testing.T) {
	id, err := parseChatKey(chatKey(-1001234567890))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != -1001234567890 {
		t.Fatalf("id = %d", id)
	}
	if _, err := parseChatKey("not-a-chat"); err == nil {
		t.Fatal("expected error for non-numeric key")
	}
}
