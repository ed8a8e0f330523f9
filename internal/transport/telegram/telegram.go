// Package telegram adapts the conversation engine to the Telegram Bot
// API: it normalizes incoming updates into engine events and renders
// outbound replies as Telegram messages with inline keyboards.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ricfalco/pdfmate/internal/engine"
	"github.com/ricfalco/pdfmate/internal/reliability"
)

// Dispatcher receives normalized events. Satisfied by *engine.Engine.
type Dispatcher interface {
	Dispatch(engine.Event)
}

type Bot struct {
	api         *tgbotapi.BotAPI
	dispatch    Dispatcher
	maxFileSize int64
	client      *http.Client
}

func New(token string, dispatch Dispatcher, maxFileSize int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Bot{
		api:         api,
		dispatch:    dispatch,
		maxFileSize: maxFileSize,
		client:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (b *Bot) Username() string { return b.api.Self.UserName }

// Run polls for updates until the context is cancelled. Use either Run
// or a webhook, never both.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	log.Printf("telegram transport polling as @%s", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.ingest(ctx, update)
		}
	}
}

// SetWebhook registers publicURL with Telegram so updates arrive over
// HTTP instead of polling.
func (b *Bot) SetWebhook(publicURL string) error {
	wh, err := tgbotapi.NewWebhook(publicURL)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// HandleWebhook decodes one Telegram update from an HTTP request body.
func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}
	b.ingest(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (b *Bot) ingest(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil && cb.Message != nil {
		// Acknowledge so the client stops showing a spinner.
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("telegram callback ack failed: %v", err)
		}
		b.dispatch.Dispatch(engine.ButtonPress{
			ConversationID: chatKey(cb.Message.Chat.ID),
			Token:          cb.Data,
		})
		return
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	id := chatKey(msg.Chat.ID)

	switch {
	case msg.IsCommand():
		b.dispatch.Dispatch(engine.Command{ConversationID: id, Name: msg.Command()})
	case msg.Document != nil:
		b.dispatch.Dispatch(b.uploadEvent(ctx, id, msg.Document))
	default:
		b.dispatch.Dispatch(engine.TextMessage{ConversationID: id, Text: msg.Text})
	}
}

// uploadEvent fetches the document bytes. Oversize declarations skip
// the download entirely; the engine rejects them by declared size.
func (b *Bot) uploadEvent(ctx context.Context, id string, doc *tgbotapi.Document) engine.FileUpload {
	ev := engine.FileUpload{
		ConversationID: id,
		DeclaredName:   doc.FileName,
		DeclaredSize:   int64(doc.FileSize),
	}
	if b.maxFileSize > 0 && ev.DeclaredSize > b.maxFileSize {
		return ev
	}

	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		log.Printf("telegram file download failed (chat=%s name=%s): %v", id, doc.FileName, err)
		return ev
	}
	ev.Data = data
	return ev
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)):
			}
		}
		data, retryable, err := b.fetch(ctx, file.Link(b.api.Token))
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (b *Bot) fetch(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, reliability.IsRetryableHTTPStatus(resp.StatusCode), fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, b.maxFileSize+1))
	if err != nil {
		return nil, true, fmt.Errorf("fetch file: %w", err)
	}
	return data, false, nil
}

// SendText implements engine.Messenger.
func (b *Bot) SendText(_ context.Context, conversationID, text string, menu engine.Menu) error {
	chatID, err := parseChatKey(conversationID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(menu) > 0 {
		msg.ReplyMarkup = keyboard(menu)
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendFile implements engine.Messenger.
func (b *Bot) SendFile(_ context.Context, conversationID string, data []byte, visibleName, caption string) error {
	chatID, err := parseChatKey(conversationID)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: visibleName, Bytes: data})
	doc.Caption = caption
	doc.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// SendChatActionHint implements engine.Messenger.
func (b *Bot) SendChatActionHint(_ context.Context, conversationID string) {
	chatID, err := parseChatKey(conversationID)
	if err != nil {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadDocument)); err != nil {
		log.Printf("telegram chat action failed: %v", err)
	}
}

func keyboard(menu engine.Menu) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, row := range menu {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Token))
		}
		rows = append(rows, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func chatKey(id int64) string { return strconv.FormatInt(id, 10) }

func parseChatKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation id %q is not a telegram chat: %w", key, err)
	}
	return id, nil
}
