// Package devws is the development chat transport: a websocket endpoint
// speaking the JSON frames in internal/protocol, so the full
// conversation flow can be driven locally without a Telegram token.
package devws

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ricfalco/pdfmate/internal/engine"
	"github.com/ricfalco/pdfmate/internal/protocol"
)

// Dispatcher receives normalized events. Satisfied by *engine.Engine.
type Dispatcher interface {
	Dispatch(engine.Event)
}

type conn struct {
	ws       *websocket.Conn
	outbound chan any
	cancel   context.CancelFunc
}

// Hub tracks one websocket connection per conversation and implements
// engine.Messenger over them.
type Hub struct {
	dispatch    Dispatcher
	maxFileSize int64
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
}

func NewHub(dispatch Dispatcher, maxFileSize int64, allowAnyOrigin bool) *Hub {
	return &Hub{
		dispatch:    dispatch,
		maxFileSize: maxFileSize,
		conns:       make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// HandleWS upgrades the request and runs the connection until either
// side closes. The conversation id comes from the chat query parameter;
// a fresh one is generated when absent.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chat"))
	if chatID == "" {
		chatID = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws, outbound: make(chan any, 64), cancel: cancel}
	h.register(chatID, c)
	defer h.unregister(chatID, c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.outbound:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	c.enqueue(protocol.ServerText{
		Type:    protocol.TypeText,
		Content: fmt.Sprintf("Connected as chat %s. Send a /start command to begin.", chatID),
	})

	// Base64 inflates uploads by roughly a third.
	ws.SetReadLimit(h.maxFileSize*2 + 64<<10)
	_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := h.toEvent(chatID, data)
		if err != nil {
			c.enqueue(protocol.ServerError{Type: protocol.TypeError, Detail: err.Error()})
			continue
		}
		h.dispatch.Dispatch(ev)
	}

	cancel()
	<-writerDone
}

func (h *Hub) toEvent(chatID string, data []byte) (engine.Event, error) {
	parsed, err := protocol.ParseClientFrame(data)
	if err != nil {
		return nil, err
	}
	switch m := parsed.(type) {
	case protocol.ClientCommand:
		return engine.Command{ConversationID: chatID, Name: m.Name}, nil
	case protocol.ClientButton:
		return engine.ButtonPress{ConversationID: chatID, Token: m.Token}, nil
	case protocol.ClientText:
		return engine.TextMessage{ConversationID: chatID, Text: m.Content}, nil
	case protocol.ClientFile:
		raw, err := base64.StdEncoding.DecodeString(m.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("decode file payload: %w", err)
		}
		size := m.Size
		if size == 0 {
			size = int64(len(raw))
		}
		return engine.FileUpload{
			ConversationID: chatID,
			DeclaredName:   m.Name,
			DeclaredSize:   size,
			Data:           raw,
		}, nil
	default:
		return nil, protocol.ErrUnsupportedType
	}
}

func (h *Hub) register(chatID string, c *conn) {
	h.mu.Lock()
	old := h.conns[chatID]
	h.conns[chatID] = c
	h.mu.Unlock()
	if old != nil {
		// A reconnect supersedes the previous socket.
		old.cancel()
	}
}

func (h *Hub) unregister(chatID string, c *conn) {
	h.mu.Lock()
	if h.conns[chatID] == c {
		delete(h.conns, chatID)
	}
	h.mu.Unlock()
}

func (h *Hub) lookup(chatID string) (*conn, error) {
	h.mu.Lock()
	c := h.conns[chatID]
	h.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("no websocket connection for chat %s", chatID)
	}
	return c, nil
}

// enqueue keeps websocket writes single-threaded; drops if the
// outbound queue is saturated.
func (c *conn) enqueue(msg any) {
	select {
	case c.outbound <- msg:
	default:
		log.Printf("devws outbound queue full, dropping %T", msg)
	}
}

// SendText implements engine.Messenger.
func (h *Hub) SendText(_ context.Context, conversationID, text string, menu engine.Menu) error {
	c, err := h.lookup(conversationID)
	if err != nil {
		return err
	}
	c.enqueue(protocol.ServerText{Type: protocol.TypeText, Content: text, Menu: frameMenu(menu)})
	return nil
}

// SendFile implements engine.Messenger.
func (h *Hub) SendFile(_ context.Context, conversationID string, data []byte, visibleName, caption string) error {
	c, err := h.lookup(conversationID)
	if err != nil {
		return err
	}
	c.enqueue(protocol.ServerFile{
		Type:       protocol.TypeFile,
		Name:       visibleName,
		Caption:    caption,
		DataBase64: base64.StdEncoding.EncodeToString(data),
	})
	return nil
}

// SendChatActionHint implements engine.Messenger.
func (h *Hub) SendChatActionHint(_ context.Context, conversationID string) {
	if c, err := h.lookup(conversationID); err == nil {
		c.enqueue(protocol.ServerTyping{Type: protocol.TypeTyping})
	}
}

func frameMenu(menu engine.Menu) [][]protocol.Button {
	if len(menu) == 0 {
		return nil
	}
	out := make([][]protocol.Button, 0, len(menu))
	for _, row := range menu {
		frameRow := make([]protocol.Button, 0, len(row))
		for _, b := range row {
			frameRow = append(frameRow, protocol.Button{Label: b.Label, Token: b.Token})
		}
		out = append(out, frameRow)
	}
	return out
}
