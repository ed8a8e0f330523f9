// Package protocol defines the JSON frames spoken by the development
// websocket transport. One frame per chat event, both directions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies websocket payload variants.
type FrameType string

const (
	TypeCommand FrameType = "command"
	TypeButton  FrameType = "button"
	TypeText    FrameType = "text"
	TypeFile    FrameType = "file"
	TypeTyping  FrameType = "typing"
	TypeError   FrameType = "error"
)

var ErrUnsupportedType = errors.New("unsupported frame type")

type Envelope struct {
	Type FrameType `json:"type"`
}

// ClientCommand carries a slash command, e.g. "start" for /start.
type ClientCommand struct {
	Type FrameType `json:"type"`
	Name string    `json:"name"`
}

// ClientButton carries a menu button press by token.
type ClientButton struct {
	Type  FrameType `json:"type"`
	Token string    `json:"token"`
}

// ClientText carries a free-text message.
type ClientText struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

// ClientFile carries an uploaded document, base64-encoded.
type ClientFile struct {
	Type       FrameType `json:"type"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	DataBase64 string    `json:"data_base64"`
}

// Button is one selectable menu entry rendered by the client.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// ServerText is an outbound text reply with an optional menu.
type ServerText struct {
	Type    FrameType  `json:"type"`
	Content string     `json:"content"`
	Menu    [][]Button `json:"menu,omitempty"`
}

// ServerFile is an outbound processed document.
type ServerFile struct {
	Type       FrameType `json:"type"`
	Name       string    `json:"name"`
	Caption    string    `json:"caption,omitempty"`
	DataBase64 string    `json:"data_base64"`
}

// ServerTyping is the best-effort "working" indicator.
type ServerTyping struct {
	Type FrameType `json:"type"`
}

// ServerError reports a malformed client frame.
type ServerError struct {
	Type   FrameType `json:"type"`
	Detail string    `json:"detail"`
}

// ParseClientFrame decodes one inbound frame into its concrete type.
func ParseClientFrame(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeCommand:
		var m ClientCommand
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeButton:
		var m ClientButton
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeText:
		var m ClientText
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeFile:
		var m ClientFile
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
