package engine

// Kind discriminates normalized inbound events.
type Kind string

const (
	KindCommand Kind = "command"
	KindButton  Kind = "button"
	KindFile    Kind = "file"
	KindText    Kind = "text"
)

// Event is one normalized inbound chat event. Transports construct
// these; the engine never sees transport-specific update types.
type Event interface {
	Conversation() string
	Kind() Kind
}

// Command is a slash command without the leading slash, e.g. "start".
type Command struct {
	ConversationID string
	Name           string
}

func (c Command) Conversation() string { return c.ConversationID }
func (c Command) Kind() Kind           { return KindCommand }

// ButtonPress is a menu button selection by token.
type ButtonPress struct {
	ConversationID string
	Token          string
}

func (b ButtonPress) Conversation() string { return b.ConversationID }
func (b ButtonPress) Kind() Kind           { return KindButton }

// FileUpload carries the bytes of an uploaded document along with the
// name and size the transport declared for it.
type FileUpload struct {
	ConversationID string
	DeclaredName   string
	DeclaredSize   int64
	Data           []byte
}

func (f FileUpload) Conversation() string { return f.ConversationID }
func (f FileUpload) Kind() Kind           { return KindFile }

// TextMessage is a free-text chat message.
type TextMessage struct {
	ConversationID string
	Text           string
}

func (t TextMessage) Conversation() string { return t.ConversationID }
func (t TextMessage) Kind() Kind           { return KindText }
