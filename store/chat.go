package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced by the chat store. Handlers map both to HTTP 404 so
// that probing for foreign chat ids cannot distinguish "absent" from "owned by
// someone else".
var (
	// ErrNotFound is returned when a chat does not exist or is not visible
	// to the requesting user.
	ErrNotFound = errors.New("chat not found")

	// ErrOwnershipConflict is returned when a chat id already exists under a
	// different user. A chat id is permanently bound to its first owner.
	ErrOwnershipConflict = errors.New("chat id already exists under a different user")
)

// Role is the author role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message part types.
const (
	PartTypeText       = "text"
	PartTypeToolCall   = "tool-call"
	PartTypeToolResult = "tool-result"
)

// MessagePart is one structured content unit of a message. Parts are stored
// as a JSON array in a single column; the store does not interpret them.
type MessagePart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// TextPart builds a plain text message part.
func TextPart(text string) MessagePart {
	return MessagePart{Type: PartTypeText, Text: text}
}

type Message struct {
	ID     int32
	ChatID string
	Role   Role
	// Content is intentionally empty when loading from storage; the payload
	// lives in Parts. The field exists because downstream message consumers
	// require it to be present.
	Content   string        `json:"content"`
	Parts     []MessagePart `json:"parts"`
	Position  int32
	CreatedTs int64
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	out := ""
	for _, part := range m.Parts {
		if part.Type == PartTypeText {
			out += part.Text
		}
	}
	return out
}

type Chat struct {
	// ID is client-supplied and globally unique.
	ID        string
	UserID    string
	Title     string
	CreatedTs int64
	UpdatedTs int64

	// Messages is populated in position order by GetChat; nil for list results.
	Messages []*Message
}

// UpsertChat replaces the full state of a chat: the existing message list is
// deleted and the given one inserted with positions reassigned 0..n-1.
type UpsertChat struct {
	UserID   string
	ChatID   string
	Title    string
	Messages []*Message
}

type FindChat struct {
	UserID string
	ChatID string
}
