package agent

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType tags the variants of the chat stream protocol. The set is
// closed; clients switch on it exhaustively.
type EventType string

const (
	// EventNewChatCreated is always the first frame of a generation that
	// created its chat, carrying the server-assigned chat id.
	EventNewChatCreated EventType = "NEW_CHAT_CREATED"

	// EventToken carries one assistant text delta.
	EventToken EventType = "token"

	// EventToolCall reports tool progress: first with the arguments when
	// the call starts, then again with the result when it completes.
	EventToolCall EventType = "tool-call"

	// EventAppendMessage carries a fully persisted message, used when a
	// resume finds no live channel but the answer is already stored.
	EventAppendMessage EventType = "append-message"

	// EventError is terminal; no frames follow it.
	EventError EventType = "error"

	// EventDone is the terminal frame of a successful generation.
	EventDone EventType = "done"
)

// Event is one frame of the chat stream.
type Event struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chatId,omitempty"`

	// token
	Delta string `json:"delta,omitempty"`

	// tool-call
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// append-message
	Message json.RawMessage `json:"message,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Encode renders the event as one stream chunk.
func (e *Event) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode stream event")
	}
	return raw, nil
}

// DecodeEvent parses one stream chunk, for tests and clients.
func DecodeEvent(raw []byte) (*Event, error) {
	event := &Event{}
	if err := json.Unmarshal(raw, event); err != nil {
		return nil, errors.Wrap(err, "failed to decode stream event")
	}
	return event, nil
}
