package v1

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/ai/agent"
	"github.com/hrygo/deepsearch/server/auth"
	"github.com/hrygo/deepsearch/store"
	"github.com/hrygo/deepsearch/stream"
)

type chatMessage struct {
	Role    string              `json:"role"`
	Content string              `json:"content,omitempty"`
	Parts   []store.MessagePart `json:"parts,omitempty"`
}

type createChatStreamRequest struct {
	ChatID    string        `json:"chatId"`
	IsNewChat bool          `json:"isNewChat"`
	Messages  []chatMessage `json:"messages"`
}

// CreateChatStream handles POST /api/v1/chat: it starts a generation whose
// producer is detached from this connection and streams its events as SSE.
func (s *APIV1Service) CreateChatStream(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		return err
	}
	if !s.limiter(user.ID).Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many chat requests")
	}

	request := &createChatStreamRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if request.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId is required")
	}
	messages, err := toStoreMessages(request.Messages)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if request.IsNewChat {
		// Write the chat up front so the user's message survives a failed
		// generation. The orchestrator overwrites it with the full merge.
		_, err := s.Store.UpsertChat(ctx, &store.UpsertChat{
			UserID:   user.ID,
			ChatID:   request.ChatID,
			Title:    agent.ChatTitle(lastUserText(messages)),
			Messages: messages,
		})
		if errors.Is(err, store.ErrOwnershipConflict) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		if err != nil {
			return errors.Wrap(err, "failed to create chat")
		}
	} else {
		err := s.Store.CheckChatOwnership(ctx, user.ID, request.ChatID)
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		if err != nil {
			return errors.Wrap(err, "failed to check chat ownership")
		}
	}

	streamID := uuid.NewString()
	if _, err := s.Store.CreateStream(ctx, &store.Stream{ID: streamID, ChatID: request.ChatID}); err != nil {
		return errors.Wrap(err, "failed to register stream")
	}

	// The producer must outlive this connection: bound by the generation
	// timeout, not by the client.
	timeout := time.Duration(s.Profile.GenerationTimeoutSeconds) * time.Second
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	sub := s.Broker.Produce(genCtx, streamID, func(ctx context.Context, w *stream.Writer) error {
		defer cancel()
		return s.Generator.Run(ctx, &agent.Request{
			UserID:    user.ID,
			ChatID:    request.ChatID,
			IsNewChat: request.IsNewChat,
			Messages:  messages,
		}, w)
	})

	slog.Info("chat stream started",
		"user_id", user.ID,
		"chat_id", request.ChatID,
		"stream_id", streamID,
		"is_new_chat", request.IsNewChat,
	)
	return s.pump(c, sub)
}

// ResumeChatStream handles GET /api/v1/chat?chatId=: it re-attaches to the
// most recent stream of the chat, or falls back to persisted state when the
// channel is gone.
func (s *APIV1Service) ResumeChatStream(c echo.Context) error {
	// Authenticate before touching the store or tracing.
	user, err := s.authenticate(c)
	if err != nil {
		return err
	}
	chatID := c.QueryParam("chatId")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId is required")
	}

	ctx := c.Request().Context()
	if err := s.Store.CheckChatOwnership(ctx, user.ID, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		return errors.Wrap(err, "failed to check chat ownership")
	}

	trace := s.Tracer.StartTrace("stream-resumption", user.ID, chatID, map[string]any{"chat_id": chatID})
	defer s.Tracer.FlushAsync()
	defer trace.End()

	streams, err := s.Store.ListStreams(ctx, user.ID, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		return errors.Wrap(err, "failed to list streams")
	}
	if len(streams) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no stream found for chat")
	}
	recent := streams[len(streams)-1]

	if sub, ok := s.Broker.Resume(recent.ID); ok {
		s.recordResume("live")
		trace.SetOutput(map[string]any{"action": "resumed-live-stream", "stream_id": recent.ID})
		slog.Info("chat stream resumed", "user_id", user.ID, "chat_id", chatID, "stream_id", recent.ID)
		return s.pump(c, sub)
	}

	// Channel expired or the process restarted. Serve what is persisted.
	chat, err := s.Store.GetChat(ctx, &store.FindChat{UserID: user.ID, ChatID: chatID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chat not found")
		}
		return errors.Wrap(err, "failed to get chat")
	}

	events := []*agent.Event{}
	if last := lastMessage(chat); last != nil && last.Role == store.RoleAssistant {
		raw, err := json.Marshal(toChatMessage(last))
		if err != nil {
			return errors.Wrap(err, "failed to encode message")
		}
		events = append(events, &agent.Event{Type: agent.EventAppendMessage, Message: raw})
		s.recordResume("fallback")
		trace.SetOutput(map[string]any{"action": "restored-stream", "stream_id": recent.ID})
	} else {
		s.recordResume("empty")
		trace.SetOutput(map[string]any{"action": "empty-stream", "stream_id": recent.ID})
	}
	events = append(events, &agent.Event{Type: agent.EventDone})

	return s.writeEvents(c, events)
}

// pump copies a stream subscription onto the SSE response until the channel
// finishes or the client disconnects.
func (s *APIV1Service) pump(c echo.Context, sub *stream.Subscription) error {
	flusher, err := s.startSSE(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	for {
		chunk, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Client went away; the producer keeps going.
			slog.Debug("sse client disconnected", "error", err)
			return nil
		}
		if _, err := c.Response().Write(formatFrame(chunk)); err != nil {
			slog.Debug("sse write failed", "error", err)
			return nil
		}
		flusher.Flush()
	}
}

func (s *APIV1Service) writeEvents(c echo.Context, events []*agent.Event) error {
	flusher, err := s.startSSE(c)
	if err != nil {
		return err
	}
	for _, event := range events {
		chunk, err := event.Encode()
		if err != nil {
			return err
		}
		if _, err := c.Response().Write(formatFrame(chunk)); err != nil {
			return nil
		}
		flusher.Flush()
	}
	return nil
}

func (s *APIV1Service) startSSE(c echo.Context) (http.Flusher, error) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	return flusher, nil
}

func formatFrame(chunk []byte) []byte {
	frame := make([]byte, 0, len(chunk)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, chunk...)
	frame = append(frame, "\n\n"...)
	return frame
}

func (s *APIV1Service) authenticate(c echo.Context) (*auth.User, error) {
	user, err := s.AuthProvider.Authenticate(auth.TokenFromRequest(c.Request()))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return user, nil
}

func (s *APIV1Service) recordResume(outcome string) {
	if s.Exporter != nil {
		s.Exporter.RecordResume(outcome)
	}
}

func toStoreMessages(messages []chatMessage) ([]*store.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages must not be empty")
	}

	converted := make([]*store.Message, 0, len(messages))
	hasUser := false
	for _, m := range messages {
		role := store.Role(m.Role)
		switch role {
		case store.RoleUser:
			hasUser = true
		case store.RoleAssistant:
		default:
			return nil, errors.Errorf("unsupported message role: %q", m.Role)
		}

		parts := m.Parts
		if len(parts) == 0 && m.Content != "" {
			parts = []store.MessagePart{store.TextPart(m.Content)}
		}
		converted = append(converted, &store.Message{Role: role, Parts: parts})
	}
	if !hasUser {
		return nil, errors.New("messages must contain a user message")
	}
	return converted, nil
}

func toChatMessage(m *store.Message) chatMessage {
	return chatMessage{
		Role:    string(m.Role),
		Content: m.Text(),
		Parts:   m.Parts,
	}
}

func lastMessage(chat *store.Chat) *store.Message {
	if len(chat.Messages) == 0 {
		return nil
	}
	return chat.Messages[len(chat.Messages)-1]
}

func lastUserText(messages []*store.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
