package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/store"
)

type chatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type chatDetail struct {
	chatSummary
	Messages []chatMessage `json:"messages"`
}

// ListChats handles GET /api/v1/chats: the user's chats, most recently
// updated first, without messages.
func (s *APIV1Service) ListChats(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		return err
	}

	chats, err := s.Store.ListChats(c.Request().Context(), &store.FindChat{UserID: user.ID})
	if err != nil {
		return errors.Wrap(err, "failed to list chats")
	}

	summaries := make([]chatSummary, 0, len(chats))
	for _, chat := range chats {
		summaries = append(summaries, toChatSummary(chat))
	}
	return c.JSON(http.StatusOK, summaries)
}

// GetChat handles GET /api/v1/chats/:chatId: the full chat with its messages
// in position order.
func (s *APIV1Service) GetChat(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		return err
	}
	chatID := c.Param("chatId")

	chat, err := s.Store.GetChat(c.Request().Context(), &store.FindChat{UserID: user.ID, ChatID: chatID})
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if err != nil {
		return errors.Wrap(err, "failed to get chat")
	}

	detail := chatDetail{
		chatSummary: toChatSummary(chat),
		Messages:    make([]chatMessage, 0, len(chat.Messages)),
	}
	for _, message := range chat.Messages {
		detail.Messages = append(detail.Messages, toChatMessage(message))
	}
	return c.JSON(http.StatusOK, detail)
}

func toChatSummary(chat *store.Chat) chatSummary {
	return chatSummary{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedTs: chat.CreatedTs,
		UpdatedTs: chat.UpdatedTs,
	}
}
