package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/internal/profile"
	"github.com/hrygo/deepsearch/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache for ownership lookups; invalidated on every write.
	chatCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		chatCache: cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.chatCache.Close()
	return s.driver.Close()
}

// UpsertChat creates the chat on first write and fully replaces its message
// list afterwards. Positions are reassigned 0..n-1 inside one transaction so
// a concurrent reader never observes a chat with zero messages.
func (s *Store) UpsertChat(ctx context.Context, upsert *UpsertChat) (*Chat, error) {
	if upsert.ChatID == "" {
		return nil, errors.New("chat id required")
	}
	if upsert.UserID == "" {
		return nil, errors.New("user id required")
	}

	chat, err := s.driver.UpsertChat(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.chatCache.Delete(chatCacheKey(upsert.ChatID))
	return chat, nil
}

// GetChat returns the chat with messages in position order, or ErrNotFound
// when the chat is absent or owned by a different user.
func (s *Store) GetChat(ctx context.Context, find *FindChat) (*Chat, error) {
	chat, err := s.driver.GetChat(ctx, find)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrNotFound
	}
	return chat, nil
}

// ListChats returns the user's chats, most recently updated first. Messages
// are not populated.
func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

// CheckChatOwnership verifies that chatID exists and is owned by userID.
// Returns ErrNotFound otherwise. Positive results are cached briefly since
// ownership never changes once established.
func (s *Store) CheckChatOwnership(ctx context.Context, userID, chatID string) error {
	if owner, ok := s.chatCache.Get(chatCacheKey(chatID)); ok {
		if owner == userID {
			return nil
		}
		return ErrNotFound
	}

	chat, err := s.driver.GetChat(ctx, &FindChat{ChatID: chatID})
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrNotFound
	}
	s.chatCache.Set(chatCacheKey(chatID), chat.UserID, 0)
	if chat.UserID != userID {
		return ErrNotFound
	}
	return nil
}

// CreateStream records a new generation attempt for the chat and returns the
// generated stream id.
func (s *Store) CreateStream(ctx context.Context, create *Stream) (*Stream, error) {
	if create.ChatID == "" {
		return nil, errors.New("chat id required")
	}
	return s.driver.CreateStream(ctx, create)
}

// ListStreams returns the chat's streams in creation order (oldest first),
// after verifying that userID owns the chat. The caller derives the most
// recent stream as the last element.
func (s *Store) ListStreams(ctx context.Context, userID, chatID string) ([]*Stream, error) {
	if err := s.CheckChatOwnership(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.driver.ListStreams(ctx, &FindStream{ChatID: chatID})
}

func chatCacheKey(chatID string) string {
	return "chat-owner:" + chatID
}
