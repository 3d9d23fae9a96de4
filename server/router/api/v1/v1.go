// Package v1 exposes the HTTP API: chat generation with a resumable SSE
// stream, stream resumption, and chat listing.
package v1

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/hrygo/deepsearch/ai/agent"
	"github.com/hrygo/deepsearch/ai/metrics"
	"github.com/hrygo/deepsearch/ai/tracing"
	"github.com/hrygo/deepsearch/internal/profile"
	"github.com/hrygo/deepsearch/server/auth"
	"github.com/hrygo/deepsearch/store"
	"github.com/hrygo/deepsearch/stream"
)

// ChatStore is the slice of the store the handlers need. Narrow so tests can
// substitute an in-package mock.
type ChatStore interface {
	UpsertChat(ctx context.Context, upsert *store.UpsertChat) (*store.Chat, error)
	GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error)
	ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error)
	CheckChatOwnership(ctx context.Context, userID, chatID string) error
	CreateStream(ctx context.Context, create *store.Stream) (*store.Stream, error)
	ListStreams(ctx context.Context, userID, chatID string) ([]*store.Stream, error)
}

// Generator runs one chat generation into a stream channel.
type Generator interface {
	Run(ctx context.Context, req *agent.Request, w *stream.Writer) error
}

// APIV1Service wires the chat pipeline to HTTP routes.
type APIV1Service struct {
	Profile      *profile.Profile
	Store        ChatStore
	Broker       *stream.Broker
	Generator    Generator
	AuthProvider auth.Provider
	Tracer       *tracing.Tracer
	Exporter     *metrics.PrometheusExporter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAPIV1Service creates the API service. Tracer must not be nil (use the
// disabled form); Exporter may be nil.
func NewAPIV1Service(profile *profile.Profile, chatStore ChatStore, broker *stream.Broker, generator Generator, authProvider auth.Provider, tracer *tracing.Tracer, exporter *metrics.PrometheusExporter) *APIV1Service {
	return &APIV1Service{
		Profile:      profile,
		Store:        chatStore,
		Broker:       broker,
		Generator:    generator,
		AuthProvider: authProvider,
		Tracer:       tracer,
		Exporter:     exporter,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// RegisterRoutes registers all v1 routes on the echo group.
func (s *APIV1Service) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.POST("/chat", s.CreateChatStream)
	apiGroup.GET("/chat", s.ResumeChatStream)
	apiGroup.GET("/chats", s.ListChats)
	apiGroup.GET("/chats/:chatId", s.GetChat)
}

// limiter returns the per-user chat rate limiter: one generation per second
// sustained with burst headroom, enough for a human client and cheap to keep
// in memory.
func (s *APIV1Service) limiter(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 5)
		s.limiters[userID] = limiter
	}
	return limiter
}
