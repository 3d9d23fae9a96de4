package agent

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/deepsearch/ai/llm"
	"github.com/hrygo/deepsearch/ai/search"
	"github.com/hrygo/deepsearch/ai/tracing"
	"github.com/hrygo/deepsearch/store"
	"github.com/hrygo/deepsearch/stream"
)

type mockStep struct {
	deltas []string
	result *llm.StepResult
	err    error
}

type mockLLM struct {
	mu    sync.Mutex
	steps []mockStep
	seen  [][]llm.Message
}

func (m *mockLLM) StreamStep(ctx context.Context, messages []llm.Message, tools []llm.ToolDescriptor) (<-chan string, <-chan *llm.StepResult, <-chan error) {
	m.mu.Lock()
	m.seen = append(m.seen, messages)
	var step mockStep
	if len(m.steps) > 0 {
		step, m.steps = m.steps[0], m.steps[1:]
	}
	m.mu.Unlock()

	contentChan := make(chan string, len(step.deltas))
	stepChan := make(chan *llm.StepResult, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(stepChan)
		defer close(errChan)
		for _, delta := range step.deltas {
			contentChan <- delta
		}
		if step.err != nil {
			errChan <- step.err
			return
		}
		stepChan <- step.result
	}()
	return contentChan, stepChan, errChan
}

type mockSearch struct {
	mu      sync.Mutex
	queries []string
	results []search.Result
	err     error
}

func (m *mockSearch) Search(ctx context.Context, query string, num int) ([]search.Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockChatStore struct {
	mu      sync.Mutex
	upserts []*store.UpsertChat
	err     error
}

func (m *mockChatStore) UpsertChat(ctx context.Context, upsert *store.UpsertChat) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.upserts = append(m.upserts, upsert)
	return &store.Chat{ID: upsert.ChatID, UserID: upsert.UserID, Title: upsert.Title}, nil
}

func userMessage(text string) *store.Message {
	return &store.Message{Role: store.RoleUser, Parts: []store.MessagePart{store.TextPart(text)}}
}

func runGeneration(t *testing.T, orc *Orchestrator, req *Request) ([]*Event, error) {
	t.Helper()
	broker := stream.NewBroker(stream.Config{Retention: time.Minute, CleanupInterval: time.Minute})
	t.Cleanup(broker.Close)

	errCh := make(chan error, 1)
	sub := broker.Produce(context.Background(), "test-stream", func(ctx context.Context, w *stream.Writer) error {
		err := orc.Run(ctx, req, w)
		errCh <- err
		return err
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := []*Event{}
	for {
		chunk, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		event, err := DecodeEvent(chunk)
		require.NoError(t, err)
		events = append(events, event)
	}
	return events, <-errCh
}

func eventTypes(events []*Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func newTestOrchestrator(llmSvc llm.Service, searchSvc search.Service, chatStore ChatStore) *Orchestrator {
	return New(llmSvc, searchSvc, chatStore, tracing.New(nil), nil, Config{Model: "test-model"})
}

func TestRunSingleStep(t *testing.T) {
	llmSvc := &mockLLM{steps: []mockStep{{
		deltas: []string{"Hello, ", "world"},
		result: &llm.StepResult{Content: "Hello, world", FinishReason: "stop"},
	}}}
	chatStore := &mockChatStore{}
	orc := newTestOrchestrator(llmSvc, &mockSearch{}, chatStore)

	events, err := runGeneration(t, orc, &Request{
		UserID:   "user-1",
		ChatID:   "chat-1",
		Messages: []*store.Message{userMessage("say hello")},
	})
	require.NoError(t, err)
	require.Equal(t, []EventType{EventToken, EventToken, EventDone}, eventTypes(events))
	require.Equal(t, "Hello, ", events[0].Delta)

	require.Len(t, chatStore.upserts, 1)
	upsert := chatStore.upserts[0]
	require.Equal(t, "say hello", upsert.Title)
	require.Len(t, upsert.Messages, 2)
	assistant := upsert.Messages[1]
	require.Equal(t, store.RoleAssistant, assistant.Role)
	require.Equal(t, "Hello, world", assistant.Text())

	// The system prompt leads every model call.
	require.Len(t, llmSvc.seen, 1)
	require.Equal(t, "system", llmSvc.seen[0][0].Role)
}

func TestRunNewChatEmitsFirstFrame(t *testing.T) {
	llmSvc := &mockLLM{steps: []mockStep{{
		result: &llm.StepResult{Content: "hi", FinishReason: "stop"},
	}}}
	orc := newTestOrchestrator(llmSvc, &mockSearch{}, &mockChatStore{})

	events, err := runGeneration(t, orc, &Request{
		UserID:    "user-1",
		ChatID:    "chat-new",
		IsNewChat: true,
		Messages:  []*store.Message{userMessage("hello")},
	})
	require.NoError(t, err)
	require.Equal(t, EventNewChatCreated, events[0].Type)
	require.Equal(t, "chat-new", events[0].ChatID)
}

func TestRunWithToolCall(t *testing.T) {
	llmSvc := &mockLLM{steps: []mockStep{
		{
			result: &llm.StepResult{
				ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "searchWeb", Argument: `{"query":"go 1.25 release"}`}},
			},
		},
		{
			deltas: []string{"Go 1.25 shipped ([source](https://go.dev/blog))"},
			result: &llm.StepResult{Content: "Go 1.25 shipped ([source](https://go.dev/blog))", FinishReason: "stop"},
		},
	}}
	searchSvc := &mockSearch{results: []search.Result{
		{Title: "Go 1.25", Link: "https://go.dev/blog", Snippet: "released"},
	}}
	chatStore := &mockChatStore{}
	orc := newTestOrchestrator(llmSvc, searchSvc, chatStore)

	events, err := runGeneration(t, orc, &Request{
		UserID:   "user-1",
		ChatID:   "chat-1",
		Messages: []*store.Message{userMessage("what is new in go 1.25")},
	})
	require.NoError(t, err)
	require.Equal(t, []EventType{EventToolCall, EventToolCall, EventToken, EventDone}, eventTypes(events))

	require.Equal(t, "searchWeb", events[0].ToolName)
	require.NotNil(t, events[0].Args)
	require.Nil(t, events[0].Result)
	require.NotNil(t, events[1].Result)

	require.Equal(t, []string{"go 1.25 release"}, searchSvc.queries)

	// Second model call carries the assistant tool call and its result.
	require.Len(t, llmSvc.seen, 2)
	second := llmSvc.seen[1]
	last := second[len(second)-1]
	require.Equal(t, "tool", last.Role)
	require.Equal(t, "call_1", last.ToolCallID)
	var results []search.Result
	require.NoError(t, json.Unmarshal([]byte(last.Content), &results))
	require.Len(t, results, 1)

	require.Len(t, chatStore.upserts, 1)
	assistant := chatStore.upserts[0].Messages[1]
	require.Len(t, assistant.Parts, 3)
	require.Equal(t, store.PartTypeToolCall, assistant.Parts[0].Type)
	require.Equal(t, store.PartTypeToolResult, assistant.Parts[1].Type)
	require.Equal(t, store.PartTypeText, assistant.Parts[2].Type)
}

func TestRunSearchFailureFeedsErrorBack(t *testing.T) {
	llmSvc := &mockLLM{steps: []mockStep{
		{result: &llm.StepResult{
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "searchWeb", Argument: `{"query":"x"}`}},
		}},
		{result: &llm.StepResult{Content: "could not search", FinishReason: "stop"}},
	}}
	orc := newTestOrchestrator(llmSvc, &mockSearch{err: errors.New("quota exceeded")}, &mockChatStore{})

	events, err := runGeneration(t, orc, &Request{
		UserID:   "user-1",
		ChatID:   "chat-1",
		Messages: []*store.Message{userMessage("x")},
	})
	require.NoError(t, err)
	require.Equal(t, EventDone, events[len(events)-1].Type)

	second := llmSvc.seen[1]
	last := second[len(second)-1]
	require.Contains(t, last.Content, "search failed")
}

func TestRunLLMErrorEmitsErrorEvent(t *testing.T) {
	llmSvc := &mockLLM{steps: []mockStep{{err: errors.New("model unavailable")}}}
	chatStore := &mockChatStore{}
	orc := newTestOrchestrator(llmSvc, &mockSearch{}, chatStore)

	events, err := runGeneration(t, orc, &Request{
		UserID:   "user-1",
		ChatID:   "chat-1",
		Messages: []*store.Message{userMessage("hello")},
	})
	require.Error(t, err)
	require.Equal(t, []EventType{EventError}, eventTypes(events))
	require.Empty(t, chatStore.upserts)
}

func TestRunStopsAtStepBound(t *testing.T) {
	// Every step asks for another tool call; the loop must terminate anyway.
	steps := make([]mockStep, 0, 12)
	for i := 0; i < 12; i++ {
		steps = append(steps, mockStep{result: &llm.StepResult{
			ToolCalls: []llm.ToolCall{{ID: "call", Name: "searchWeb", Argument: `{"query":"again"}`}},
		}})
	}
	llmSvc := &mockLLM{steps: steps}
	orc := newTestOrchestrator(llmSvc, &mockSearch{}, &mockChatStore{})

	events, err := runGeneration(t, orc, &Request{
		UserID:   "user-1",
		ChatID:   "chat-1",
		Messages: []*store.Message{userMessage("loop")},
	})
	require.NoError(t, err)
	require.Len(t, llmSvc.seen, defaultMaxSteps)
	require.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestChatTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "hello", "hello"},
		{"exact", "0123456789012345678901234567890123456789012345678", "0123456789012345678901234567890123456789012345678"},
		{"truncated", "0123456789012345678901234567890123456789012345678901234", "01234567890123456789012345678901234567890123456789..."},
		{"multibyte", "宇宙の始まりについて教えてください", "宇宙の始まりについて教えてください"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ChatTitle(tt.in))
		})
	}
}

func TestAuditCitations(t *testing.T) {
	tests := []struct {
		name         string
		answer       string
		wantLinks    int
		wantBareURLs int
	}{
		{
			name:      "proper citations",
			answer:    "Go 1.25 shipped ([release notes](https://go.dev/doc/go1.25)) with [green tea GC](https://go.dev/blog/gc).",
			wantLinks: 2,
		},
		{
			name:         "bare url in text",
			answer:       "See https://go.dev/doc for details.",
			wantBareURLs: 1,
		},
		{
			name:         "autolink",
			answer:       "See <https://go.dev/doc> for details.",
			wantBareURLs: 1,
		},
		{
			name:   "no links at all",
			answer: "Generics arrived in Go 1.18.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := auditCitations(tt.answer)
			require.Equal(t, tt.wantLinks, report.Links)
			require.Equal(t, tt.wantBareURLs, report.BareURLs)
		})
	}
}
