// Package agent runs chat generations: a bounded tool loop around a
// streaming LLM, with web search as the single tool, emitting protocol
// events into a resumable stream channel and persisting the merged
// conversation when generation ends.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/ai/llm"
	"github.com/hrygo/deepsearch/ai/metrics"
	"github.com/hrygo/deepsearch/ai/search"
	"github.com/hrygo/deepsearch/ai/tracing"
	"github.com/hrygo/deepsearch/store"
	"github.com/hrygo/deepsearch/stream"
)

const (
	defaultMaxSteps      = 10
	defaultSearchResults = 10
	searchToolName       = "searchWeb"
)

const searchToolSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The query to search the web for"
		}
	},
	"required": ["query"]
}`

// ChatStore is the slice of the chat store the orchestrator needs.
type ChatStore interface {
	UpsertChat(ctx context.Context, upsert *store.UpsertChat) (*store.Chat, error)
}

// Config configures an Orchestrator.
type Config struct {
	// Model is recorded on traces; the llm service already knows it.
	Model string

	// MaxSteps bounds the tool loop (default: 10).
	MaxSteps int

	// SearchResults caps results per search call (default: 10).
	SearchResults int
}

// Orchestrator drives one generation per Run call. It is stateless across
// runs and safe for concurrent use.
type Orchestrator struct {
	llmService    llm.Service
	searchService search.Service
	chatStore     ChatStore
	tracer        *tracing.Tracer
	exporter      *metrics.PrometheusExporter

	model         string
	maxSteps      int
	searchResults int
}

// New creates an orchestrator. exporter may be nil; tracer must not be
// (a disabled tracer is the no-op form).
func New(llmService llm.Service, searchService search.Service, chatStore ChatStore, tracer *tracing.Tracer, exporter *metrics.PrometheusExporter, cfg Config) *Orchestrator {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	searchResults := cfg.SearchResults
	if searchResults <= 0 {
		searchResults = defaultSearchResults
	}

	return &Orchestrator{
		llmService:    llmService,
		searchService: searchService,
		chatStore:     chatStore,
		tracer:        tracer,
		exporter:      exporter,
		model:         cfg.Model,
		maxSteps:      maxSteps,
		searchResults: searchResults,
	}
}

// Request describes one generation.
type Request struct {
	UserID    string
	ChatID    string
	IsNewChat bool

	// Messages is the full conversation including the new user message.
	Messages []*store.Message
}

// Run produces the whole generation into w. It is designed to be the
// producer of a stream channel: the caller detaches it from the client
// connection and bounds it with its own context.
func (o *Orchestrator) Run(ctx context.Context, req *Request, w *stream.Writer) error {
	startTime := time.Now()
	status := "ok"
	if o.exporter != nil {
		o.exporter.GenerationStarted()
		defer o.exporter.GenerationFinished()
		defer func() { o.exporter.RecordChatRequest(status, time.Since(startTime)) }()
	}

	trace := o.tracer.StartTrace("chat", req.UserID, req.ChatID, map[string]any{
		"is_new_chat":   req.IsNewChat,
		"message_count": len(req.Messages),
	})
	defer o.tracer.FlushAsync()
	defer trace.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.IsNewChat {
		if err := o.publish(w, &Event{Type: EventNewChatCreated, ChatID: req.ChatID}); err != nil {
			status = "error"
			return err
		}
	}

	answer, parts, err := o.generate(ctx, req, w, trace)
	if err != nil {
		status = "error"
		// The failure reaches the client in-stream; late resumers replay
		// the buffered prefix up to and including this frame.
		_ = o.publish(w, &Event{Type: EventError, Error: "generation failed"})
		return err
	}

	report := auditCitations(answer)
	if report.BareURLs > 0 || report.Links == 0 {
		slog.Warn("answer cites poorly",
			"chat_id", req.ChatID,
			"links", report.Links,
			"bare_urls", report.BareURLs,
		)
	}
	trace.SetOutput(map[string]any{
		"answer":    answer,
		"citations": report,
	})

	o.persist(ctx, req, parts)

	if err := o.publish(w, &Event{Type: EventDone}); err != nil {
		status = "error"
		return err
	}

	slog.Info("chat generation finished",
		"chat_id", req.ChatID,
		"user_id", req.UserID,
		"duration_ms", time.Since(startTime).Milliseconds(),
		"links", report.Links,
	)
	return nil
}

// generate runs the tool loop. It returns the final answer text plus the
// message parts (text, tool calls, tool results) accumulated along the way.
func (o *Orchestrator) generate(ctx context.Context, req *Request, w *stream.Writer, trace *tracing.Trace) (string, []store.MessagePart, error) {
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.SystemPrompt(systemPrompt(time.Now())))
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Text()})
	}

	tools := []llm.ToolDescriptor{{
		Name:        searchToolName,
		Description: "Search the web for up-to-date information",
		Parameters:  searchToolSchema,
	}}

	answer := ""
	parts := []store.MessagePart{}

	for step := 0; step < o.maxSteps; step++ {
		contentChan, stepChan, errChan := o.llmService.StreamStep(ctx, messages, tools)

		for delta := range contentChan {
			if err := o.publish(w, &Event{Type: EventToken, Delta: delta}); err != nil {
				cancelAndDrain(stepChan, errChan)
				return "", nil, err
			}
		}

		result, ok := <-stepChan
		if !ok || result == nil {
			err := <-errChan
			if err == nil {
				err = errors.New("llm stream ended without a result")
			}
			return "", nil, err
		}

		if result.Stats != nil {
			if o.exporter != nil {
				o.exporter.RecordTokens(result.Stats.PromptTokens, result.Stats.CompletionTokens)
			}
			trace.AddGeneration("chat-step", o.model, len(messages), result.Content, &tracing.Usage{
				Input:  result.Stats.PromptTokens,
				Output: result.Stats.CompletionTokens,
				Total:  result.Stats.TotalTokens,
			})
		}

		if result.Content != "" {
			answer += result.Content
			parts = append(parts, store.TextPart(result.Content))
		}

		if len(result.ToolCalls) == 0 {
			return answer, parts, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: result.Content, ToolCalls: result.ToolCalls})
		for _, call := range result.ToolCalls {
			toolParts, resultJSON := o.executeSearch(ctx, w, trace, call)
			parts = append(parts, toolParts...)
			messages = append(messages, llm.ToolResultMessage(call.ID, string(resultJSON)))
		}
	}

	slog.Warn("tool loop hit step bound", "chat_id", req.ChatID, "max_steps", o.maxSteps)
	return answer, parts, nil
}

// executeSearch runs one searchWeb call. Failures are fed back to the model
// as an error payload rather than aborting the generation.
func (o *Orchestrator) executeSearch(ctx context.Context, w *stream.Writer, trace *tracing.Trace, call llm.ToolCall) ([]store.MessagePart, json.RawMessage) {
	args := json.RawMessage(call.Argument)
	_ = o.publish(w, &Event{Type: EventToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: args})

	var parsed struct {
		Query string `json:"query"`
	}
	var resultJSON json.RawMessage
	toolStatus := "ok"

	if err := json.Unmarshal(args, &parsed); err != nil || parsed.Query == "" {
		toolStatus = "error"
		resultJSON = errorResult("invalid searchWeb arguments")
	} else if call.Name != searchToolName {
		toolStatus = "error"
		resultJSON = errorResult("unknown tool: " + call.Name)
	} else {
		results, err := o.searchService.Search(ctx, parsed.Query, o.searchResults)
		if err != nil {
			slog.Warn("web search failed", "query", parsed.Query, "error", err)
			toolStatus = "error"
			resultJSON = errorResult("search failed")
		} else {
			resultJSON, _ = json.Marshal(results)
		}
	}

	if o.exporter != nil {
		o.exporter.RecordToolCall(call.Name, toolStatus)
	}
	trace.AddSpan(call.Name, args, resultJSON)

	_ = o.publish(w, &Event{Type: EventToolCall, ToolCallID: call.ID, ToolName: call.Name, Result: resultJSON})

	return []store.MessagePart{
		{Type: store.PartTypeToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: args},
		{Type: store.PartTypeToolResult, ToolCallID: call.ID, ToolName: call.Name, Result: resultJSON},
	}, resultJSON
}

// persist writes the merged conversation. Chunks already delivered are never
// unwound, so a store failure here only logs.
func (o *Orchestrator) persist(ctx context.Context, req *Request, parts []store.MessagePart) {
	messages := make([]*store.Message, 0, len(req.Messages)+1)
	messages = append(messages, req.Messages...)
	messages = append(messages, &store.Message{Role: store.RoleAssistant, Parts: parts})

	title := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == store.RoleUser {
			title = ChatTitle(req.Messages[i].Text())
			break
		}
	}

	if _, err := o.chatStore.UpsertChat(ctx, &store.UpsertChat{
		UserID:   req.UserID,
		ChatID:   req.ChatID,
		Title:    title,
		Messages: messages,
	}); err != nil {
		slog.Error("failed to persist chat", "chat_id", req.ChatID, "error", err)
	}
}

func (o *Orchestrator) publish(w *stream.Writer, event *Event) error {
	chunk, err := event.Encode()
	if err != nil {
		return err
	}
	return w.Publish(chunk)
}

func errorResult(message string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": message})
	return raw
}

// cancelAndDrain lets the llm goroutine finish after an aborted forward.
func cancelAndDrain(stepChan <-chan *llm.StepResult, errChan <-chan error) {
	go func() {
		<-stepChan
		<-errChan
	}()
}
