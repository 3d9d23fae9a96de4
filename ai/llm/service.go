// Package llm wraps the OpenAI-compatible chat completion API behind a small
// streaming interface. Any provider speaking the OpenAI wire format works;
// the provider only selects the default base URL.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
}

// ToolDescriptor represents a function/tool available to the LLM.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  string // JSON Schema string
}

// ToolCall represents a request to call a tool.
type ToolCall struct {
	ID       string
	Name     string
	Argument string // raw JSON arguments
}

// CallStats represents token usage and timing for a single LLM call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// StepResult is the final state of one streamed completion: the full
// assistant text, any tool calls the model requested, and usage stats.
type StepResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Stats        *CallStats
}

// Service is the LLM service interface.
type Service interface {
	// StreamStep performs one streaming chat completion with the given
	// tools. Content deltas arrive on the first channel as they are
	// generated; the step channel delivers the accumulated result (tool
	// calls included) once the stream completes. Exactly one of the step
	// and error channels produces a value.
	StreamStep(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan string, <-chan *StepResult, <-chan error)
}

// Config represents LLM service configuration.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 120)
}

type service struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     int
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func (s *service) StreamStep(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan string, <-chan *StepResult, <-chan error) {
	contentChan := make(chan string, 10)
	stepChan := make(chan *StepResult, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(stepChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:         s.model,
			Temperature:   s.temperature,
			Messages:      convertMessages(messages),
			Tools:         convertTools(tools),
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}

		startTime := time.Now()

		slog.Debug("LLM StreamStep starting", "model", s.model, "messages", len(messages), "tools", len(tools))
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("LLM StreamStep failed to create", "error", err)
			errChan <- fmt.Errorf("create stream failed: %w", err)
			return
		}
		defer func() { _ = stream.Close() }()

		acc := newStepAccumulator()
		stats := &CallStats{}

		for {
			response, err := stream.Recv()
			if err != nil {
				if isStreamEOF(err) {
					stats.TotalDurationMs = time.Since(startTime).Milliseconds()
					result := acc.result()
					result.Stats = stats
					slog.Debug("LLM StreamStep completed",
						"finish_reason", result.FinishReason,
						"tool_calls", len(result.ToolCalls),
						"total_tokens", stats.TotalTokens,
						"duration_ms", stats.TotalDurationMs,
					)
					stepChan <- result
					return
				}
				slog.Error("LLM StreamStep receive error", "error", err)
				errChan <- fmt.Errorf("stream recv failed: %w", err)
				return
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				stats.PromptTokens = response.Usage.PromptTokens
				stats.CompletionTokens = response.Usage.CompletionTokens
				stats.TotalTokens = response.Usage.TotalTokens
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			if choice.FinishReason != "" {
				acc.finishReason = string(choice.FinishReason)
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.addToolCallDelta(tc)
			}

			if delta := choice.Delta.Content; delta != "" {
				acc.content.WriteString(delta)
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					slog.Warn("LLM StreamStep context cancelled during send")
					errChan <- ctx.Err()
					return
				}
			}
		}
	}()

	return contentChan, stepChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Argument,
				},
			})
		}
		llmMessages[i] = msg
	}
	return llmMessages
}

func convertTools(tools []ToolDescriptor) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	openaiTools := make([]openai.Tool, len(tools))
	for i, t := range tools {
		openaiTools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		}
	}
	return openaiTools
}

// isStreamEOF reports clean stream completion. io.ErrUnexpectedEOF from a
// dropped connection is not completion; it flows to errChan so a truncated
// answer is never delivered as a successful one.
func isStreamEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Helper for creating system prompts.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// Helper for creating user messages.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Helper for creating assistant messages.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ToolResultMessage packages a tool execution result for the next step.
func ToolResultMessage(toolCallID string, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: toolCallID}
}
