package llm

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func indexPtr(i int) *int { return &i }

func TestStepAccumulator(t *testing.T) {
	tests := []struct {
		name      string
		content   []string
		deltas    []openai.ToolCall
		wantCalls []ToolCall
	}{
		{
			name:      "content only",
			content:   []string{"Hello, ", "world"},
			wantCalls: nil,
		},
		{
			name: "single call with fragmented arguments",
			deltas: []openai.ToolCall{
				{Index: indexPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "searchWeb"}},
				{Index: indexPtr(0), Function: openai.FunctionCall{Arguments: `{"query":`}},
				{Index: indexPtr(0), Function: openai.FunctionCall{Arguments: `"go generics"}`}},
			},
			wantCalls: []ToolCall{
				{ID: "call_1", Name: "searchWeb", Argument: `{"query":"go generics"}`},
			},
		},
		{
			name: "parallel calls interleaved",
			deltas: []openai.ToolCall{
				{Index: indexPtr(0), ID: "call_a", Function: openai.FunctionCall{Name: "searchWeb", Arguments: `{"query":"a"`}},
				{Index: indexPtr(1), ID: "call_b", Function: openai.FunctionCall{Name: "searchWeb"}},
				{Index: indexPtr(1), Function: openai.FunctionCall{Arguments: `{"query":"b"}`}},
				{Index: indexPtr(0), Function: openai.FunctionCall{Arguments: `}`}},
			},
			wantCalls: []ToolCall{
				{ID: "call_a", Name: "searchWeb", Argument: `{"query":"a"}`},
				{ID: "call_b", Name: "searchWeb", Argument: `{"query":"b"}`},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newStepAccumulator()
			for _, chunk := range tt.content {
				acc.content.WriteString(chunk)
			}
			for _, delta := range tt.deltas {
				acc.addToolCallDelta(delta)
			}

			result := acc.result()
			require.Equal(t, tt.wantCalls, result.ToolCalls)

			want := ""
			for _, chunk := range tt.content {
				want += chunk
			}
			require.Equal(t, want, result.Content)
		})
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []Message{
		SystemPrompt("be helpful"),
		UserMessage("what is new in go"),
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "searchWeb", Argument: `{"query":"go release"}`},
			},
		},
		ToolResultMessage("call_1", `[{"title":"Go 1.25"}]`),
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 4)
	require.Equal(t, "system", converted[0].Role)
	require.Equal(t, "user", converted[1].Role)

	assistant := converted[2]
	require.Len(t, assistant.ToolCalls, 1)
	require.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	require.Equal(t, openai.ToolTypeFunction, assistant.ToolCalls[0].Type)
	require.Equal(t, "searchWeb", assistant.ToolCalls[0].Function.Name)

	toolResult := converted[3]
	require.Equal(t, "tool", toolResult.Role)
	require.Equal(t, "call_1", toolResult.ToolCallID)
}

func TestConvertTools(t *testing.T) {
	require.Nil(t, convertTools(nil))

	tools := convertTools([]ToolDescriptor{
		{Name: "searchWeb", Description: "search the web", Parameters: `{"type":"object"}`},
	})
	require.Len(t, tools, 1)
	require.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	require.Equal(t, "searchWeb", tools[0].Function.Name)
}

func TestIsStreamEOF(t *testing.T) {
	require.True(t, isStreamEOF(io.EOF))
	require.True(t, isStreamEOF(fmt.Errorf("recv: %w", io.EOF)))

	// A dropped connection must surface as an error, not completion.
	require.False(t, isStreamEOF(io.ErrUnexpectedEOF))
	require.False(t, isStreamEOF(fmt.Errorf("recv: %w", io.ErrUnexpectedEOF)))
	require.False(t, isStreamEOF(errors.New("connection reset by peer")))
}
