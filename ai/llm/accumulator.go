package llm

import (
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// stepAccumulator folds streamed deltas into a complete StepResult.
// Providers fragment tool calls across chunks: the first delta for an index
// carries the id and function name, later deltas append argument fragments.
type stepAccumulator struct {
	content      strings.Builder
	finishReason string
	toolCalls    map[int]*toolCallDraft
}

type toolCallDraft struct {
	id   string
	name string
	args strings.Builder
}

func newStepAccumulator() *stepAccumulator {
	return &stepAccumulator{toolCalls: make(map[int]*toolCallDraft)}
}

func (a *stepAccumulator) addToolCallDelta(delta openai.ToolCall) {
	index := 0
	if delta.Index != nil {
		index = *delta.Index
	}

	draft, ok := a.toolCalls[index]
	if !ok {
		draft = &toolCallDraft{}
		a.toolCalls[index] = draft
	}
	if delta.ID != "" {
		draft.id = delta.ID
	}
	if delta.Function.Name != "" {
		draft.name = delta.Function.Name
	}
	draft.args.WriteString(delta.Function.Arguments)
}

func (a *stepAccumulator) result() *StepResult {
	result := &StepResult{
		Content:      a.content.String(),
		FinishReason: a.finishReason,
	}
	if len(a.toolCalls) == 0 {
		return result
	}

	indexes := make([]int, 0, len(a.toolCalls))
	for index := range a.toolCalls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	for _, index := range indexes {
		draft := a.toolCalls[index]
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:       draft.id,
			Name:     draft.name,
			Argument: draft.args.String(),
		})
	}
	return result
}
