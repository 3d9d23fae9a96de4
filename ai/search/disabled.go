package search

import (
	"context"

	"github.com/pkg/errors"
)

// Disabled returns a Service whose Search always fails. Used when no API key
// is configured; the agent feeds the failure back to the model so it can
// answer from its own knowledge.
func Disabled() Service {
	return disabledService{}
}

type disabledService struct{}

func (disabledService) Search(ctx context.Context, query string, num int) ([]Result, error) {
	return nil, errors.New("web search is not configured")
}
