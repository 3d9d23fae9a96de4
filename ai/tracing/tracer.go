// Package tracing reports chat generations to a Langfuse-compatible
// observability backend. Events are batched and shipped asynchronously; when
// no keys are configured the tracer is a no-op so call sites never branch.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Config represents tracing configuration.
type Config struct {
	PublicKey string
	SecretKey string
	BaseURL   string

	// FlushInterval bounds how long an event waits before shipping.
	FlushInterval time.Duration
	// BatchSize bounds how many events ship in one ingestion request.
	BatchSize int
}

// Tracer creates traces and ships them to the backend.
type Tracer struct {
	enabled bool
	batcher *batcher
}

// New creates a tracer. With empty keys it is disabled and every method is a
// cheap no-op.
func New(cfg *Config) *Tracer {
	if cfg == nil || cfg.PublicKey == "" || cfg.SecretKey == "" {
		return &Tracer{}
	}
	return &Tracer{
		enabled: true,
		batcher: newBatcher(cfg),
	}
}

// Enabled reports whether events are actually shipped.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// StartTrace opens a trace. sessionID groups traces belonging to the same
// chat so the backend can show a whole conversation.
func (t *Tracer) StartTrace(name, userID, sessionID string, input any) *Trace {
	trace := &Trace{
		tracer:    t,
		id:        shortuuid.New(),
		name:      name,
		userID:    userID,
		sessionID: sessionID,
		startedAt: time.Now(),
	}
	if !t.enabled {
		return trace
	}
	t.batcher.add(event{
		ID:        shortuuid.New(),
		Type:      "trace-create",
		Timestamp: trace.startedAt,
		Body: traceBody{
			ID:        trace.id,
			Name:      name,
			UserID:    userID,
			SessionID: sessionID,
			Input:     input,
			Timestamp: trace.startedAt,
		},
	})
	return trace
}

// FlushAsync triggers a flush without waiting for it to complete. Call it at
// the end of a request so short-lived traces do not sit in the buffer.
func (t *Tracer) FlushAsync() {
	if !t.enabled {
		return
	}
	t.batcher.kick()
}

// Shutdown flushes outstanding events and stops the batcher.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	return t.batcher.shutdown(ctx)
}

// Trace is one traced operation. Methods are safe on a disabled tracer.
type Trace struct {
	tracer    *Tracer
	id        string
	name      string
	userID    string
	sessionID string
	startedAt time.Time

	mu     sync.Mutex
	output any
}

// ID returns the trace id, usable for correlating logs.
func (tr *Trace) ID() string {
	return tr.id
}

// AddGeneration records one model call inside the trace.
func (tr *Trace) AddGeneration(name, model string, input, output any, usage *Usage) {
	if !tr.tracer.enabled {
		return
	}
	now := time.Now()
	tr.tracer.batcher.add(event{
		ID:        shortuuid.New(),
		Type:      "generation-create",
		Timestamp: now,
		Body: generationBody{
			ID:      shortuuid.New(),
			TraceID: tr.id,
			Name:    name,
			Model:   model,
			Input:   input,
			Output:  output,
			Usage:   usage,
			EndTime: now,
		},
	})
}

// AddSpan records a non-model unit of work, such as a tool execution.
func (tr *Trace) AddSpan(name string, input, output any) {
	if !tr.tracer.enabled {
		return
	}
	now := time.Now()
	tr.tracer.batcher.add(event{
		ID:        shortuuid.New(),
		Type:      "span-create",
		Timestamp: now,
		Body: spanBody{
			ID:      shortuuid.New(),
			TraceID: tr.id,
			Name:    name,
			Input:   input,
			Output:  output,
			EndTime: now,
		},
	})
}

// SetOutput records the trace's final output, shipped by End.
func (tr *Trace) SetOutput(output any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.output = output
}

// End closes the trace, shipping the recorded output.
func (tr *Trace) End() {
	if !tr.tracer.enabled {
		return
	}
	tr.mu.Lock()
	output := tr.output
	tr.mu.Unlock()

	tr.tracer.batcher.add(event{
		ID:        shortuuid.New(),
		Type:      "trace-create",
		Timestamp: time.Now(),
		Body: traceBody{
			ID:        tr.id,
			Name:      tr.name,
			UserID:    tr.userID,
			SessionID: tr.sessionID,
			Output:    output,
			Timestamp: tr.startedAt,
		},
	})
}

// Usage mirrors the token accounting the backend understands.
type Usage struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
	Total  int `json:"total,omitempty"`
}

type event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Body      any       `json:"body"`
}

type traceBody struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type generationBody struct {
	ID      string    `json:"id"`
	TraceID string    `json:"traceId"`
	Name    string    `json:"name"`
	Model   string    `json:"model,omitempty"`
	Input   any       `json:"input,omitempty"`
	Output  any       `json:"output,omitempty"`
	Usage   *Usage    `json:"usage,omitempty"`
	EndTime time.Time `json:"endTime"`
}

type spanBody struct {
	ID      string    `json:"id"`
	TraceID string    `json:"traceId"`
	Name    string    `json:"name"`
	Input   any       `json:"input,omitempty"`
	Output  any       `json:"output,omitempty"`
	EndTime time.Time `json:"endTime"`
}
