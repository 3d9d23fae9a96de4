package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const ingestionPath = "/api/public/ingestion"

// batcher buffers events and ships them in ingestion batches. A single
// goroutine owns the pending slice, so no locking is needed.
type batcher struct {
	publicKey string
	secretKey string
	baseURL   string
	interval  time.Duration
	batchSize int

	client *http.Client
	events chan event
	kickCh chan struct{}
	done   chan struct{}
	closed chan struct{}
}

func newBatcher(cfg *Config) *batcher {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	b := &batcher{
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		interval:  interval,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 10 * time.Second},
		events:    make(chan event, 256),
		kickCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go b.run()
	return b
}

// add enqueues an event. Tracing must never block a chat request, so when
// the buffer is full the event is dropped with a warning.
func (b *batcher) add(ev event) {
	select {
	case b.events <- ev:
	default:
		slog.Warn("tracing buffer full, dropping event", "type", ev.Type)
	}
}

func (b *batcher) kick() {
	select {
	case b.kickCh <- struct{}{}:
	default:
	}
}

func (b *batcher) shutdown(ctx context.Context) error {
	close(b.done)
	select {
	case <-b.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *batcher) run() {
	defer close(b.closed)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	pending := make([]event, 0, b.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := b.ship(pending); err != nil {
			slog.Warn("tracing ingestion failed", "events", len(pending), "error", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case ev := <-b.events:
			pending = append(pending, ev)
			if len(pending) >= b.batchSize {
				flush()
			}
		case <-b.kickCh:
			b.drain(&pending)
			flush()
		case <-ticker.C:
			flush()
		case <-b.done:
			b.drain(&pending)
			flush()
			return
		}
	}
}

// drain moves everything already queued into pending without blocking.
func (b *batcher) drain(pending *[]event) {
	for {
		select {
		case ev := <-b.events:
			*pending = append(*pending, ev)
		default:
			return
		}
	}
}

type ingestionRequest struct {
	Batch []event `json:"batch"`
}

func (b *batcher) ship(batch []event) error {
	body, err := json.Marshal(ingestionRequest{Batch: batch})
	if err != nil {
		return errors.Wrap(err, "failed to marshal ingestion batch")
	}

	req, err := http.NewRequest(http.MethodPost, b.baseURL+ingestionPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build ingestion request")
	}
	req.SetBasicAuth(b.publicKey, b.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "ingestion request failed")
	}
	defer resp.Body.Close()

	// 207 means partial success; individual failures are not retried.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("ingestion returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
