// Package stream implements the resumable stream broker: an in-memory
// publish/subscribe layer keyed by stream id. A producer publishes opaque
// chunks into a channel; any number of subscribers replay the buffered prefix
// and then follow the live tail. The channel outlives the HTTP connection
// that started it, which is what makes a generation resumable.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Chunk is one atomic unit of streamed output. The broker never inspects or
// splits chunks; whatever the producer publishes is replayed byte for byte.
type Chunk []byte

// ErrExpired marks a channel whose producer was evicted for inactivity.
var ErrExpired = errors.New("stream channel expired")

// Config configures a Broker.
type Config struct {
	// Retention is how long a finished channel stays resumable, and the
	// idle bound after which a stuck live channel is evicted.
	Retention time.Duration

	// CleanupInterval is how often the janitor sweeps expired channels.
	CleanupInterval time.Duration
}

// Broker owns all stream channels. One Broker instance is created per
// process and threaded to the components that need it.
type Broker struct {
	config   Config
	mu       sync.Mutex
	channels map[string]*channel
	done     chan struct{}
	once     sync.Once
}

// NewBroker creates a broker and starts its janitor.
func NewBroker(config Config) *Broker {
	if config.Retention <= 0 {
		config.Retention = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	b := &Broker{
		config:   config,
		channels: make(map[string]*channel),
		done:     make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Produce starts production for streamID and returns a live-tail
// subscription. The producer runs in its own goroutine bounded by ctx, so it
// keeps generating after the subscriber (and the HTTP connection behind it)
// goes away. If a channel already exists for streamID the producer is NOT
// invoked again; the existing channel is attached instead, preserving the
// one-producer-per-stream invariant.
func (b *Broker) Produce(ctx context.Context, streamID string, producer func(ctx context.Context, w *Writer) error) *Subscription {
	b.mu.Lock()
	if ch, ok := b.channels[streamID]; ok {
		b.mu.Unlock()
		return ch.subscribe()
	}
	ch := newChannel()
	b.channels[streamID] = ch
	b.mu.Unlock()

	go func() {
		err := producer(ctx, &Writer{ch: ch})
		if err != nil {
			slog.Warn("stream producer failed", "stream_id", streamID, "error", err)
		}
		ch.finish(err)
	}()

	return ch.subscribe()
}

// Resume attaches to an existing channel. The subscription replays every
// buffered chunk and then follows the live tail until the channel finishes.
// When no channel exists (unknown id, or evicted after retention) it returns
// (nil, false) — never an error — so the caller can fall back to persisted
// state.
func (b *Broker) Resume(streamID string) (*Subscription, bool) {
	b.mu.Lock()
	ch, ok := b.channels[streamID]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ch.subscribe(), true
}

// Close stops the janitor and finishes any live channels.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.channels {
		ch.finish(ErrExpired)
		delete(b.channels, id)
	}
}

func (b *Broker) janitor() {
	ticker := time.NewTicker(b.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

// sweep evicts channels whose last activity is older than the retention
// bound. A live channel hitting the bound has a stuck producer (the
// generation timeout is far shorter); it is finished with ErrExpired so
// attached subscribers unblock.
func (b *Broker) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.channels {
		if now.Sub(ch.lastActivity()) < b.config.Retention {
			continue
		}
		ch.finish(ErrExpired)
		delete(b.channels, id)
	}
}
