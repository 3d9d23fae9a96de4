package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrFinished is returned by Writer.Publish after the channel finished.
var ErrFinished = errors.New("stream channel finished")

// channel is the shared state between one producer and any number of
// subscribers. The buffer is append-only; subscribers keep their own cursors
// so a late resumer replays from the start without disturbing anyone else.
type channel struct {
	mu       sync.Mutex
	buf      []Chunk
	finished bool
	err      error
	activeAt time.Time

	// wake is closed and replaced on every append, waking all blocked
	// subscribers at once.
	wake chan struct{}
}

func newChannel() *channel {
	return &channel{
		activeAt: time.Now(),
		wake:     make(chan struct{}),
	}
}

func (c *channel) publish(chunk Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return ErrFinished
	}
	c.buf = append(c.buf, chunk)
	c.activeAt = time.Now()
	close(c.wake)
	c.wake = make(chan struct{})
	return nil
}

func (c *channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.err = err
	c.activeAt = time.Now()
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *channel) lastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeAt
}

func (c *channel) subscribe() *Subscription {
	return &Subscription{ch: c}
}

// Writer is the producer's handle on a channel.
type Writer struct {
	ch *channel
}

// Publish appends one chunk to the stream. Publishing after the channel
// finished (for example after the janitor expired it) returns ErrFinished so
// the producer can stop early.
func (w *Writer) Publish(chunk Chunk) error {
	return w.ch.publish(chunk)
}

// Subscription is one subscriber's view of a channel. Each subscription has
// its own cursor, so concurrent subscribers receive the same chunks in the
// same order without stealing from each other.
type Subscription struct {
	ch     *channel
	cursor int
}

// Next returns the next chunk, blocking until one is published or the
// channel finishes. After the last chunk of a finished channel it returns
// io.EOF regardless of how the producer ended; use Err to learn whether the
// producer failed.
func (s *Subscription) Next(ctx context.Context) (Chunk, error) {
	for {
		s.ch.mu.Lock()
		if s.cursor < len(s.ch.buf) {
			chunk := s.ch.buf[s.cursor]
			s.cursor++
			s.ch.mu.Unlock()
			return chunk, nil
		}
		if s.ch.finished {
			s.ch.mu.Unlock()
			return nil, io.EOF
		}
		wake := s.ch.wake
		s.ch.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Err reports how the producer ended. It is meaningful only after Next
// returned io.EOF; nil means the producer completed cleanly.
func (s *Subscription) Err() error {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	return s.ch.err
}
