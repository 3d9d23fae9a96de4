package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(Config{Retention: time.Minute, CleanupInterval: time.Minute})
	t.Cleanup(b.Close)
	return b
}

func drain(t *testing.T, sub *Subscription) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chunks := []string{}
	for {
		chunk, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, string(chunk))
	}
}

func TestProduceReplayAndTail(t *testing.T) {
	b := newTestBroker(t)

	sub := b.Produce(context.Background(), "s1", func(ctx context.Context, w *Writer) error {
		for _, chunk := range []string{"a", "b", "c"} {
			require.NoError(t, w.Publish(Chunk(chunk)))
		}
		return nil
	})

	require.Equal(t, []string{"a", "b", "c"}, drain(t, sub))
	require.NoError(t, sub.Err())
}

func TestResumeUnknownStream(t *testing.T) {
	b := newTestBroker(t)

	sub, ok := b.Resume("no-such-stream")
	require.False(t, ok)
	require.Nil(t, sub)
}

func TestConcurrentResumersReceiveIdenticalChunks(t *testing.T) {
	b := newTestBroker(t)

	release := make(chan struct{})
	b.Produce(context.Background(), "s1", func(ctx context.Context, w *Writer) error {
		require.NoError(t, w.Publish(Chunk("a")))
		require.NoError(t, w.Publish(Chunk("b")))
		<-release
		require.NoError(t, w.Publish(Chunk("c")))
		return nil
	})

	// First resumer attaches mid-stream, others after the buffered prefix
	// exists; every one of them must see the full ordered sequence.
	subs := make([]*Subscription, 0, 4)
	for i := 0; i < 4; i++ {
		sub, ok := b.Resume("s1")
		require.True(t, ok)
		subs = append(subs, sub)
	}

	results := make([][]string, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			results[i] = drain(t, sub)
		}(i, sub)
	}
	close(release)
	wg.Wait()

	for _, chunks := range results {
		require.Equal(t, []string{"a", "b", "c"}, chunks)
	}
}

func TestProducerFailureLeavesBufferedPrefix(t *testing.T) {
	b := newTestBroker(t)

	wantErr := errors.New("model unavailable")
	b.Produce(context.Background(), "s1", func(ctx context.Context, w *Writer) error {
		require.NoError(t, w.Publish(Chunk("partial")))
		return wantErr
	})

	sub, ok := b.Resume("s1")
	require.True(t, ok)
	require.Equal(t, []string{"partial"}, drain(t, sub))
	require.ErrorIs(t, sub.Err(), wantErr)
}

func TestProducerSurvivesSubscriberCancel(t *testing.T) {
	b := newTestBroker(t)

	first := make(chan struct{})
	release := make(chan struct{})
	sub := b.Produce(context.Background(), "s1", func(ctx context.Context, w *Writer) error {
		require.NoError(t, w.Publish(Chunk("a")))
		close(first)
		<-release
		require.NoError(t, w.Publish(Chunk("b")))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	chunk, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", string(chunk))

	// The subscriber goes away; the producer must not notice.
	cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	<-first
	close(release)

	resumed, ok := b.Resume("s1")
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, drain(t, resumed))
}

func TestProduceAttachesToExistingChannel(t *testing.T) {
	b := newTestBroker(t)

	calls := 0
	producer := func(ctx context.Context, w *Writer) error {
		calls++
		require.NoError(t, w.Publish(Chunk("once")))
		return nil
	}

	first := b.Produce(context.Background(), "s1", producer)
	require.Equal(t, []string{"once"}, drain(t, first))

	second := b.Produce(context.Background(), "s1", producer)
	require.Equal(t, []string{"once"}, drain(t, second))
	require.Equal(t, 1, calls)
}

func TestPublishAfterFinish(t *testing.T) {
	ch := newChannel()
	w := &Writer{ch: ch}

	require.NoError(t, w.Publish(Chunk("a")))
	ch.finish(nil)
	require.ErrorIs(t, w.Publish(Chunk("b")), ErrFinished)
}

func TestSweepEvictsIdleChannels(t *testing.T) {
	b := newTestBroker(t)

	done := make(chan struct{})
	sub := b.Produce(context.Background(), "stuck", func(ctx context.Context, w *Writer) error {
		require.NoError(t, w.Publish(Chunk("a")))
		<-done
		return nil
	})
	t.Cleanup(func() { close(done) })

	chunk, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", string(chunk))

	b.sweep(time.Now().Add(2 * time.Minute))

	// The channel is gone for new resumers and finished for attached ones.
	_, ok := b.Resume("stuck")
	require.False(t, ok)
	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, sub.Err(), ErrExpired)
}
