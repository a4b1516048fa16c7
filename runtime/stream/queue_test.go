package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Push(i))
	}
	q.Close()

	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, err := q.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, ErrDone)
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Next(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push("late"))

	select {
	case v := <-got:
		require.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Push")
	}
}

func TestQueueFailDrainsBeforeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	q := NewQueue[int]()
	require.NoError(t, q.Push(7))
	q.Fail(boom)

	ctx := context.Background()
	v, err := q.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	_, err = q.Next(ctx)
	require.ErrorIs(t, err, boom)
}

func TestQueuePushAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	q.Close()
	require.ErrorIs(t, q.Push(1), ErrClosed)
	q.Close() // idempotent
}

func TestQueueNextHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	const producers, perProducer = 4, 50
	done := make(chan struct{})
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < perProducer; i++ {
				_ = q.Push(i)
			}
			done <- struct{}{}
		}()
	}
	go func() {
		for p := 0; p < producers; p++ {
			<-done
		}
		q.Close()
	}()

	ctx := context.Background()
	count := 0
	for {
		_, err := q.Next(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		require.NoError(t, err)
		count++
	}
	require.Equal(t, producers*perProducer, count)
}
