package broadcast_test

import (
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/jobber/internal/broadcast"
	"github.com/stretchr/testify/require"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func TestBroadcaster(t *testing.T) {
	t.Parallel()
	b := broadcast.New[int]()

	early, cancelEarly := b.Subscribe()
	t.Cleanup(cancelEarly)
	b.Publish(1)

	late, cancelLate := b.Subscribe()
	t.Cleanup(cancelLate)
	b.Publish(2)
	b.Publish(3)
	require.Equal(t, 2, b.Subscribers())

	b.Close()
	b.Publish(4)

	require.Equal(t, []int{1, 2, 3}, drain(early))
	require.Equal(t, []int{2, 3}, drain(late))
	require.Equal(t, 0, b.Subscribers())

	closed, cancel := b.Subscribe()
	cancel()
	require.Empty(t, drain(closed))
}

func TestBroadcasterCancel(t *testing.T) {
	t.Parallel()
	b := broadcast.New[string]()
	ch, cancel := b.Subscribe()
	b.Publish("queued")
	cancel()
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.Zero(t, b.Subscribers())
	b.Publish("nobody listens")
	b.Close()
}

func TestBroadcasterSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := broadcast.New[int]()
	slow, cancelSlow := b.Subscribe()
	t.Cleanup(cancelSlow)
	fast, cancelFast := b.Subscribe()
	t.Cleanup(cancelFast)

	var got []int
	var wg sync.WaitGroup
	wg.Go(func() {
		got = drain(fast)
	})

	want := make([]int, 0, 1000)
	for i := range 1000 {
		b.Publish(i)
		want = append(want, i)
	}
	b.Close()
	wg.Wait()
	require.Equal(t, want, got)

	// nobody read slow while publishing
	require.Equal(t, want, drain(slow))
}

func TestBroadcasterConcurrentPublish(t *testing.T) {
	t.Parallel()
	b := broadcast.New[int]()
	ch, cancel := b.Subscribe()
	t.Cleanup(cancel)

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Go(func() {
			for i := range 100 {
				b.Publish(p*100 + i)
			}
		})
	}
	wg.Wait()
	b.Close()

	got := drain(ch)
	require.Len(t, got, 400)
	// each publisher's values stay in order
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, v := range got {
		require.Greater(t, v%100, last[v/100])
		last[v/100] = v % 100
	}
}
