package live

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSyncModeRunsInline(t *testing.T) {
	d := NewDispatcher(0, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	ran := false
	d.Submit("a1", func() { ran = true })
	assert.True(t, ran)
}

func TestDispatcherPreservesPerAuctionOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	d := NewDispatcher(128, logger)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	const n = 50
	var mu sync.Mutex
	seen := make(map[string][]int)
	var wg sync.WaitGroup
	wg.Add(2 * n)

	for i := 0; i < n; i++ {
		i := i
		for _, id := range []string{"a1", "a2"} {
			id := id
			d.Submit(id, func() {
				mu.Lock()
				seen[id] = append(seen[id], i)
				mu.Unlock()
				wg.Done()
			})
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not drain")
	}
	cancel()
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"a1", "a2"} {
		require.Len(t, seen[id], n)
		for i := 0; i < n; i++ {
			assert.Equal(t, i, seen[id][i], "auction %s out of order at %d", id, i)
		}
	}
}

func TestDispatcherDropsOldestOnOverflow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	d := NewDispatcher(2, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// Hold the worker so further submissions pile up in the queue.
	gate := make(chan struct{})
	started := make(chan struct{})
	d.Submit("a1", func() {
		close(started)
		<-gate
	})
	<-started

	var mu sync.Mutex
	var ran []int
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 1; i <= 3; i++ {
		i := i
		d.Submit("a1", func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
			wg.Done()
		})
	}
	close(gate)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued tasks did not run")
	}

	// Task 1 was the oldest pending when 3 arrived and must have been shed.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 3}, ran)
}

func TestDispatcherRefusesWorkBeforeStart(t *testing.T) {
	d := NewDispatcher(8, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	ran := false
	d.Submit("a1", func() { ran = true })
	assert.False(t, ran)
}
