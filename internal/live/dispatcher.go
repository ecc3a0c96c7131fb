package live

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher funnels event application through one worker per auction so that
// events for the same auction are applied and broadcast in delivery order,
// while different auctions proceed concurrently. Queues are bounded; when a
// queue is full the oldest pending task is dropped and counted, so a slow
// consumer cannot grow memory without bound.
//
// A maxQueue of zero disables the workers entirely and runs every task on the
// caller's goroutine. That mode keeps single-threaded callers (and tests)
// deterministic.
type Dispatcher struct {
	mu       sync.Mutex
	queues   map[string]*keyQueue
	maxQueue int
	ctx      context.Context
	started  bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

type keyQueue struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	dropped int64
}

// NewDispatcher creates a Dispatcher with the given per-auction queue bound.
func NewDispatcher(maxQueue int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queues:   make(map[string]*keyQueue),
		maxQueue: maxQueue,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Start makes the dispatcher accept work. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = ctx
	d.started = true
}

// Submit enqueues a task on the auction's queue, starting its worker lazily.
// In synchronous mode (maxQueue == 0) the task runs inline.
func (d *Dispatcher) Submit(auctionID string, task func()) {
	if d.maxQueue == 0 {
		task()
		return
	}

	d.mu.Lock()
	if !d.started || d.ctx.Err() != nil {
		d.mu.Unlock()
		d.logger.Warn("dispatcher not running, dropping task",
			slog.String("auction_id", auctionID),
		)
		return
	}
	q, ok := d.queues[auctionID]
	if !ok {
		q = &keyQueue{wake: make(chan struct{}, 1)}
		d.queues[auctionID] = q
		d.wg.Add(1)
		go d.run(d.ctx, auctionID, q)
	}
	d.mu.Unlock()

	q.mu.Lock()
	if len(q.tasks) >= d.maxQueue {
		// Drop the oldest pending task. Events carry absolute values, so a
		// later event for the same auction supersedes the dropped one.
		q.tasks = q.tasks[1:]
		q.dropped++
		d.logger.Warn("auction queue full, dropping oldest event",
			slog.String("auction_id", auctionID),
			slog.Int64("dropped_total", q.dropped),
		)
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run drains one auction's queue in FIFO order until the context is
// cancelled.
func (d *Dispatcher) run(ctx context.Context, auctionID string, q *keyQueue) {
	defer d.wg.Done()
	for {
		q.mu.Lock()
		var task func()
		if len(q.tasks) > 0 {
			task = q.tasks[0]
			q.tasks = q.tasks[1:]
		}
		q.mu.Unlock()

		if task != nil {
			task()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

// Wait blocks until all workers have exited after context cancellation. Used
// on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
