// Package dispatch implements a bounded-concurrency, rate-smoothed task
// queue for direct provider calls. Providers enforce per-minute rate
// limits: firing the full concurrency ceiling at once trips burst
// rejection, while strict serialization wastes latency. Spacing dispatches
// by a minimum stagger delay under a concurrency ceiling keeps throughput
// near the ceiling without the bursts.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/locflow/locflow/internal/fault"
)

// ErrClosed is returned for requests still pending when the queue shuts down.
var ErrClosed = errors.New("dispatch: queue closed")

// DefaultPollInterval bounds dispatch-decision latency. It is far below any
// sensible stagger delay, so polling instead of event-driven wakeup costs
// nothing observable.
const DefaultPollInterval = 100 * time.Millisecond

// Processor performs one request. The context carries the per-request
// deadline; a processor that ignores it may keep running after the caller's
// future has already been rejected, and its result is then discarded.
type Processor[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Options tunes a Queue.
type Options struct {
	// StaggerDelay is the minimum spacing between two dispatches. Waived
	// when nothing is in flight.
	StaggerDelay time.Duration

	// MaxConcurrent caps simultaneously in-flight requests.
	MaxConcurrent int

	// RequestTimeout is the per-request deadline.
	RequestTimeout time.Duration

	// PollInterval overrides the driver loop interval; zero means
	// DefaultPollInterval.
	PollInterval time.Duration
}

// Stats is a snapshot of queue state for observability.
type Stats struct {
	QueueLength  int
	ActiveCount  int
	Processing   bool
	LastDispatch time.Time
}

// Future resolves when its request completes, times out, or the queue
// shuts down.
type Future[Res any] struct {
	done chan struct{}
	res  Res
	err  error
}

// Wait blocks until resolution or until ctx is done.
func (f *Future[Res]) Wait(ctx context.Context) (Res, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero Res
		return zero, ctx.Err()
	}
}

func (f *Future[Res]) resolve(res Res, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

type task[Req, Res any] struct {
	req    Req
	future *Future[Res]
}

// Queue is a FIFO dispatcher. Dispatch order follows enqueue order;
// completion order is not guaranteed — callers correlate results through
// the returned future, never through arrival order.
type Queue[Req, Res any] struct {
	proc Processor[Req, Res]
	opts Options

	mu           sync.Mutex
	pending      []*task[Req, Res]
	active       int
	lastDispatch time.Time
	running      bool
	closed       bool
}

// New creates a Queue. MaxConcurrent defaults to 1 when non-positive.
func New[Req, Res any](proc Processor[Req, Res], opts Options) *Queue[Req, Res] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Queue[Req, Res]{proc: proc, opts: opts}
}

// Enqueue appends a request and returns its future. Never blocks; starts
// the driver loop if it is idle.
func (q *Queue[Req, Res]) Enqueue(req Req) *Future[Res] {
	t := &task[Req, Res]{req: req, future: &Future[Res]{done: make(chan struct{})}}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero Res
		t.future.resolve(zero, ErrClosed)
		return t.future
	}
	q.pending = append(q.pending, t)
	startLoop := !q.running
	if startLoop {
		q.running = true
	}
	q.mu.Unlock()

	if startLoop {
		go q.loop()
	}
	return t.future
}

// loop runs only while there is pending or in-flight work.
func (q *Queue[Req, Res]) loop() {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		q.dispatchReady()

		q.mu.Lock()
		if q.closed || (len(q.pending) == 0 && q.active == 0) {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		<-ticker.C
	}
}

// dispatchReady pops and dispatches queue heads while dispatch conditions
// hold: a free slot, and either the stagger delay has elapsed since the
// last dispatch or nothing is in flight.
func (q *Queue[Req, Res]) dispatchReady() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.active >= q.opts.MaxConcurrent {
			q.mu.Unlock()
			return
		}
		if q.active > 0 && time.Since(q.lastDispatch) < q.opts.StaggerDelay {
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.lastDispatch = time.Now()
		q.mu.Unlock()

		go q.run(t)
	}
}

func (q *Queue[Req, Res]) run(t *task[Req, Res]) {
	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if q.opts.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.opts.RequestTimeout)
	}

	type outcome struct {
		res Res
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := q.proc(ctx, t.req)
		resCh <- outcome{res: res, err: err}
	}()

	select {
	case o := <-resCh:
		t.future.resolve(o.res, o.err)
	case <-ctx.Done():
		// The processor keeps running; its eventual result is discarded.
		var zero Res
		t.future.resolve(zero, fault.Wrap(fault.Timeout, ctx.Err(),
			"request timed out after %s", q.opts.RequestTimeout))
	}
	cancel()

	q.mu.Lock()
	q.active--
	q.mu.Unlock()
}

// Stats returns a point-in-time snapshot.
func (q *Queue[Req, Res]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		QueueLength:  len(q.pending),
		ActiveCount:  q.active,
		Processing:   q.running,
		LastDispatch: q.lastDispatch,
	}
}

// Close rejects all pending requests with ErrClosed and stops accepting new
// ones. In-flight requests resolve normally.
func (q *Queue[Req, Res]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	rejected := q.pending
	q.pending = nil
	q.mu.Unlock()

	var zero Res
	for _, t := range rejected {
		t.future.resolve(zero, ErrClosed)
	}
}
