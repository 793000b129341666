// Package wrkpool provides the per-instance execution machinery for the
// analysis server. Every started component instance owns one Worker that
// executes its commands strictly in submission order; backgrounded
// requests run on one-shot goroutines outside that ordering.
package wrkpool

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/naylor-b/aserver/metric"
)

// Task is one queued unit of work.
type Task func()

// defaultQueueSize bounds a worker's pending task queue. Submit blocks
// when the queue is full, preserving FIFO order.
const defaultQueueSize = 64

// Worker executes tasks one at a time on a single goroutine, in
// submission order. A Worker is owned by one component instance at a
// time and may be recycled through the Pool.
type Worker struct {
	tasks chan Task
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	sending sync.WaitGroup

	submitted int64
	processed int64
}

// NewWorker creates a worker and starts its goroutine.
func NewWorker() *Worker {
	w := &Worker{
		tasks: make(chan Task, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for task := range w.tasks {
		runTask(task)
		atomic.AddInt64(&w.processed, 1)
	}
}

// runTask executes a task and contains any panic. A bug in a single
// wrapped component must not kill the process; the failure is logged and
// the request that submitted the task simply gets no reply.
func runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			slog.Error("task panicked", "panic", r, "stack", string(buf[:n]))
		}
	}()
	task()
}

// Submit queues a task. Blocks while the queue is full; tasks run in the
// order they were submitted. The channel send happens outside the lock so
// a full queue never blocks Close or other Submit callers on the mutex.
func (w *Worker) Submit(task Task) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	w.sending.Add(1)
	w.mu.Unlock()
	defer w.sending.Done()

	w.tasks <- task
	atomic.AddInt64(&w.submitted, 1)
	return nil
}

// Join blocks until every task submitted before the call has completed.
func (w *Worker) Join() error {
	fence := make(chan struct{})
	if err := w.Submit(func() { close(fence) }); err != nil {
		return err
	}
	<-fence
	return nil
}

// Close stops accepting tasks; queued tasks still run. Close does not
// wait for them; use Join first when drain ordering matters. It does wait
// for in-flight Submit sends, which always complete because the worker
// goroutine keeps draining the queue.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.sending.Wait()
	close(w.tasks)
}

// Stats returns the worker's task counters.
func (w *Worker) Stats() (submitted, processed int64) {
	return atomic.LoadInt64(&w.submitted), atomic.LoadInt64(&w.processed)
}

// Pool hands out Workers for component instances and runs one-shot tasks
// for backgrounded requests. Released workers are recycled.
type Pool struct {
	mu   sync.Mutex
	idle []*Worker

	oneShots sync.WaitGroup

	// Statistics (atomic)
	acquired int64
	released int64
	oneShot  int64

	metrics *poolMetrics
}

type poolMetrics struct {
	activeWorkers prometheus.Gauge
	acquiredTotal prometheus.Counter
	oneShotsTotal prometheus.Counter
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetricsRegistry registers pool metrics with the server's registry.
// A nil registry leaves metrics disabled.
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(p *Pool) {
		if registry == nil {
			return
		}
		m := &poolMetrics{
			activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_active_workers",
				Help: "Workers currently acquired by component instances",
			}),
			acquiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_acquired_total",
				Help: "Total worker acquisitions",
			}),
			oneShotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_one_shots_total",
				Help: "Total one-shot background tasks",
			}),
		}
		serviceName := "wrkpool"
		if registry.RegisterGauge(serviceName, prefix+"_active_workers", m.activeWorkers) != nil {
			return
		}
		if registry.RegisterCounter(serviceName, prefix+"_acquired_total", m.acquiredTotal) != nil {
			return
		}
		if registry.RegisterCounter(serviceName, prefix+"_one_shots_total", m.oneShotsTotal) != nil {
			return
		}
		p.metrics = m
	}
}

// New creates a Pool.
func New(opts ...Option) *Pool {
	p := &Pool{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a running worker, recycling an idle one when available.
func (p *Pool) Acquire() *Worker {
	p.mu.Lock()
	var w *Worker
	if n := len(p.idle); n > 0 {
		w = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if w == nil {
		w = NewWorker()
	}
	atomic.AddInt64(&p.acquired, 1)
	if p.metrics != nil {
		p.metrics.acquiredTotal.Inc()
		p.metrics.activeWorkers.Inc()
	}
	return w
}

// Release drains a worker and returns it to the pool for reuse.
func (p *Pool) Release(w *Worker) {
	_ = w.Join()
	p.mu.Lock()
	p.idle = append(p.idle, w)
	p.mu.Unlock()

	atomic.AddInt64(&p.released, 1)
	if p.metrics != nil {
		p.metrics.activeWorkers.Dec()
	}
}

// OneShot runs a task on its own goroutine, outside any worker's
// ordering. Used for backgrounded requests.
func (p *Pool) OneShot(task Task) {
	atomic.AddInt64(&p.oneShot, 1)
	if p.metrics != nil {
		p.metrics.oneShotsTotal.Inc()
	}
	p.oneShots.Add(1)
	go func() {
		defer p.oneShots.Done()
		runTask(task)
	}()
}

// Close shuts down idle workers and waits for one-shot tasks to finish,
// up to the timeout.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, w := range idle {
		w.Close()
	}

	done := make(chan struct{})
	go func() {
		p.oneShots.Wait()
		for _, w := range idle {
			<-w.done
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return PoolStats{
		Idle:     idle,
		Acquired: atomic.LoadInt64(&p.acquired),
		Released: atomic.LoadInt64(&p.released),
		OneShots: atomic.LoadInt64(&p.oneShot),
	}
}

// PoolStats represents pool statistics.
type PoolStats struct {
	Idle     int   `json:"idle"`
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
	OneShots int64 `json:"one_shots"`
}
