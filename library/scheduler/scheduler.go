// Package scheduler runs keyed, prioritized tasks with a bounded number of
// simultaneously running goroutines.
//
// One Scheduler is meant to be constructed at process start and shared by every
// search session, so there is exactly one concurrency pool per process.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/tracker-search/library/log"
)

const defaultConcurrency = 5

// Task is one unit of I/O bound work. A task is expected to handle its own
// failures; the scheduler never retries it.
type Task func(ctx context.Context)

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Queued      int  `json:"queued"`
	Running     int  `json:"running"`
	Concurrency int  `json:"concurrency"`
	Active      bool `json:"active"`
}

// Option customises a Scheduler during construction.
type Option func(*Scheduler)

// WithConcurrency sets the initial number of simultaneously running tasks.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithConcurrencySource installs the configuration reader consulted whenever
// the scheduler goes from idle to active.
func WithConcurrencySource(source func() int) Option {
	return func(s *Scheduler) {
		s.concurrencySource = source
	}
}

// WithLogger overrides the default scheduler logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBaseContext sets the context handed to every task.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// Scheduler dispatches the highest priority queued task whenever a slot is free.
// Tasks of equal priority run in FIFO order.
type Scheduler struct {
	mu                sync.Mutex
	concurrency       int
	concurrencySource func() int
	queue             taskQueue
	pending           map[string]*item
	running           int
	seq               uint64
	active            bool
	idle              chan struct{}
	onActive          []func()
	onIdle            []func()
	baseCtx           context.Context
	logger            logSDK.Logger
}

// New constructs an idle Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		concurrency: defaultConcurrency,
		pending:     make(map[string]*item),
		idle:        make(chan struct{}),
		baseCtx:     context.Background(),
		logger:      log.Logger.Named("scheduler"),
	}
	close(s.idle)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OnActive registers a hook fired when the first task is enqueued into an empty scheduler.
// Hooks run with the scheduler lock held and must not call back into the Scheduler.
func (s *Scheduler) OnActive(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onActive = append(s.onActive, fn)
	s.mu.Unlock()
}

// OnIdle registers a hook fired when no task is queued or running anymore.
// Hooks run with the scheduler lock held and must not call back into the Scheduler.
func (s *Scheduler) OnIdle(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onIdle = append(s.onIdle, fn)
	s.mu.Unlock()
}

// Enqueue adds a task under key.
//
// A queued task with the same key is superseded: its task and priority are
// replaced and it keeps its place among tasks of equal priority. A running task
// with the same key is left alone and the new task becomes an independent run.
func (s *Scheduler) Enqueue(key string, priority int, task Task) {
	if task == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.pending[key]; ok {
		it.task = task
		if it.priority != priority {
			it.priority = priority
			heap.Fix(&s.queue, it.index)
		}
		s.logger.Debug("superseded queued task", zap.String("key", key), zap.Int("priority", priority))
		return
	}

	s.seq++
	it := &item{key: key, priority: priority, seq: s.seq, task: task}
	heap.Push(&s.queue, it)
	s.pending[key] = it
	metricQueued.Set(float64(s.queue.Len()))

	if !s.active {
		s.activateLocked()
	}
	s.dispatchLocked()
}

// SetConcurrency changes how many tasks may run at once.
// Running tasks are never interrupted; the new bound applies to later dispatches.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.concurrency = n
	s.dispatchLocked()
}

// SetPriority re-ranks a queued task. It reports false when key is not queued,
// including when the task has already started.
func (s *Scheduler) SetPriority(key string, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.pending[key]
	if !ok {
		return false
	}
	if it.priority != priority {
		it.priority = priority
		heap.Fix(&s.queue, it.index)
	}
	return true
}

// Clear drops every queued task and returns their keys. Running tasks keep running.
func (s *Scheduler) Clear() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.queue))
	for _, it := range s.queue {
		keys = append(keys, it.key)
	}
	s.queue = nil
	s.pending = make(map[string]*item)
	metricQueued.Set(0)

	if s.active && s.running == 0 {
		s.deactivateLocked()
	}
	return keys
}

// Stats returns a snapshot of queue depth and slot usage.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:      s.queue.Len(),
		Running:     s.running,
		Concurrency: s.concurrency,
		Active:      s.active,
	}
}

// Idle returns a channel that is closed while the scheduler has nothing queued or running.
// A new channel is handed out every time the scheduler becomes active again.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Wait blocks until the scheduler is idle or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.Idle():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for scheduler idle")
	}
}

func (s *Scheduler) activateLocked() {
	s.active = true
	s.idle = make(chan struct{})
	if s.concurrencySource != nil {
		if n := s.concurrencySource(); n > 0 {
			s.concurrency = n
		}
	}
	s.logger.Debug("scheduler active", zap.Int("concurrency", s.concurrency))

	for _, fn := range s.onActive {
		s.callHook("active", fn)
	}
}

func (s *Scheduler) deactivateLocked() {
	s.active = false
	s.logger.Debug("scheduler idle")

	// hooks finish before waiters are released
	for _, fn := range s.onIdle {
		s.callHook("idle", fn)
	}
	close(s.idle)
}

func (s *Scheduler) callHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler hook panicked",
				zap.String("hook", name),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn()
}

func (s *Scheduler) dispatchLocked() {
	for s.running < s.concurrency && s.queue.Len() > 0 {
		it := heap.Pop(&s.queue).(*item)
		delete(s.pending, it.key)
		s.running++
		metricDispatched.Inc()
		go s.run(it)
	}
	metricRunning.Set(float64(s.running))
	metricQueued.Set(float64(s.queue.Len()))
}

func (s *Scheduler) run(it *item) {
	defer s.done()
	defer func() {
		if r := recover(); r != nil {
			metricPanics.Inc()
			s.logger.Error("scheduled task panicked",
				zap.String("key", it.key),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	it.task(s.baseCtx)
}

func (s *Scheduler) done() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running--
	s.dispatchLocked()
	if s.active && s.running == 0 && s.queue.Len() == 0 {
		s.deactivateLocked()
	}
}
