package search

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/scheduler"
)

// ControllerOption customises a Controller during construction.
type ControllerOption func(*Controller)

// WithLogger overrides the default controller logger.
func WithLogger(logger logSDK.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPostMergeHook registers a hook invoked after each batch of records is merged.
func WithPostMergeHook(hook PostMergeHook) ControllerOption {
	return func(c *Controller) {
		if hook != nil {
			c.postMerge = append(c.postMerge, hook)
		}
	}
}

// WithObserver registers a session event observer.
func WithObserver(observer Observer) ControllerOption {
	return func(c *Controller) {
		if observer != nil {
			c.observers = append(c.observers, observer)
		}
	}
}

// Controller owns the current search session and drives its plans through a shared Scheduler.
//
// The controller never calls into the scheduler while holding its own lock,
// because scheduler hooks take the controller lock.
type Controller struct {
	sched    *scheduler.Scheduler
	resolver SolutionResolver
	adapter  SourceAdapter

	logger    logSDK.Logger
	now       func() time.Time
	postMerge []PostMergeHook
	observers []Observer
	events    *eventQueue

	mu         sync.RWMutex
	generation uint64
	session    *Session
}

// job is one scheduler enqueue prepared under the controller lock.
type job struct {
	key      string
	priority int
	run      uint64
}

// NewController binds a controller to the process scheduler and registers its lifecycle hooks.
func NewController(sched *scheduler.Scheduler,
	resolver SolutionResolver,
	adapter SourceAdapter,
	opts ...ControllerOption) (*Controller, error) {
	if sched == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	if resolver == nil {
		return nil, errors.New("solution resolver cannot be nil")
	}
	if adapter == nil {
		return nil, errors.New("source adapter cannot be nil")
	}

	c := &Controller{
		sched:    sched,
		resolver: resolver,
		adapter:  adapter,
		logger:   log.Logger.Named("search_controller"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newEventQueue(c.logger.Named("events"), c.observers)

	sched.OnActive(c.handleActive)
	sched.OnIdle(c.handleIdle)
	return c, nil
}

// Search resolves solutionID and queues one plan per resolved source.
//
// A fresh search starts a new generation: the previous session is discarded and
// its queued work is dropped, while its in-flight tasks finish without touching
// the new session. A non-fresh search re-queues the resolved plans of the current
// session in place and removes their previously merged records.
func (c *Controller) Search(ctx context.Context, query, solutionID string, fresh bool) (SessionInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SessionInfo{}, ErrEmptyQuery
	}

	entries, err := c.resolver.Resolve(ctx, solutionID)
	if err != nil {
		return SessionInfo{}, errors.Wrapf(err, "resolve solution %q", solutionID)
	}
	if len(entries) == 0 {
		return SessionInfo{}, errors.Wrapf(ErrNoSources, "solution %q", solutionID)
	}

	c.mu.RLock()
	fresh = fresh || c.session == nil
	c.mu.RUnlock()

	if fresh {
		if dropped := c.sched.Clear(); len(dropped) > 0 {
			c.logger.Debug("dropped queued plans of previous session", zap.Int("n", len(dropped)))
		}
	}

	now := c.now()
	c.mu.Lock()
	if fresh || c.session == nil {
		c.generation++
		c.session = newSession(uuid.NewString(), c.generation, query, solutionID, now)
	} else {
		c.session.Query = query
		c.session.SolutionID = solutionID
	}
	sess := c.session

	jobs := make([]job, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		key := entry.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		plan := sess.upsertPlan(entry)
		sess.dropResults(key)
		plan.requeue(now)
		jobs = append(jobs, job{key: key, priority: plan.Priority, run: plan.run})
	}
	sess.Active = true
	sess.EndedAt = nil

	var evs []Event
	if fresh {
		evs = append(evs, Event{Kind: EventSessionStarted, SessionID: sess.ID, Generation: sess.Generation, Time: now})
	}
	for _, key := range sess.order {
		if _, ok := seen[key]; ok {
			evs = append(evs, planEvent(sess, sess.plans[key], now))
		}
	}
	c.events.post(evs...)
	c.mu.Unlock()

	logger := c.logger.With(
		zap.String("session", sess.ID),
		zap.Uint64("generation", sess.Generation),
		zap.String("query", query),
		zap.String("solution", solutionID),
	)
	logger.Info("search started", zap.Bool("fresh", fresh), zap.Int("plans", len(jobs)))

	c.enqueue(sess, jobs)
	return c.Info(), nil
}

// Retry re-queues every plan of the current session whose status is in statuses,
// DefaultRetryStatuses when none are given. Only error statuses are accepted.
// Each retried plan loses its merged records and yields one priority step to fresh work.
func (c *Controller) Retry(ctx context.Context, statuses ...Status) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, "retry")
	}
	if len(statuses) == 0 {
		statuses = DefaultRetryStatuses
	}

	filter := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		if !st.IsError() {
			return 0, errors.Wrapf(ErrInvalidStatus, "cannot retry plans in status %q", st)
		}
		filter[st] = struct{}{}
	}

	now := c.now()
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return 0, ErrNoSession
	}

	var (
		jobs []job
		evs  []Event
	)
	for _, key := range sess.order {
		plan := sess.plans[key]
		if _, ok := filter[plan.Status]; !ok {
			continue
		}

		sess.dropResults(key)
		plan.Priority--
		plan.requeue(now)
		jobs = append(jobs, job{key: key, priority: plan.Priority, run: plan.run})
		evs = append(evs, planEvent(sess, plan, now))
	}
	if len(jobs) > 0 {
		sess.Active = true
		sess.EndedAt = nil
	}
	c.events.post(evs...)
	c.mu.Unlock()

	if len(jobs) == 0 {
		return 0, nil
	}

	c.logger.Info("retry plans",
		zap.String("session", sess.ID),
		zap.Int("n", len(jobs)),
		zap.Any("statuses", statuses))
	c.enqueue(sess, jobs)
	return len(jobs), nil
}

// RaisePriority bumps the priority of one plan and re-ranks it if it is still queued.
func (c *Controller) RaisePriority(key string) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	plan, ok := c.session.plans[key]
	if !ok {
		c.mu.Unlock()
		return errors.Wrapf(ErrPlanNotFound, "key %q", key)
	}
	plan.Priority++
	priority := plan.Priority
	c.mu.Unlock()

	requeued := c.sched.SetPriority(key, priority)
	c.logger.Debug("raise plan priority",
		zap.String("key", key),
		zap.Int("priority", priority),
		zap.Bool("queued", requeued))
	return nil
}

// Cancel drops every queued plan and marks all waiting or working plans cancelled.
// Records merged so far are kept; results of in-flight calls are discarded on arrival.
// It returns the number of cancelled plans.
func (c *Controller) Cancel() int {
	dropped := c.sched.Clear()

	now := c.now()
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return 0
	}

	var evs []Event
	for _, key := range sess.order {
		plan := sess.plans[key]
		if !plan.Status.IsQueued() {
			continue
		}
		if err := plan.transition(StatusCancelled, now); err != nil {
			c.logger.Error("cancel plan", zap.String("key", key), zap.Error(err))
			continue
		}
		plan.Message = "cancelled"
		evs = append(evs, planEvent(sess, plan, now))
	}
	c.events.post(evs...)
	c.mu.Unlock()

	c.logger.Info("search cancelled",
		zap.String("session", sess.ID),
		zap.Int("dropped", len(dropped)),
		zap.Int("cancelled", len(evs)))
	return len(evs)
}

// Results returns a copy of the merged records in arrival order.
func (c *Controller) Results() []ResultRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return append([]ResultRecord(nil), c.session.results...)
}

// Plans returns copies of every plan in creation order.
func (c *Controller) Plans() []SearchPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.planCopies()
}

// Plan returns a copy of one plan.
func (c *Controller) Plan(key string) (SearchPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return SearchPlan{}, ErrNoSession
	}
	plan, ok := c.session.plans[key]
	if !ok {
		return SearchPlan{}, errors.Wrapf(ErrPlanNotFound, "key %q", key)
	}
	return *plan, nil
}

// Status folds every plan status of the current session.
func (c *Controller) Status() AggregateStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return AggregateStatus{}
	}
	return c.session.aggregate()
}

// Info summarises the current session. The zero value means no search ran yet.
func (c *Controller) Info() SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return SessionInfo{}
	}
	return c.session.info()
}

// Wait blocks until the shared scheduler has no queued or running task
// and every event of that work reached the observers.
func (c *Controller) Wait(ctx context.Context) error {
	if err := c.sched.Wait(ctx); err != nil {
		return err
	}
	return c.events.wait(ctx)
}

// Snapshot captures the current session for persistence.
func (c *Controller) Snapshot() (*Snapshot, error) {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	return newSnapshot(c.session, now), nil
}

// SaveSnapshot captures the current session and writes it to store.
func (c *Controller) SaveSnapshot(ctx context.Context, store SnapshotStore) (*Snapshot, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	if err = store.Save(ctx, snap); err != nil {
		return nil, errors.Wrapf(err, "save snapshot %s", snap.ID)
	}

	c.logger.Info("snapshot saved",
		zap.String("snapshot", snap.ID),
		zap.Int("results", len(snap.Results)))
	return snap, nil
}

func (c *Controller) enqueue(sess *Session, jobs []job) {
	for _, j := range jobs {
		c.sched.Enqueue(j.key, j.priority, c.planTask(sess, j.key, j.run))
	}
}

func (c *Controller) planTask(sess *Session, key string, run uint64) scheduler.Task {
	return func(ctx context.Context) {
		c.runPlan(ctx, sess, key, run)
	}
}

func (c *Controller) runPlan(ctx context.Context, sess *Session, key string, run uint64) {
	logger := c.logger.With(
		zap.String("plan", key),
		zap.Uint64("generation", sess.Generation))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("plan task panicked",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
			c.abortPlan(sess, key, run, fmt.Sprintf("task panic: %v", r))
		}
	}()

	entry, query, err := c.startPlan(sess, key, run)
	if err != nil {
		logger.Debug("skip plan run", zap.Error(err))
		return
	}

	result := c.callAdapter(ctx, logger, query, entry)
	if err = c.finishPlan(sess, key, run, result); err != nil {
		logger.Debug("discard plan result", zap.Error(err), zap.Int("records", len(result.Records)))
	}
}

// current reports whether sess and run still own the plan at key. Caller holds c.mu.
func (c *Controller) current(sess *Session, key string, run uint64) (*SearchPlan, error) {
	if c.session != sess {
		return nil, errors.Wrap(ErrStaleRun, "session superseded")
	}
	plan, ok := sess.plans[key]
	if !ok {
		return nil, errors.Wrapf(ErrPlanNotFound, "key %q", key)
	}
	if plan.run != run {
		return nil, errors.Wrap(ErrStaleRun, "plan re-queued")
	}
	return plan, nil
}

func (c *Controller) startPlan(sess *Session, key string, run uint64) (SourceEntry, string, error) {
	now := c.now()
	c.mu.Lock()
	plan, err := c.current(sess, key, run)
	if err != nil {
		c.mu.Unlock()
		return SourceEntry{}, "", err
	}
	if err = plan.transition(StatusWorking, now); err != nil {
		c.mu.Unlock()
		return SourceEntry{}, "", err
	}
	c.events.post(planEvent(sess, plan, now))
	entry, query := sess.entries[key], sess.Query
	c.mu.Unlock()

	return entry, query, nil
}

// abortPlan moves a plan this run left in working to unknownError,
// so a failed task never leaves its plan stuck.
func (c *Controller) abortPlan(sess *Session, key string, run uint64, reason string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	plan, err := c.current(sess, key, run)
	if err != nil || plan.Status != StatusWorking {
		return
	}
	if err = plan.transition(StatusUnknownError, now); err != nil {
		c.logger.Error("abort plan", zap.String("key", key), zap.Error(err))
		return
	}
	plan.Message = reason
	c.events.post(planEvent(sess, plan, now))
}

// callAdapter never panics and always returns a terminal status.
func (c *Controller) callAdapter(ctx context.Context,
	logger logSDK.Logger, query string, entry SourceEntry) (result AdapterResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("source adapter panicked",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
			result = AdapterResult{
				Status:  StatusUnknownError,
				Message: fmt.Sprintf("adapter panic: %v", r),
			}
		}
	}()

	result = c.adapter.Search(ctx, query, entry)
	switch {
	case result.Status == StatusSuccess && len(result.Records) == 0:
		result.Status = StatusNoResults
	case result.Status == StatusNoResults && len(result.Records) > 0:
		result.Status = StatusSuccess
	case !result.Status.IsTerminal() || result.Status == StatusCancelled:
		logger.Warn("adapter returned non-terminal status", zap.String("status", result.Status.String()))
		if result.Message == "" {
			result.Message = fmt.Sprintf("unexpected adapter status %q", result.Status)
		}
		result.Status = StatusUnknownError
	}

	return result
}

func (c *Controller) finishPlan(sess *Session, key string, run uint64, result AdapterResult) error {
	now := c.now()
	c.mu.Lock()
	plan, err := c.current(sess, key, run)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if plan.Status != StatusWorking {
		c.mu.Unlock()
		return errors.Wrapf(ErrStaleRun, "plan already %s", plan.Status)
	}
	if err = plan.transition(result.Status, now); err != nil {
		c.mu.Unlock()
		return err
	}
	plan.Message = result.Message

	// the whole batch becomes visible at once
	var accepted []ResultRecord
	for _, r := range result.Records {
		r.SourcePlanKey = key
		if r.SourceID == "" {
			r.SourceID = plan.SourceID
		}
		if r.UniqueID == "" {
			r.UniqueID = UniqueID(r.SourceID, r.identity())
		}
		if sess.dedup.Accept(r.UniqueID) {
			accepted = append(accepted, r)
		}
	}
	sess.results = append(sess.results, accepted...)
	plan.ResultCount = len(accepted)
	cp, total := *plan, len(sess.results)

	c.events.post(planEvent(sess, plan, now))
	if len(accepted) > 0 {
		c.events.post(Event{
			Kind:       EventResultsMerged,
			SessionID:  sess.ID,
			Generation: sess.Generation,
			PlanKey:    key,
			Accepted:   len(accepted),
			Time:       now,
		})
	}
	c.mu.Unlock()

	c.logger.Debug("plan finished",
		zap.String("plan", key),
		zap.String("status", cp.Status.String()),
		zap.Int("records", len(result.Records)),
		zap.Int("accepted", len(accepted)),
		zap.Duration("cost", cp.Cost()))

	if len(accepted) > 0 {
		for _, hook := range c.postMerge {
			hook(PostMergeEvent{
				SessionID:  sess.ID,
				Generation: sess.Generation,
				PlanKey:    key,
				Accepted:   accepted,
				Total:      total,
			})
		}
	}

	return nil
}

// handleActive runs under the scheduler lock when work arrives in an empty scheduler.
func (c *Controller) handleActive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.session
	if sess == nil {
		return
	}
	sess.dedup.Reset(sess.Generation, sess.resultIDs()...)
	sess.Active = true
	sess.EndedAt = nil
}

// handleIdle runs under the scheduler lock once every task finished.
func (c *Controller) handleIdle() {
	now := c.now()
	c.mu.Lock()
	sess := c.session
	if sess == nil || !sess.Active {
		c.mu.Unlock()
		return
	}
	sess.Active = false
	sess.EndedAt = timePtr(now)
	info := sess.info()
	c.events.post(Event{Kind: EventSessionIdle, SessionID: info.ID, Generation: info.Generation, Time: now})
	c.mu.Unlock()

	c.logger.Info("search idle",
		zap.String("session", info.ID),
		zap.Int("success", info.Status.Success),
		zap.Int("error", info.Status.Error),
		zap.Int("results", info.ResultCount),
		zap.Duration("cost", now.Sub(info.StartedAt)))
}

// planEvent snapshots plan for an observer. Caller holds c.mu.
func planEvent(sess *Session, plan *SearchPlan, now time.Time) Event {
	cp := *plan
	return Event{
		Kind:       EventPlanUpdated,
		SessionID:  sess.ID,
		Generation: sess.Generation,
		PlanKey:    cp.Key(),
		Plan:       &cp,
		Time:       now,
	}
}
