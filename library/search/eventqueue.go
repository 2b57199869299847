package search

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
)

// eventQueue hands events to observers one at a time on its own goroutine,
// in the order they were posted.
//
// The controller posts while holding its lock, so delivery order follows the
// order of the state changes. Observers run without any controller or scheduler
// lock held and may call back into the controller.
type eventQueue struct {
	logger    logSDK.Logger
	observers []Observer

	mu       sync.Mutex
	pending  []Event
	draining bool
	// drained is closed whenever nothing is pending or being delivered.
	drained chan struct{}
}

func newEventQueue(logger logSDK.Logger, observers []Observer) *eventQueue {
	drained := make(chan struct{})
	close(drained)
	return &eventQueue{
		logger:    logger,
		observers: observers,
		drained:   drained,
	}
}

// post never blocks on observers.
func (q *eventQueue) post(evs ...Event) {
	if len(q.observers) == 0 || len(evs) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, evs...)
	if q.draining {
		return
	}
	q.draining = true
	q.drained = make(chan struct{})
	go q.drain()
}

func (q *eventQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			close(q.drained)
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		for _, observer := range q.observers {
			q.deliver(observer, ev)
		}
	}
}

func (q *eventQueue) deliver(observer Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("event observer panicked",
				zap.String("event", string(ev.Kind)),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	observer(ev)
}

// wait blocks until every event posted so far was delivered.
func (q *eventQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for event delivery")
	}
}
