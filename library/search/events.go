package search

import "time"

// EventKind names what happened to a session.
type EventKind string

const (
	// EventSessionStarted fires after a fresh search created its plans.
	EventSessionStarted EventKind = "session_started"
	// EventPlanUpdated fires on every plan status change.
	EventPlanUpdated EventKind = "plan_updated"
	// EventResultsMerged fires after a plan merged at least one new record.
	EventResultsMerged EventKind = "results_merged"
	// EventSessionIdle fires when the scheduler ran out of work.
	EventSessionIdle EventKind = "session_idle"
)

// Event is delivered to observers outside of any controller lock,
// one at a time and in the order the session changed.
type Event struct {
	Kind       EventKind   `json:"kind"`
	SessionID  string      `json:"session_id"`
	Generation uint64      `json:"generation"`
	PlanKey    string      `json:"plan_key,omitempty"`
	Plan       *SearchPlan `json:"plan,omitempty"`
	Accepted   int         `json:"accepted,omitempty"`
	Time       time.Time   `json:"time"`
}

// Observer receives session events on the controller's delivery goroutine.
// A slow observer delays later events but never the scheduler; a panic is logged and dropped.
type Observer func(Event)

// PostMergeEvent describes one batch merged into a session.
type PostMergeEvent struct {
	SessionID  string
	Generation uint64
	PlanKey    string
	Accepted   []ResultRecord
	Total      int
}

// PostMergeHook runs after each task's records are merged,
// e.g. to rebuild indices derived from the merged results.
type PostMergeHook func(PostMergeEvent)
