package search

import (
	"time"

	"github.com/Laisky/errors/v2"
)

// DefaultPriority is the priority of a freshly created plan.
const DefaultPriority = 1

// PlanKey joins a source id and entry name into the key that identifies a plan within a session.
func PlanKey(sourceID, entryName string) string {
	return sourceID + "|" + entryName
}

// SearchPlan tracks the lifecycle of one (source, entry) pair within a session.
type SearchPlan struct {
	SourceID    string     `json:"source_id"`
	EntryName   string     `json:"entry_name"`
	Status      Status     `json:"status"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Priority    int        `json:"priority"`
	ResultCount int        `json:"result_count"`
	Attempts    int        `json:"attempts"`
	Message     string     `json:"message,omitempty"`

	// run changes every time the plan is re-queued, so a completion can tell
	// whether it still belongs to the current run.
	run uint64
}

func newPlan(sourceID, entryName string) *SearchPlan {
	return &SearchPlan{
		SourceID:  sourceID,
		EntryName: entryName,
		Status:    StatusWaiting,
		Priority:  DefaultPriority,
	}
}

// Key returns the plan key.
func (p *SearchPlan) Key() string {
	return PlanKey(p.SourceID, p.EntryName)
}

// Cost is how long the last run took, zero until the run ended.
func (p *SearchPlan) Cost() time.Duration {
	if p.StartedAt == nil || p.EndedAt == nil {
		return 0
	}
	return p.EndedAt.Sub(*p.StartedAt)
}

// requeue resets the plan to waiting for a new run.
func (p *SearchPlan) requeue(now time.Time) {
	p.run++
	p.Status = StatusWaiting
	p.QueuedAt = timePtr(now)
	p.StartedAt = nil
	p.EndedAt = nil
	p.ResultCount = 0
	p.Message = ""
}

// transition moves the plan to status to and stamps the matching timestamp.
func (p *SearchPlan) transition(to Status, now time.Time) error {
	if to == StatusWaiting {
		p.requeue(now)
		return nil
	}
	if !CanTransition(p.Status, to) {
		return errors.Wrapf(ErrIllegalTransition, "plan %s: %s -> %s", p.Key(), p.Status, to)
	}

	p.Status = to
	switch {
	case to == StatusWorking:
		p.Attempts++
		p.StartedAt = timePtr(notBefore(now, p.QueuedAt))
	case to.IsTerminal():
		ref := p.StartedAt
		if ref == nil {
			ref = p.QueuedAt
		}
		p.EndedAt = timePtr(notBefore(now, ref))
	}
	return nil
}

// notBefore keeps plan timestamps non-decreasing even if the clock steps back.
func notBefore(t time.Time, ref *time.Time) time.Time {
	if ref != nil && t.Before(*ref) {
		return *ref
	}
	return t
}

func timePtr(t time.Time) *time.Time {
	return &t
}
