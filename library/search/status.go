package search

import (
	"strings"

	"github.com/Laisky/errors/v2"
)

// Status is the lifecycle state of one SearchPlan.
type Status string

const (
	// StatusWaiting means enqueued but not yet dispatched.
	StatusWaiting Status = "waiting"
	// StatusWorking means the source adapter call is in flight.
	StatusWorking Status = "working"
	// StatusSuccess means the source answered with at least one record.
	StatusSuccess Status = "success"
	// StatusNoResults means the source answered with zero records.
	StatusNoResults Status = "noResults"
	// StatusParseError means the response shape was understood but its content was unusable.
	StatusParseError Status = "parseError"
	// StatusUnknownError means the adapter failed unexpectedly.
	StatusUnknownError Status = "unknownError"
	// StatusBlocked means the source answered with an anti-bot challenge.
	StatusBlocked Status = "blocked"
	// StatusNeedsLogin means the source requires authentication.
	StatusNeedsLogin Status = "needsLogin"
	// StatusCancelled means the plan was stopped by Controller.Cancel before it finished.
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusWaiting,
	StatusWorking,
	StatusSuccess,
	StatusNoResults,
	StatusParseError,
	StatusUnknownError,
	StatusBlocked,
	StatusNeedsLogin,
	StatusCancelled,
}

// DefaultRetryStatuses are the outcomes Controller.Retry re-queues when no filter is given.
var DefaultRetryStatuses = []Status{
	StatusParseError,
	StatusUnknownError,
	StatusBlocked,
	StatusNeedsLogin,
}

// ParseStatus converts s into a Status, ignoring case.
func ParseStatus(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), trimmed) {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition happens without a re-queue.
func (s Status) IsTerminal() bool {
	return s.IsSuccess() || s.IsError()
}

// IsSuccess reports whether s is a non-error outcome.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusNoResults
}

// IsError reports whether s is an error outcome, cancellation included.
func (s Status) IsError() bool {
	switch s {
	case StatusParseError, StatusUnknownError, StatusBlocked, StatusNeedsLogin, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsQueued reports whether the plan still occupies, or waits for, a scheduler slot.
func (s Status) IsQueued() bool {
	return s == StatusWaiting || s == StatusWorking
}

// CanTransition reports whether a plan may move from one status to another.
// Re-queueing (any status back to waiting) is legal and handled by requeue.
func CanTransition(from, to Status) bool {
	switch {
	case to == StatusWaiting:
		return true
	case from == StatusWaiting:
		return to == StatusWorking || to == StatusCancelled
	case from == StatusWorking:
		return to.IsTerminal()
	default:
		return false
	}
}
