package search

import "github.com/Laisky/errors/v2"

var (
	// ErrEmptyQuery is returned when a search is started without a query.
	ErrEmptyQuery = errors.New("search query cannot be empty")
	// ErrNoSources is returned when a solution resolves to zero sources.
	ErrNoSources = errors.New("solution resolved to no searchable sources")
	// ErrNoSession is returned by operations that need a session before any search ran.
	ErrNoSession = errors.New("no search session")
	// ErrPlanNotFound is returned when a plan key is unknown to the current session.
	ErrPlanNotFound = errors.New("search plan not found")
	// ErrIllegalTransition is returned when a plan status change is not allowed.
	ErrIllegalTransition = errors.New("illegal search plan status transition")
	// ErrStaleRun marks a task whose session or run has been superseded.
	ErrStaleRun = errors.New("stale search plan run")
	// ErrInvalidStatus is returned when a status string is unknown or not allowed in context.
	ErrInvalidStatus = errors.New("invalid search status")
	// ErrSnapshotNotFound is returned by snapshot stores for unknown ids.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
