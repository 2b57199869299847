package search

import "context"

// SourceEntry is one (site, search entry) pair produced by a SolutionResolver.
// Config is opaque to the controller and handed back to the adapter unchanged.
type SourceEntry struct {
	SourceID  string `json:"source_id"`
	EntryName string `json:"entry_name"`
	Config    any    `json:"-"`
}

// Key returns the plan key of the entry.
func (e SourceEntry) Key() string {
	return PlanKey(e.SourceID, e.EntryName)
}

// AdapterResult is what a SourceAdapter reports for one call.
type AdapterResult struct {
	Status  Status
	Records []ResultRecord
	// Message is a short human readable reason, usually set for error outcomes.
	Message string
}

// SourceAdapter queries one source. It must classify its own failures into a
// terminal Status instead of returning errors, and must be safe for concurrent use.
type SourceAdapter interface {
	Search(ctx context.Context, query string, entry SourceEntry) AdapterResult
}

// AdapterFunc adapts a plain function to SourceAdapter.
type AdapterFunc func(ctx context.Context, query string, entry SourceEntry) AdapterResult

// Search implements SourceAdapter.
func (f AdapterFunc) Search(ctx context.Context, query string, entry SourceEntry) AdapterResult {
	return f(ctx, query, entry)
}

// SolutionResolver expands a solution id into the entries to search.
// Offline sources are expected to be filtered out by the resolver.
type SolutionResolver interface {
	Resolve(ctx context.Context, solutionID string) ([]SourceEntry, error)
}

// ResolverFunc adapts a plain function to SolutionResolver.
type ResolverFunc func(ctx context.Context, solutionID string) ([]SourceEntry, error)

// Resolve implements SolutionResolver.
func (f ResolverFunc) Resolve(ctx context.Context, solutionID string) ([]SourceEntry, error) {
	return f(ctx, solutionID)
}
