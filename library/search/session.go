package search

import "time"

// Session is the aggregate root of one fresh search and the retries made on it.
// All fields are guarded by the owning Controller's lock.
type Session struct {
	ID         string
	Generation uint64
	Query      string
	SolutionID string
	StartedAt  time.Time
	EndedAt    *time.Time
	Active     bool

	plans   map[string]*SearchPlan
	order   []string
	entries map[string]SourceEntry
	results []ResultRecord
	dedup   *Deduplicator
}

func newSession(id string, generation uint64, query, solutionID string, now time.Time) *Session {
	return &Session{
		ID:         id,
		Generation: generation,
		Query:      query,
		SolutionID: solutionID,
		StartedAt:  now,
		plans:      make(map[string]*SearchPlan),
		entries:    make(map[string]SourceEntry),
		dedup:      NewDeduplicator(generation),
	}
}

// upsertPlan returns the plan of entry, creating it on first sight.
func (s *Session) upsertPlan(entry SourceEntry) *SearchPlan {
	key := entry.Key()
	s.entries[key] = entry
	if p, ok := s.plans[key]; ok {
		return p
	}

	p := newPlan(entry.SourceID, entry.EntryName)
	s.plans[key] = p
	s.order = append(s.order, key)
	return p
}

// dropResults removes every merged record of planKey from results and dedup.
func (s *Session) dropResults(planKey string) int {
	kept := s.results[:0:0]
	var removed []string
	for _, r := range s.results {
		if r.SourcePlanKey == planKey {
			removed = append(removed, r.UniqueID)
			continue
		}
		kept = append(kept, r)
	}

	if len(removed) == 0 {
		return 0
	}
	s.results = kept
	s.dedup.Remove(removed...)
	return len(removed)
}

func (s *Session) resultIDs() []string {
	ids := make([]string, 0, len(s.results))
	for _, r := range s.results {
		ids = append(ids, r.UniqueID)
	}
	return ids
}

func (s *Session) planCopies() []SearchPlan {
	plans := make([]SearchPlan, 0, len(s.order))
	for _, key := range s.order {
		plans = append(plans, *s.plans[key])
	}
	return plans
}

func (s *Session) aggregate() AggregateStatus {
	var agg AggregateStatus
	for _, p := range s.plans {
		switch {
		case p.Status.IsSuccess():
			agg.Success++
		case p.Status.IsError():
			agg.Error++
		case p.Status.IsQueued():
			agg.Queued++
		}
	}
	return agg
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Generation:  s.Generation,
		Query:       s.Query,
		SolutionID:  s.SolutionID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Active:      s.Active,
		PlanCount:   len(s.plans),
		ResultCount: len(s.results),
		Status:      s.aggregate(),
	}
}

// AggregateStatus folds every plan status of a session into three counters.
// Cancelled plans count as errors.
type AggregateStatus struct {
	Success int `json:"success"`
	Error   int `json:"error"`
	Queued  int `json:"queued"`
}

// Done reports whether no plan is waiting or working.
func (a AggregateStatus) Done() bool {
	return a.Queued == 0
}

// SessionInfo is a read-only summary of a session.
type SessionInfo struct {
	ID          string          `json:"id"`
	Generation  uint64          `json:"generation"`
	Query       string          `json:"query"`
	SolutionID  string          `json:"solution_id"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Active      bool            `json:"active"`
	PlanCount   int             `json:"plan_count"`
	ResultCount int             `json:"result_count"`
	Status      AggregateStatus `json:"status"`
}
