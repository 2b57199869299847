package search

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"golang.org/x/sync/errgroup"
)

// Snapshot is a persisted copy of one session.
type Snapshot struct {
	ID         string          `json:"id" bson:"_id"`
	SessionID  string          `json:"session_id" bson:"session_id"`
	Generation uint64          `json:"generation" bson:"generation"`
	Query      string          `json:"query" bson:"query"`
	SolutionID string          `json:"solution_id" bson:"solution_id"`
	StartedAt  time.Time       `json:"started_at" bson:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
	Status     AggregateStatus `json:"status" bson:"status"`
	Plans      []SearchPlan    `json:"plans" bson:"plans"`
	Results    []ResultRecord  `json:"results" bson:"results"`
}

// newSnapshot copies sess. Caller holds the controller lock.
func newSnapshot(sess *Session, now time.Time) *Snapshot {
	return &Snapshot{
		ID:         sess.ID + "-" + now.UTC().Format("20060102T150405.000"),
		SessionID:  sess.ID,
		Generation: sess.Generation,
		Query:      sess.Query,
		SolutionID: sess.SolutionID,
		StartedAt:  sess.StartedAt,
		EndedAt:    sess.EndedAt,
		CreatedAt:  now,
		Status:     sess.aggregate(),
		Plans:      sess.planCopies(),
		Results:    append([]ResultRecord(nil), sess.results...),
	}
}

// SnapshotStore persists snapshots. Load returns ErrSnapshotNotFound for unknown ids.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
}

// MultiStore fans saves out to every backend and loads from the first one that has the snapshot.
type MultiStore struct {
	stores []SnapshotStore
}

// NewMultiStore combines stores, skipping nil ones.
func NewMultiStore(stores ...SnapshotStore) *MultiStore {
	m := &MultiStore{}
	for _, s := range stores {
		if s != nil {
			m.stores = append(m.stores, s)
		}
	}
	return m
}

// Len returns the number of backends.
func (m *MultiStore) Len() int {
	return len(m.stores)
}

// Save writes snap to every backend concurrently and fails if any of them fails.
func (m *MultiStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	if len(m.stores) == 0 {
		return errors.New("no snapshot backend configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range m.stores {
		g.Go(func() error {
			if err := s.Save(gctx, snap); err != nil {
				return errors.Wrapf(err, "snapshot backend #%d", i)
			}
			return nil
		})
	}
	return g.Wait()
}

// Load tries the backends in order.
func (m *MultiStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var lastErr error = ErrSnapshotNotFound
	for _, s := range m.stores {
		snap, err := s.Load(ctx, id)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			lastErr = err
		}
	}
	return nil, errors.Wrapf(lastErr, "load snapshot %q", id)
}
