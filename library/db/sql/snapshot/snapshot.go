// Package snapshot stores search snapshots in a SQL table.
// Statements use $n placeholders, which both sqlite3 and pgx accept.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/tracker-search/library/search"
)

var (
	_ search.SnapshotStore = new(Store)

	regexpTableName = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)
)

// Summary is a snapshot row without its payload.
type Summary struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Query      string    `json:"query"`
	SolutionID string    `json:"solution_id"`
	Results    int       `json:"results"`
	CreatedAt  time.Time `json:"created_at"`
	ExpireAt   time.Time `json:"expire_at"`
}

// Store is a search.SnapshotStore backed by database/sql.
type Store struct {
	opt *option
	db  *sql.DB
}

type option struct {
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Option is a function that configures the store
type Option func(*option) error

func applyOpts(opts ...Option) (*option, error) {
	o := &option{
		tableName: "search_snapshots",
		ttl:       72 * time.Hour,
		now:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return o, nil
}

// WithTableName sets the table name
func WithTableName(tableName string) Option {
	return func(o *option) error {
		if !regexpTableName.MatchString(tableName) {
			return errors.Errorf("invalid table name: %s", tableName)
		}
		o.tableName = tableName
		return nil
	}
}

// WithTTL sets how long a saved snapshot stays loadable
func WithTTL(ttl time.Duration) Option {
	return func(o *option) error {
		if ttl <= 0 {
			return errors.Errorf("ttl must be greater than 0: %s", ttl)
		}
		o.ttl = ttl
		return nil
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *option) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

// New creates the table if needed and returns the store.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "apply opts")
	}

	s := &Store{opt: opt, db: db}
	if err := s.setup(ctx); err != nil {
		return nil, errors.Wrap(err, "setup snapshot table")
	}

	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS ` + s.opt.tableName + ` (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  query TEXT NOT NULL,
  solution_id TEXT NOT NULL,
  results INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL,
  expire_at TIMESTAMP NOT NULL
)`

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "create snapshot table")
	}

	return nil
}

// Save upserts snap.
func (s *Store) Save(ctx context.Context, snap *search.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.New("snapshot id cannot be empty")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	now := s.opt.now().UTC()
	stmt := `
INSERT INTO ` + s.opt.tableName + ` (id, session_id, query, solution_id, results, payload, created_at, expire_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT(id)
DO UPDATE SET payload = EXCLUDED.payload, results = EXCLUDED.results, expire_at = EXCLUDED.expire_at`

	if _, err := s.db.ExecContext(ctx, stmt,
		snap.ID, snap.SessionID, snap.Query, snap.SolutionID, len(snap.Results),
		string(payload), now, now.Add(s.opt.ttl)); err != nil {
		return errors.Wrapf(err, "upsert snapshot %s", snap.ID)
	}

	return nil
}

// Load returns the snapshot. An expired snapshot is deleted and reported as not found.
func (s *Store) Load(ctx context.Context, id string) (*search.Snapshot, error) {
	var (
		payload  string
		expireAt time.Time
	)
	stmt := `SELECT payload, expire_at FROM ` + s.opt.tableName + ` WHERE id = $1 LIMIT 1`
	if err := s.db.QueryRowContext(ctx, stmt, id).Scan(&payload, &expireAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(search.ErrSnapshotNotFound, "id %s", id)
		}
		return nil, errors.Wrapf(err, "get snapshot %s", id)
	}

	if s.opt.now().After(expireAt) {
		_ = s.Delete(ctx, id)
		return nil, errors.Wrapf(search.ErrSnapshotNotFound, "id %s expired", id)
	}

	snap := new(search.Snapshot)
	if err := json.Unmarshal([]byte(payload), snap); err != nil {
		return nil, errors.Wrapf(err, "unmarshal snapshot %s", id)
	}
	return snap, nil
}

// Recent lists the newest unexpired snapshots.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	stmt := `SELECT id, session_id, query, solution_id, results, created_at, expire_at FROM ` +
		s.opt.tableName + ` WHERE expire_at > $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, stmt, s.opt.now().UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent snapshots")
	}
	defer rows.Close() // nolint: errcheck

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Query, &sum.SolutionID,
			&sum.Results, &sum.CreatedAt, &sum.ExpireAt); err != nil {
			return nil, errors.Wrap(err, "scan snapshot summary")
		}
		out = append(out, sum)
	}
	return out, errors.Wrap(rows.Err(), "iterate snapshot summaries")
}

// Delete removes a snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	stmt := `DELETE FROM ` + s.opt.tableName + ` WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return errors.Wrapf(err, "delete snapshot %s", id)
	}
	return nil
}

// PurgeExpired deletes every expired snapshot and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	stmt := `DELETE FROM ` + s.opt.tableName + ` WHERE expire_at <= $1`
	res, err := s.db.ExecContext(ctx, stmt, s.opt.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purge expired snapshots")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected")
}
