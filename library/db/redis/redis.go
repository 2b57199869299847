// Package redis stores search snapshots and the recent searches history in redis.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	gredis "github.com/Laisky/go-redis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Laisky/tracker-search/library/search"
)

// HistoryItem is one entry of the recent searches list.
type HistoryItem struct {
	SnapshotID string                 `json:"snapshot_id"`
	Query      string                 `json:"query"`
	SolutionID string                 `json:"solution_id"`
	Status     search.AggregateStatus `json:"status"`
	Results    int                    `json:"results"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Option configures DB.
type Option func(*DB)

// WithTTL sets how long snapshots are kept.
func WithTTL(ttl time.Duration) Option {
	return func(db *DB) {
		if ttl > 0 {
			db.ttl = ttl
		}
	}
}

// WithHistoryLimit caps the recent searches list.
func WithHistoryLimit(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.historyLimit = n
		}
	}
}

// DB is a wrapper for go-redis
type DB struct {
	rdb          *redis.Client
	utils        *gredis.Utils
	ttl          time.Duration
	historyLimit int
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options, opts ...Option) *DB {
	rdb := redis.NewClient(opt)
	db := &DB{
		rdb:          rdb,
		utils:        gredis.NewRedisUtils(rdb),
		ttl:          defaultTTL,
		historyLimit: defaultHistoryLimit,
	}
	for _, o := range opts {
		o(db)
	}
	return db
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return errors.Wrap(db.rdb.Ping(ctx).Err(), "ping redis")
}

// Close closes the client.
func (db *DB) Close() error {
	return db.rdb.Close()
}

// Save stores snap with the configured ttl and appends it to the history list.
func (db *DB) Save(ctx context.Context, snap *search.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err = db.rdb.Set(ctx, keyPrefixSnapshot+snap.ID, payload, db.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set snapshot %s", snap.ID)
	}

	item := &HistoryItem{
		SnapshotID: snap.ID,
		Query:      snap.Query,
		SolutionID: snap.SolutionID,
		Status:     snap.Status,
		Results:    len(snap.Results),
		CreatedAt:  snap.CreatedAt,
	}
	itemPayload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "marshal history item")
	}
	if err = db.utils.RPush(ctx, KeyHistory, []interface{}{itemPayload}); err != nil {
		return errors.Wrap(err, "rpush history")
	}
	if err = db.rdb.LTrim(ctx, KeyHistory, int64(-db.historyLimit), -1).Err(); err != nil {
		return errors.Wrap(err, "trim history")
	}
	return nil
}

// Load returns search.ErrSnapshotNotFound for unknown or expired ids.
func (db *DB) Load(ctx context.Context, id string) (*search.Snapshot, error) {
	payload, err := db.rdb.Get(ctx, keyPrefixSnapshot+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(search.ErrSnapshotNotFound, "id %s", id)
		}
		return nil, errors.Wrapf(err, "get snapshot %s", id)
	}

	snap := new(search.Snapshot)
	if err = json.Unmarshal(payload, snap); err != nil {
		return nil, errors.Wrapf(err, "unmarshal snapshot %s", id)
	}
	return snap, nil
}

// History returns up to n most recent history items, newest first.
func (db *DB) History(ctx context.Context, n int) ([]HistoryItem, error) {
	if n <= 0 {
		n = db.historyLimit
	}
	raws, err := db.rdb.LRange(ctx, KeyHistory, int64(-n), -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "lrange history")
	}

	items := make([]HistoryItem, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var item HistoryItem
		if err = json.Unmarshal([]byte(raws[i]), &item); err != nil {
			return nil, errors.Wrap(err, "unmarshal history item")
		}
		items = append(items, item)
	}
	return items, nil
}
