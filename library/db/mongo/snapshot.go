package mongo

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Laisky/tracker-search/library/search"
)

// snapshotDoc wraps a snapshot with its expiry, indexed by a TTL index.
type snapshotDoc struct {
	ID       string           `bson:"_id"`
	Snapshot *search.Snapshot `bson:"snapshot"`
	ExpireAt time.Time        `bson:"expire_at"`
}

// SnapshotStore persists search snapshots in one collection.
type SnapshotStore struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewSnapshotStore creates the TTL index on col and returns the store.
func NewSnapshotStore(ctx context.Context, db DB, collection string, ttl time.Duration) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	s := &SnapshotStore{col: db.GetCol(collection), ttl: ttl}
	if _, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expire_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return nil, errors.Wrap(err, "create ttl index")
	}
	return s, nil
}

// Save upserts snap.
func (s *SnapshotStore) Save(ctx context.Context, snap *search.Snapshot) error {
	doc := snapshotDoc{ID: snap.ID, Snapshot: snap, ExpireAt: time.Now().Add(s.ttl).UTC()}
	if _, err := s.col.ReplaceOne(ctx,
		bson.M{"_id": snap.ID}, doc,
		options.Replace().SetUpsert(true)); err != nil {
		return errors.Wrapf(err, "upsert snapshot %s", snap.ID)
	}
	return nil
}

// Load returns search.ErrSnapshotNotFound for unknown or expired ids.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*search.Snapshot, error) {
	var doc snapshotDoc
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrapf(search.ErrSnapshotNotFound, "id %s", id)
		}
		return nil, errors.Wrapf(err, "find snapshot %s", id)
	}

	// the ttl monitor runs once a minute
	if time.Now().After(doc.ExpireAt) {
		return nil, errors.Wrapf(search.ErrSnapshotNotFound, "id %s expired", id)
	}
	return doc.Snapshot, nil
}
