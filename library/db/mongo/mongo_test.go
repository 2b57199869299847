package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Laisky/tracker-search/library/search"
)

func stubPing(t *testing.T, err error) {
	t.Helper()
	old := pingMongo
	pingMongo = func(context.Context, *mongo.Client) error { return err }
	t.Cleanup(func() { pingMongo = old })
}

func TestNewDB(t *testing.T) {
	stubPing(t, nil)
	ctx := context.Background()

	// the driver dials lazily, so no server is needed once ping is stubbed
	d, err := NewDB(ctx, DialInfo{URI: "mongodb://127.0.0.1:1", DBName: "tracker"})
	require.NoError(t, err)
	require.Equal(t, "tracker", d.CurrentDB().Name())
	require.Equal(t, "snapshots", d.GetCol("snapshots").Name())

	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))
}

func TestNewDBValidation(t *testing.T) {
	stubPing(t, errors.New("no reachable servers"))
	ctx := context.Background()

	_, err := NewDB(ctx, DialInfo{URI: "mongodb://127.0.0.1:1", DBName: "x"})
	require.ErrorContains(t, err, "no reachable servers")

	_, err = NewDB(ctx, DialInfo{DBName: "x"})
	require.ErrorContains(t, err, "uri")
	_, err = NewDB(ctx, DialInfo{URI: "mongodb://127.0.0.1:1"})
	require.ErrorContains(t, err, "database")
	_, err = NewDB(ctx, DialInfo{URI: "http://not-mongo", DBName: "x"})
	require.Error(t, err)

	_, err = NewSnapshotStore(ctx, nil, "c", time.Hour)
	require.Error(t, err)
}

// TestSnapshotStore needs a running server, e.g.
// TRACKER_SEARCH_TEST_MONGO_URI=mongodb://localhost:27017
func TestSnapshotStore(t *testing.T) {
	uri := os.Getenv("TRACKER_SEARCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TRACKER_SEARCH_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := NewDB(ctx, DialInfo{URI: uri, DBName: "tracker_search_test"})
	require.NoError(t, err)
	defer d.Close(ctx) // nolint: errcheck

	store, err := NewSnapshotStore(ctx, d, "snapshots", time.Hour)
	require.NoError(t, err)

	snap := &search.Snapshot{
		ID:      "mongo-test-" + time.Now().Format("150405.000"),
		Query:   "ubuntu",
		Results: []search.ResultRecord{{UniqueID: "u1", Title: "Ubuntu"}},
	}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.Query, got.Query)
	require.Len(t, got.Results, 1)

	_, err = store.Load(ctx, "missing")
	require.True(t, errors.Is(err, search.ErrSnapshotNotFound))
}
