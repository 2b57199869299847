package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/tracker-search/library/config"
	"github.com/Laisky/tracker-search/library/search"
)

func TestOpenSnapshotBackendsNone(t *testing.T) {
	b, err := openSnapshotBackends(context.Background(), config.SnapshotSettings{})
	require.NoError(t, err)
	require.Nil(t, b.Store())
	require.NoError(t, b.Close(context.Background()))
}

func TestOpenSnapshotBackendsSQLite(t *testing.T) {
	ctx := context.Background()
	b, err := openSnapshotBackends(ctx, config.SnapshotSettings{
		Backends: []string{backendSQL},
		TTL:      time.Hour,
		SQL: config.SQLSettings{
			Driver: "sqlite3",
			DSN:    "file:cmd_store_test?mode=memory&cache=shared",
			Table:  "snapshots",
		},
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close(ctx)) }()

	store := b.Store()
	require.NotNil(t, store)
	require.NotNil(t, b.sql)

	snap := &search.Snapshot{ID: "s-1", SessionID: "s", Query: "q", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "q", got.Query)

	recent, err := b.sql.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestOpenSnapshotBackendsFailures(t *testing.T) {
	_, err := openSnapshotBackends(context.Background(), config.SnapshotSettings{
		Backends: []string{"dynamo"},
	})
	require.ErrorContains(t, err, "unknown snapshot backend")

	_, err = openSnapshotBackends(context.Background(), config.SnapshotSettings{
		Backends: []string{backendSQL},
		TTL:      time.Hour,
		SQL:      config.SQLSettings{Driver: "nope", DSN: "x", Table: "t"},
	})
	require.ErrorContains(t, err, "sql snapshot backend")

	_, err = openSnapshotBackends(context.Background(), config.SnapshotSettings{
		Backends: []string{backendS3},
	})
	require.ErrorContains(t, err, "s3 snapshot backend")
}
