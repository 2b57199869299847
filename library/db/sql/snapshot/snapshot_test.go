package snapshot

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/tracker-search/library/search"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err, "failed to connect to in-memory db")
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	store, err := New(context.Background(), db, append([]Option{WithTableName("test_snapshots")}, opts...)...)
	require.NoError(t, err, "failed to create snapshot store")
	return store
}

func testSnapshot(id, query string, n int) *search.Snapshot {
	snap := &search.Snapshot{ID: id, SessionID: "sess-" + id, Query: query, SolutionID: "all"}
	for i := 0; i < n; i++ {
		snap.Results = append(snap.Results, search.ResultRecord{
			UniqueID: search.UniqueID("site", string(rune('a'+i))),
			Title:    query,
		})
	}
	return snap
}

func TestSaveAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("s1", "ubuntu", 2)
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "ubuntu", got.Query)
	require.Len(t, got.Results, 2)

	// upsert replaces the payload
	snap.Results = snap.Results[:1]
	require.NoError(t, store.Save(ctx, snap))
	got, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Results, 1)

	_, err = store.Load(ctx, "missing")
	require.True(t, errors.Is(err, search.ErrSnapshotNotFound))

	require.Error(t, store.Save(ctx, &search.Snapshot{}))
}

func TestExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := setupTestStore(t, WithTTL(time.Hour), WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSnapshot("old", "a", 1)))
	clock.now = clock.now.Add(30 * time.Minute)
	require.NoError(t, store.Save(ctx, testSnapshot("new", "b", 1)))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "new", recent[0].ID)
	require.Equal(t, 1, recent[0].Results)

	clock.now = clock.now.Add(45 * time.Minute)
	_, err = store.Load(ctx, "old")
	require.True(t, errors.Is(err, search.ErrSnapshotNotFound), "expired snapshot")

	_, err = store.Load(ctx, "new")
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "old was already deleted on load")
}

func TestOptions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	_, err = New(context.Background(), db, WithTableName("bad name;"))
	require.Error(t, err)
	_, err = New(context.Background(), db, WithTTL(0))
	require.Error(t, err)
	_, err = New(context.Background(), nil)
	require.Error(t, err)
}

func TestDatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := New(context.Background(), db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO search_snapshots").
		WillReturnError(errors.New("disk I/O error"))
	err = store.Save(context.Background(), testSnapshot("s", "q", 1))
	require.ErrorContains(t, err, "disk I/O error")

	mock.ExpectQuery("SELECT payload, expire_at FROM search_snapshots").
		WithArgs("s").
		WillReturnError(errors.New("connection reset"))
	_, err = store.Load(context.Background(), "s")
	require.ErrorContains(t, err, "connection reset")
	require.False(t, errors.Is(err, search.ErrSnapshotNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	_, err = New(context.Background(), db)
	require.ErrorContains(t, err, "permission denied")
}
