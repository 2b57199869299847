package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/tracker-search/library/search"
)

// fakeS3 answers path style PUT and GET object requests from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	store, err := New(Config{
		Endpoint:  u.Host,
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "backup",
		Prefix:    "/snapshots/",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	ctx := context.Background()
	snap := &search.Snapshot{ID: "s1", Query: "ubuntu", Results: []search.ResultRecord{{UniqueID: "x", Title: "X"}}}
	require.NoError(t, store.Save(ctx, snap))

	fake.mu.Lock()
	require.Contains(t, fake.objects, "/backup/snapshots/s1.json")
	fake.mu.Unlock()

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "ubuntu", got.Query)
	require.Len(t, got.Results, 1)

	_, err = store.Load(ctx, "missing")
	require.True(t, errors.Is(err, search.ErrSnapshotNotFound), "got %v", err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}
