package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidateStartupConfigWithGetterEmpty verifies empty configuration passes validation.
func TestValidateStartupConfigWithGetterEmpty(t *testing.T) {
	err := validateStartupConfigWithGetter(newMapConfigGetter(map[string]any{}))
	require.NoError(t, err)
}

func TestValidateStartupConfigWithGetterNil(t *testing.T) {
	require.Error(t, validateStartupConfigWithGetter(nil))
}

// TestValidateStartupConfigWithGetterInvalidConcurrency verifies a non-positive concurrency fails validation.
func TestValidateStartupConfigWithGetterInvalidConcurrency(t *testing.T) {
	cfg := map[string]any{
		"settings": map[string]any{
			"search": map[string]any{
				"max_concurrent_sources": 0,
			},
			"throttle": map[string]any{
				"site_per_sec": "fast",
			},
		},
	}

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.Error(t, err)
	require.Contains(t, err.Error(), "settings.search.max_concurrent_sources must be >= 1")
	require.Contains(t, err.Error(), "settings.throttle.site_per_sec must be a float")
}

// TestValidateStartupConfigWithGetterBackendRequirements verifies enabled backends need their settings.
func TestValidateStartupConfigWithGetterBackendRequirements(t *testing.T) {
	cfg := map[string]any{
		"settings": map[string]any{
			"snapshot": map[string]any{
				"backends": []any{"sql", "redis", "s3", "mongo"},
				"sql":      map[string]any{"driver": "mysql"},
				"redis":    map[string]any{"addr": "redis://localhost:6379"},
			},
		},
	}

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.Error(t, err)
	for _, key := range []string{
		"settings.snapshot.sql.dsn",
		"settings.snapshot.sql.driver",
		"settings.snapshot.redis.addr",
		"settings.snapshot.s3.endpoint",
		"settings.snapshot.s3.bucket",
		"settings.snapshot.mongo.uri",
	} {
		require.Contains(t, err.Error(), key)
	}
}

// TestValidateStartupConfigWithGetterUnknownBackend verifies typos in the backend list are reported.
func TestValidateStartupConfigWithGetterUnknownBackend(t *testing.T) {
	cfg := map[string]any{
		"settings": map[string]any{
			"snapshot": map[string]any{"backends": "sql, dynamo"},
			"web":      map[string]any{"allowed_origins": 42},
		},
	}

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown backend "dynamo"`)
	require.Contains(t, err.Error(), "settings.web.allowed_origins")
}

// TestValidateStartupConfigWithGetterValidConfig verifies valid explicit configuration passes validation.
func TestValidateStartupConfigWithGetterValidConfig(t *testing.T) {
	cfg := map[string]any{
		"settings": map[string]any{
			"search": map[string]any{
				"max_concurrent_sources": 8,
				"default_solution":       "anime",
				"sites_file":             "sites.yml",
				"wait_timeout_seconds":   30,
			},
			"http": map[string]any{
				"timeout_ms": 15000,
				"proxy":      "http://127.0.0.1:8118",
			},
			"throttle": map[string]any{
				"total_per_sec": 20,
				"total_burst":   40,
				"site_per_sec":  0.5,
				"site_burst":    2,
			},
			"snapshot": map[string]any{
				"backends":  []any{"sql", "redis", "mongo", "s3"},
				"ttl_hours": 24,
				"sql":       map[string]any{"driver": "pgx", "dsn": "postgres://u:p@localhost/db"},
				"redis":     map[string]any{"addr": "localhost:6379", "db": 1},
				"mongo":     map[string]any{"uri": "mongodb://localhost:27017"},
				"s3": map[string]any{
					"endpoint":   "s3.example.com",
					"bucket":     "snapshots",
					"access_key": "ak",
					"secret_key": "sk",
					"secure":     true,
				},
			},
			"web": map[string]any{"allowed_origins": []any{".example.com"}},
			"mcp": map[string]any{"enabled": true, "max_wait_seconds": 60},
		},
	}

	err := validateStartupConfigWithGetter(newMapConfigGetter(cfg))
	require.NoError(t, err)
}

func TestChecks(t *testing.T) {
	require.Empty(t, intAtLeast(1)("3"))
	require.Equal(t, "must be an integer", intAtLeast(1)(1.5))
	require.Equal(t, "must be >= 0", intAtLeast(0)(-1))
	require.Equal(t, "must be > 0", positiveFloat(0))
	require.Empty(t, boolean("false"))
	require.NotEmpty(t, boolean("maybe"))
	require.Empty(t, absoluteURL(""))
	require.NotEmpty(t, absoluteURL("127.0.0.1:8118"))
	require.Empty(t, hostOnly("localhost:6379"))
	require.Equal(t, "must be sqlite3 or pgx", oneOf("sqlite3", "pgx")("mysql"))

	require.Equal(t, "settings.x is required", required("settings.x", nonEmptyString).apply(newMapConfigGetter(nil)))
}

func TestParseStringList(t *testing.T) {
	got, ok := parseStringList(" SQL, ,redis ")
	require.True(t, ok)
	require.Equal(t, []string{"sql", "redis"}, got)

	got, ok = parseStringList([]any{"Mongo"})
	require.True(t, ok)
	require.Equal(t, []string{"mongo"}, got)

	_, ok = parseStringList([]any{1})
	require.False(t, ok)
}

// newMapConfigGetter builds a dotted-path getter for nested map-based test configuration.
// It accepts a nested map and returns a getter function compatible with validateStartupConfigWithGetter.
func newMapConfigGetter(root map[string]any) configGetter {
	return func(key string) any {
		if key == "" {
			return nil
		}

		parts := strings.Split(key, ".")
		var current any = root
		for _, part := range parts {
			nextMap, ok := current.(map[string]any)
			if !ok {
				return nil
			}

			next, exists := nextMap[part]
			if !exists {
				return nil
			}
			current = next
		}

		return current
	}
}
