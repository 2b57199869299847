package config

import (
	"fmt"
	"strings"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
)

const (
	defaultMaxConcurrentSources = 5
	defaultSitesFile            = "sites.yml"
	defaultWaitTimeout          = 60 * time.Second
	defaultHTTPTimeout          = 15 * time.Second
	defaultUserAgent            = "Mozilla/5.0 (X11; Linux x86_64) tracker-search"
	defaultMCPMaxWait           = 60 * time.Second
)

// Settings captures runtime configuration for tracker-search.
type Settings struct {
	Search   SearchSettings
	HTTP     HTTPSettings
	Throttle ThrottleSettings
	Snapshot SnapshotSettings
	Web      WebSettings
	MCP      MCPSettings
}

// WebSettings configures the REST API.
type WebSettings struct {
	// AllowedOrigins are CORS hosts; a leading dot matches subdomains.
	AllowedOrigins []string
	// APIKeys guard /api and /mcp as bearer tokens; empty leaves them open.
	APIKeys []string
}

// MCPSettings configures the MCP endpoint mounted beside the REST API.
type MCPSettings struct {
	Enabled bool
	MaxWait time.Duration
}

// SearchSettings configures the aggregation scheduler.
type SearchSettings struct {
	MaxConcurrentSources int
	// DefaultSolution overrides default_solution of the sites file when set.
	DefaultSolution string
	SitesFile       string
	WaitTimeout     time.Duration
}

// HTTPSettings configures the outgoing HTTP client shared by source adapters.
type HTTPSettings struct {
	Timeout   time.Duration
	UserAgent string
	Proxy     string
}

// ThrottleSettings limits how fast requests leave the process.
type ThrottleSettings struct {
	TotalPerSec float64
	TotalBurst  int
	SitePerSec  float64
	SiteBurst   int
}

// SnapshotSettings selects and configures the snapshot backends.
type SnapshotSettings struct {
	Backends []string
	TTL      time.Duration
	SQL      SQLSettings
	Redis    RedisSettings
	Mongo    MongoSettings
	S3       S3Settings
}

// SQLSettings configures the database/sql snapshot backend.
type SQLSettings struct {
	Driver string
	DSN    string
	Table  string
}

// RedisSettings configures the redis snapshot backend.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// MongoSettings configures the mongo snapshot backend.
type MongoSettings struct {
	URI        string
	Database   string
	Collection string
}

// S3Settings configures the object storage backup of snapshots.
type S3Settings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	Secure    bool
}

// MaxConcurrentSources reads `settings.search.max_concurrent_sources`.
// It is called by the scheduler on every idle to active transition,
// so it must stay cheap and must always return a positive value.
func MaxConcurrentSources() int {
	n := intFromConfig("settings.search.max_concurrent_sources", defaultMaxConcurrentSources)
	if n <= 0 {
		return defaultMaxConcurrentSources
	}
	return n
}

// LoadSettingsFromConfig reads configuration and applies safe defaults.
func LoadSettingsFromConfig() Settings {
	settings := Settings{
		Search: SearchSettings{
			MaxConcurrentSources: MaxConcurrentSources(),
			DefaultSolution:      strings.TrimSpace(gconfig.Shared.GetString("settings.search.default_solution")),
			SitesFile:            ResolvePath(strings.TrimSpace(gconfig.Shared.GetString("settings.search.sites_file"))),
			WaitTimeout:          time.Duration(intFromConfig("settings.search.wait_timeout_seconds", 60)) * time.Second,
		},
		HTTP: HTTPSettings{
			Timeout:   time.Duration(intFromConfig("settings.http.timeout_ms", 15000)) * time.Millisecond,
			UserAgent: strings.TrimSpace(gconfig.Shared.GetString("settings.http.user_agent")),
			Proxy:     strings.TrimSpace(gconfig.Shared.GetString("settings.http.proxy")),
		},
		Throttle: ThrottleSettings{
			TotalPerSec: floatFromConfig("settings.throttle.total_per_sec", 20),
			TotalBurst:  intFromConfig("settings.throttle.total_burst", 40),
			SitePerSec:  floatFromConfig("settings.throttle.site_per_sec", 2),
			SiteBurst:   intFromConfig("settings.throttle.site_burst", 4),
		},
		Snapshot: SnapshotSettings{
			Backends: normalizeList(gconfig.Shared.GetStringSlice("settings.snapshot.backends")),
			TTL:      time.Duration(intFromConfig("settings.snapshot.ttl_hours", 72)) * time.Hour,
			SQL: SQLSettings{
				Driver: strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.sql.driver")),
				DSN:    strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.sql.dsn")),
				Table:  strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.sql.table")),
			},
			Redis: RedisSettings{
				Addr:     strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.redis.addr")),
				Password: gconfig.Shared.GetString("settings.snapshot.redis.password"),
				DB:       intFromConfig("settings.snapshot.redis.db", 0),
			},
			Mongo: MongoSettings{
				URI:        strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.mongo.uri")),
				Database:   strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.mongo.database")),
				Collection: strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.mongo.collection")),
			},
			S3: S3Settings{
				Endpoint:  strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.s3.endpoint")),
				AccessKey: strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.s3.access_key")),
				SecretKey: gconfig.Shared.GetString("settings.snapshot.s3.secret_key"),
				Bucket:    strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.s3.bucket")),
				Prefix:    strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.s3.prefix")),
				Region:    strings.TrimSpace(gconfig.Shared.GetString("settings.snapshot.s3.region")),
				Secure:    gconfig.Shared.GetBool("settings.snapshot.s3.secure"),
			},
		},
		Web: WebSettings{
			AllowedOrigins: normalizeList(gconfig.Shared.GetStringSlice("settings.web.allowed_origins")),
			APIKeys:        trimList(gconfig.Shared.GetStringSlice("settings.web.api_keys")),
		},
		MCP: MCPSettings{
			Enabled: gconfig.Shared.Get("settings.mcp.enabled") == nil || gconfig.Shared.GetBool("settings.mcp.enabled"),
			MaxWait: time.Duration(intFromConfig("settings.mcp.max_wait_seconds", 60)) * time.Second,
		},
	}

	if settings.Search.SitesFile == "" {
		settings.Search.SitesFile = ResolvePath(defaultSitesFile)
	}
	if settings.Search.WaitTimeout <= 0 {
		settings.Search.WaitTimeout = defaultWaitTimeout
	}
	if settings.HTTP.Timeout <= 0 {
		settings.HTTP.Timeout = defaultHTTPTimeout
	}
	if settings.HTTP.UserAgent == "" {
		settings.HTTP.UserAgent = defaultUserAgent
	}
	if settings.Throttle.TotalPerSec <= 0 {
		settings.Throttle.TotalPerSec = 20
	}
	if settings.Throttle.TotalBurst < 1 {
		settings.Throttle.TotalBurst = 1
	}
	if settings.Throttle.SitePerSec <= 0 {
		settings.Throttle.SitePerSec = 2
	}
	if settings.Throttle.SiteBurst < 1 {
		settings.Throttle.SiteBurst = 1
	}
	if settings.Snapshot.TTL <= 0 {
		settings.Snapshot.TTL = 72 * time.Hour
	}
	if settings.Snapshot.SQL.Driver == "" {
		settings.Snapshot.SQL.Driver = "sqlite3"
	}
	if settings.Snapshot.SQL.Table == "" {
		settings.Snapshot.SQL.Table = "search_snapshots"
	}
	if settings.Snapshot.Mongo.Database == "" {
		settings.Snapshot.Mongo.Database = "tracker_search"
	}
	if settings.Snapshot.Mongo.Collection == "" {
		settings.Snapshot.Mongo.Collection = "snapshots"
	}
	if settings.MCP.MaxWait <= 0 {
		settings.MCP.MaxWait = defaultMCPMaxWait
	}
	if settings.Snapshot.S3.Prefix == "" {
		settings.Snapshot.S3.Prefix = "snapshots"
	}

	return settings
}

// intFromConfig reads an int configuration value with a default fallback.
func intFromConfig(key string, def int) int {
	value := gconfig.Shared.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// floatFromConfig reads a float configuration value with a default fallback.
func floatFromConfig(key string, def float64) float64 {
	value := gconfig.Shared.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed float64
		if _, err := fmt.Sscanf(trimmed, "%g", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// normalizeList lower-cases and deduplicates values, splitting comma separated items.
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// trimList drops blank values and keeps the case of the rest.
func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
