package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/spf13/cast"
)

// snapshot backends accepted in settings.snapshot.backends.
const (
	backendSQL   = "sql"
	backendRedis = "redis"
	backendMongo = "mongo"
	backendS3    = "s3"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// check inspects one raw value and describes what is wrong with it,
// or returns "" when the value is acceptable.
type check func(raw any) string

// rule binds a check to a config key.
type rule struct {
	key      string
	required bool
	check    check
}

func optional(key string, c check) rule { return rule{key: key, check: c} }
func required(key string, c check) rule { return rule{key: key, required: true, check: c} }

var (
	searchRules = []rule{
		optional("settings.search.max_concurrent_sources", intAtLeast(1)),
		optional("settings.search.wait_timeout_seconds", intAtLeast(1)),
		optional("settings.search.default_solution", nonEmptyString),
		optional("settings.search.sites_file", nonEmptyString),
	}
	httpRules = []rule{
		optional("settings.http.timeout_ms", intAtLeast(1)),
		optional("settings.http.user_agent", nonEmptyString),
		optional("settings.http.proxy", absoluteURL),
	}
	throttleRules = []rule{
		optional("settings.throttle.total_per_sec", positiveFloat),
		optional("settings.throttle.site_per_sec", positiveFloat),
		optional("settings.throttle.total_burst", intAtLeast(1)),
		optional("settings.throttle.site_burst", intAtLeast(1)),
	}
	webRules = []rule{
		optional("settings.web.allowed_origins", stringList),
		optional("settings.web.api_keys", stringList),
		optional("settings.mcp.enabled", boolean),
		optional("settings.mcp.max_wait_seconds", intAtLeast(1)),
	}

	// backendRules lists what each enabled snapshot backend needs.
	backendRules = map[string][]rule{
		backendSQL: {
			required("settings.snapshot.sql.dsn", nonEmptyString),
			optional("settings.snapshot.sql.driver", oneOf("sqlite3", "pgx")),
		},
		backendRedis: {
			required("settings.snapshot.redis.addr", hostOnly),
			optional("settings.snapshot.redis.db", intAtLeast(0)),
		},
		backendMongo: {
			required("settings.snapshot.mongo.uri", nonEmptyString),
		},
		backendS3: {
			required("settings.snapshot.s3.endpoint", hostOnly),
			required("settings.snapshot.s3.bucket", nonEmptyString),
			required("settings.snapshot.s3.access_key", nonEmptyString),
			required("settings.snapshot.s3.secret_key", nonEmptyString),
			optional("settings.snapshot.s3.secure", boolean),
		},
	}
)

// validateStartupConfig validates the shared config before any component starts.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.Shared.Get(key)
	})
}

// validateStartupConfigWithGetter reports every problem found, not just the first.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	var problems []string
	apply := func(rules []rule) {
		for _, r := range rules {
			if msg := r.apply(get); msg != "" {
				problems = append(problems, msg)
			}
		}
	}

	apply(searchRules)
	apply(httpRules)
	apply(throttleRules)
	apply([]rule{optional("settings.snapshot.ttl_hours", intAtLeast(1))})

	backends, ok := parseStringList(get("settings.snapshot.backends"))
	if !ok {
		problems = append(problems, "settings.snapshot.backends must be a list of strings")
	}
	for _, backend := range backends {
		rules, known := backendRules[backend]
		if !known {
			problems = append(problems, fmt.Sprintf("settings.snapshot.backends: unknown backend %q", backend))
			continue
		}
		apply(rules)
	}

	apply(webRules)

	if len(problems) == 0 {
		return nil
	}
	return errors.Errorf("invalid configuration:\n - %s", strings.Join(problems, "\n - "))
}

func (r rule) apply(get configGetter) string {
	raw := get(r.key)
	if raw == nil {
		if r.required {
			return r.key + " is required"
		}
		return ""
	}
	if msg := r.check(raw); msg != "" {
		return r.key + " " + msg
	}
	return ""
}

func intAtLeast(min int) check {
	return func(raw any) string {
		if f, ok := raw.(float64); ok && math.Trunc(f) != f {
			return "must be an integer"
		}
		v, err := cast.ToIntE(raw)
		if err != nil {
			return "must be an integer"
		}
		if v < min {
			return fmt.Sprintf("must be >= %d", min)
		}
		return ""
	}
}

func positiveFloat(raw any) string {
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return "must be a float"
	}
	if v <= 0 {
		return "must be > 0"
	}
	return ""
}

func boolean(raw any) string {
	if _, err := cast.ToBoolE(raw); err != nil {
		return "must be a boolean"
	}
	return ""
}

func nonEmptyString(raw any) string {
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "must be a non-empty string"
	}
	return ""
}

func oneOf(allowed ...string) check {
	return func(raw any) string {
		s, _ := raw.(string)
		for _, a := range allowed {
			if s == a {
				return ""
			}
		}
		return "must be " + strings.Join(allowed, " or ")
	}
}

// absoluteURL accepts an empty string, which disables the proxy.
func absoluteURL(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return "must be a string URL"
	}
	if s = strings.TrimSpace(s); s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "must be a valid absolute URL"
	}
	return ""
}

// hostOnly accepts host[:port] without scheme or path.
func hostOnly(raw any) string {
	s, _ := raw.(string)
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "/") {
		return "must be a host without scheme or path"
	}
	return ""
}

func stringList(raw any) string {
	if _, ok := parseStringList(raw); !ok {
		return "must be a list of strings"
	}
	return ""
}

// parseStringList accepts a YAML list or a comma separated string.
// Entries are trimmed and lower-cased, empty ones are dropped.
func parseStringList(value any) ([]string, bool) {
	var raw []string
	switch v := value.(type) {
	case nil:
		return nil, true
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	default:
		return nil, false
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}
