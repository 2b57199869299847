// Package adapters implements search.SourceAdapter for site definitions loaded by package sites.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/tracker-search/library/adapters/htmlsel"
	"github.com/Laisky/tracker-search/library/adapters/jsonapi"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
	"github.com/Laisky/tracker-search/library/throttle"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "tracker-search/1.0"
	// maxBodySize caps how much of a response is read.
	maxBodySize = 8 << 20
	// logBodyLimit caps the number of response bytes logged for debugging.
	logBodyLimit = 4096
)

// challenge markers recognised on every site
var defaultChallengeMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"cf_chl_",
	"Just a moment...",
}

// Extractor turns a response body into one field map per item.
type Extractor interface {
	Extract(body []byte, base *url.URL, entry sites.Entry) ([]map[string]string, error)
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger overrides the default logger used when no contextual logger is present.
func WithLogger(logger logSDK.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithThrottle rate limits requests per site.
func WithThrottle(t *throttle.SiteThrottle) Option {
	return func(d *Dispatcher) {
		d.throttle = t
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(d *Dispatcher) {
		if ua = strings.TrimSpace(ua); ua != "" {
			d.userAgent = ua
		}
	}
}

// WithExtractor registers or replaces the extractor of schema.
func WithExtractor(schema sites.Schema, e Extractor) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.extractors[schema] = e
		}
	}
}

// Dispatcher fetches an entry and hands the body to the extractor of the entry's schema.
// Every failure is reported as a search status, never as an error or a panic.
type Dispatcher struct {
	client     *http.Client
	logger     logSDK.Logger
	throttle   *throttle.SiteThrottle
	userAgent  string
	extractors map[sites.Schema]Extractor
}

// NewDispatcher constructs a Dispatcher with the json and html extractors registered.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    log.Logger.Named("adapters"),
		userAgent: defaultUserAgent,
		extractors: map[sites.Schema]Extractor{
			sites.SchemaJSON: jsonapi.New(),
			sites.SchemaHTML: htmlsel.New(),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Search implements search.SourceAdapter.
func (d *Dispatcher) Search(ctx context.Context, query string, src search.SourceEntry) search.AdapterResult {
	records, err := d.search(ctx, query, src)
	if err != nil {
		status := Classify(err)
		d.loggerFor(ctx).Info("source search failed",
			zap.String("plan", src.Key()),
			zap.String("status", status.String()),
			zap.Error(err))
		return search.AdapterResult{Status: status, Message: err.Error()}
	}

	if len(records) == 0 {
		return search.AdapterResult{Status: search.StatusNoResults}
	}
	return search.AdapterResult{Status: search.StatusSuccess, Records: records}
}

func (d *Dispatcher) search(ctx context.Context, query string, src search.SourceEntry) ([]search.ResultRecord, error) {
	target, ok := src.Config.(sites.Target)
	if !ok {
		return nil, errors.Errorf("unsupported entry config %T", src.Config)
	}
	extractor, ok := d.extractors[target.Entry.Schema]
	if !ok {
		return nil, errors.Errorf("no extractor for schema %q", target.Entry.Schema)
	}

	if err := d.throttle.Wait(ctx, target.Site.ID); err != nil {
		return nil, errors.Wrap(err, "throttle")
	}

	body, finalURL, err := d.fetch(ctx, query, target)
	if err != nil {
		return nil, err
	}

	rows, err := extractor.Extract(body, finalURL, target.Entry)
	if err != nil {
		return nil, NewError(search.StatusParseError, err, "extract %s rows", target.Entry.Schema)
	}

	records := make([]search.ResultRecord, 0, len(rows))
	for _, row := range rows {
		r, ok := BuildRecord(row, finalURL)
		if !ok {
			continue
		}
		r.SourceID = src.SourceID
		records = append(records, r)
	}
	if len(rows) > 0 && len(records) == 0 {
		return nil, NewError(search.StatusParseError, nil, "%d rows without title", len(rows))
	}

	return records, nil
}

func (d *Dispatcher) fetch(ctx context.Context, query string, target sites.Target) ([]byte, *url.URL, error) {
	endpoint, err := target.URL()
	if err != nil {
		return nil, nil, err
	}

	req, err := d.newRequest(ctx, query, endpoint, target)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create request")
	}

	logger := d.loggerFor(ctx)
	logger.Debug("outgoing http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.String("query", query))

	startAt := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "send request to %s", target.Site.ID)
	}
	defer resp.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, errors.Wrap(err, "read response body")
	}

	truncatedBody, truncated := truncateForLog(body, logBodyLimit)
	logger.Debug("incoming http response",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncatedBody),
		zap.Bool("body_truncated", truncated),
		zap.Duration("cost", time.Since(startAt)))

	finalURL := resp.Request.URL
	if err = classifyResponse(resp.StatusCode, body, finalURL, target.Entry); err != nil {
		return nil, nil, err
	}
	return body, finalURL, nil
}

func (d *Dispatcher) newRequest(ctx context.Context, query string,
	endpoint *url.URL, target sites.Target) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch target.Entry.Method {
	case http.MethodPost:
		var payload []byte
		contentType := "application/json"
		if target.Entry.Schema == sites.SchemaJSON {
			if payload, err = json.Marshal(map[string]string{target.Entry.QueryParam: query}); err != nil {
				return nil, errors.Wrap(err, "marshal request body")
			}
		} else {
			contentType = "application/x-www-form-urlencoded"
			payload = []byte(url.Values{target.Entry.QueryParam: {query}}.Encode())
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
	default:
		params := endpoint.Query()
		params.Set(target.Entry.QueryParam, query)
		endpoint.RawQuery = params.Encode()
		if req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil); err != nil {
			return nil, err
		}
	}

	if target.Entry.Schema == sites.SchemaJSON {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", d.userAgent)
	for k, v := range target.Site.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// classifyResponse maps status codes and page markers to search statuses.
func classifyResponse(code int, body []byte, finalURL *url.URL, entry sites.Entry) error {
	text := string(body)
	switch {
	case code == http.StatusUnauthorized:
		return NewError(search.StatusNeedsLogin, nil, "http %d", code)
	case containsAny(text, entry.ChallengeMarkers) || containsAny(text, defaultChallengeMarkers):
		return NewError(search.StatusBlocked, nil, "anti-bot challenge (http %d)", code)
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return NewError(search.StatusBlocked, nil, "http %d", code)
	case containsAny(text, entry.LoginMarkers):
		return NewError(search.StatusNeedsLogin, nil, "login page detected")
	case finalURL != nil && strings.Contains(strings.ToLower(finalURL.Path), "login"):
		return NewError(search.StatusNeedsLogin, nil, "redirected to %s", finalURL.Path)
	case code < 200 || code >= 300:
		truncated, _ := truncateForLog(body, 256)
		return NewError(search.StatusUnknownError, nil, "http %d: %s", code, truncated)
	}
	return nil
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) loggerFor(ctx context.Context) logSDK.Logger {
	if ctx == nil {
		return d.logger
	}
	if _, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
		return gmw.GetLogger(ctx).Named("adapters")
	}
	return d.logger
}

// truncateForLog limits the payload logged for debugging and reports whether truncation occurred.
func truncateForLog(body []byte, limit int) (string, bool) {
	if len(body) <= limit {
		return string(body), false
	}
	return string(body[:limit]), true
}
