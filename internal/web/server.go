// Package web gin server
package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/tracker-search/internal/auth"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the collaborators served over HTTP.
type Dependencies struct {
	Controller *search.Controller
	Registry   *sites.Registry
	// Store is optional, snapshot endpoints answer 503 without it.
	Store search.SnapshotStore
	// MCP is mounted at /mcp when not nil.
	MCP http.Handler
	// AllowedOrigins are hosts whose browsers may call the API cross-origin.
	// A leading dot matches every subdomain.
	AllowedOrigins []string
	// Keys guards /api and /mcp when it holds at least one key.
	Keys   *auth.KeySet
	Logger logSDK.Logger
}

// Server exposes the search controller over a REST API.
type Server struct {
	ctrl     *search.Controller
	registry *sites.Registry
	store    search.SnapshotStore
	mcp      http.Handler
	origins  []string
	keys     *auth.KeySet
	logger   logSDK.Logger
}

// NewServer validates deps and builds a Server.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.New("search controller is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Logger.Named("web")
	}

	return &Server{
		ctrl:     deps.Controller,
		registry: deps.Registry,
		store:    deps.Store,
		mcp:      deps.MCP,
		origins:  normalizeOrigins(deps.AllowedOrigins),
		keys:     deps.Keys,
		logger:   deps.Logger,
	}, nil
}

// Router builds the gin engine with every route installed.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(s.logger.Level().String()),
			gmw.WithLogger(s.logger.Named("gin")),
		),
		s.allowCORS,
	)

	router.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	api := router.Group("/api", s.requireKey)
	api.POST("/search", s.handleSearch)
	api.GET("/search", s.handleSession)
	api.GET("/search/results", s.handleResults)
	api.POST("/search/retry", s.handleRetry)
	api.POST("/search/priority", s.handlePriority)
	api.POST("/search/cancel", s.handleCancel)
	api.POST("/search/snapshot", s.handleSaveSnapshot)
	api.GET("/snapshots/:id", s.handleLoadSnapshot)
	api.GET("/sites", s.handleSites)
	api.GET("/solutions", s.handleSolutions)

	if s.mcp != nil {
		mcpHandler := gin.WrapH(auth.HTTPMiddleware(s.keys, s.mcp))
		router.Any("/mcp", mcpHandler)
		router.Any("/mcp/*path", mcpHandler)
	}

	return router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, debug bool) error {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := s.Router()
	if err := gmw.EnableMetric(router); err != nil {
		return errors.Wrap(err, "enable metric server")
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on http", zap.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server exit")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) originAllowed(host string) bool {
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == host {
			return true
		}
		if strings.HasPrefix(allowed, ".") &&
			(strings.HasSuffix(host, allowed) || host == allowed[1:]) {
			return true
		}
	}
	return false
}

// requireKey rejects requests without a configured bearer key.
// Preflight requests pass so that allowCORS can answer them.
func (s *Server) requireKey(ctx *gin.Context) {
	if !s.keys.Enabled() || ctx.Request.Method == http.MethodOptions {
		ctx.Next()
		return
	}

	caller, err := s.keys.Verify(ctx.GetHeader("Authorization"))
	if err != nil {
		gmw.GetLogger(ctx).Debug("reject request", zap.Error(err))
		ctx.Header("WWW-Authenticate", `Bearer realm="tracker-search"`)
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	ctx.Request = ctx.Request.WithContext(auth.WithContext(ctx.Request.Context(), caller))
	ctx.Next()
}

func (s *Server) allowCORS(ctx *gin.Context) {
	origin := ctx.Request.Header.Get("Origin")
	allowedOrigin := ""

	if origin != "" {
		parsedOriginURL, err := url.Parse(origin)
		if err == nil && s.originAllowed(strings.ToLower(parsedOriginURL.Hostname())) {
			allowedOrigin = origin
		}
	}

	if allowedOrigin != "" {
		ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		ctx.Header("Access-Control-Max-Age", "86400")
		ctx.Header("Vary", "Origin")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
	} else if origin != "" && ctx.Request.Method == http.MethodOptions {
		ctx.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx.Next()
}
