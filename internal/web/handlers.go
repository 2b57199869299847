package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/tracker-search/internal/auth"
	"github.com/Laisky/tracker-search/library/search"
	"github.com/Laisky/tracker-search/library/sites"
)

type searchRequest struct {
	Query    string `json:"query" binding:"required"`
	Solution string `json:"solution"`
	// Fresh defaults to true; false re-queues the resolved plans of the current session.
	Fresh *bool `json:"fresh"`
}

type retryRequest struct {
	Statuses []string `json:"statuses"`
}

type priorityRequest struct {
	Key string `json:"key" binding:"required"`
}

type planView struct {
	Key string `json:"key"`
	search.SearchPlan
}

type sessionResponse struct {
	Session search.SessionInfo `json:"session"`
	Plans   []planView         `json:"plans"`
}

type resultsResponse struct {
	SessionID string                `json:"session_id"`
	Total     int                   `json:"total"`
	Results   []search.ResultRecord `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) sessionView() sessionResponse {
	plans := s.ctrl.Plans()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{Key: p.Key(), SearchPlan: p})
	}
	return sessionResponse{Session: s.ctrl.Info(), Plans: views}
}

func (s *Server) handleSearch(ctx *gin.Context) {
	var req searchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	solution := strings.TrimSpace(req.Solution)
	if solution == "" {
		solution = s.registry.DefaultSolution()
	}

	fresh := req.Fresh == nil || *req.Fresh
	info, err := s.ctrl.Search(ctx.Request.Context(), req.Query, solution, fresh)
	if err != nil {
		s.abort(ctx, err)
		return
	}

	fields := []zap.Field{
		zap.String("session", info.ID),
		zap.String("query", info.Query),
		zap.String("solution", info.SolutionID),
		zap.Int("plans", info.PlanCount),
	}
	if caller, ok := auth.FromContext(ctx.Request.Context()); ok {
		fields = append(fields, zap.String("caller", caller.CallerID), zap.String("key", caller.MaskedKey()))
	}
	gmw.GetLogger(ctx).Info("search started", fields...)
	ctx.JSON(http.StatusAccepted, s.sessionView())
}

func (s *Server) handleSession(ctx *gin.Context) {
	if s.ctrl.Info().ID == "" {
		s.abort(ctx, search.ErrNoSession)
		return
	}
	ctx.JSON(http.StatusOK, s.sessionView())
}

func (s *Server) handleResults(ctx *gin.Context) {
	info := s.ctrl.Info()
	if info.ID == "" {
		s.abort(ctx, search.ErrNoSession)
		return
	}

	records := s.ctrl.Results()
	if source := ctx.Query("source"); source != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.SourceID == source {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	total := len(records)
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}

	ctx.JSON(http.StatusOK, resultsResponse{
		SessionID: info.ID,
		Total:     total,
		Results:   records,
	})
}

func (s *Server) handleRetry(ctx *gin.Context) {
	var req retryRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	statuses := make([]search.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		st, err := search.ParseStatus(raw)
		if err != nil {
			s.abort(ctx, err)
			return
		}
		statuses = append(statuses, st)
	}

	n, err := s.ctrl.Retry(ctx.Request.Context(), statuses...)
	if err != nil {
		s.abort(ctx, err)
		return
	}

	gmw.GetLogger(ctx).Info("retry queued", zap.Int("plans", n))
	ctx.JSON(http.StatusAccepted, gin.H{"requeued": n})
}

func (s *Server) handlePriority(ctx *gin.Context) {
	var req priorityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.ctrl.RaisePriority(req.Key); err != nil {
		s.abort(ctx, err)
		return
	}

	plan, err := s.ctrl.Plan(req.Key)
	if err != nil {
		s.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, planView{Key: plan.Key(), SearchPlan: plan})
}

func (s *Server) handleCancel(ctx *gin.Context) {
	n := s.ctrl.Cancel()
	gmw.GetLogger(ctx).Info("search cancelled", zap.Int("plans", n))
	ctx.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) handleSaveSnapshot(ctx *gin.Context) {
	if s.store == nil {
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "snapshot storage is not configured"})
		return
	}

	snap, err := s.ctrl.SaveSnapshot(ctx.Request.Context(), s.store)
	if err != nil {
		s.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"id": snap.ID, "results": len(snap.Results)})
}

func (s *Server) handleLoadSnapshot(ctx *gin.Context) {
	if s.store == nil {
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "snapshot storage is not configured"})
		return
	}

	snap, err := s.store.Load(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		s.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

func (s *Server) handleSites(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"sites": s.registry.Sites()})
}

func (s *Server) handleSolutions(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"default":   s.registry.DefaultSolution(),
		"solutions": s.registry.Solutions(),
	})
}

// abort maps domain errors onto HTTP status codes.
func (s *Server) abort(ctx *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		gmw.GetLogger(ctx).Error("request failed", zap.Error(err))
	} else {
		gmw.GetLogger(ctx).Debug("request rejected", zap.Error(err))
	}
	ctx.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrNoSources),
		errors.Is(err, search.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrNoSession),
		errors.Is(err, search.ErrPlanNotFound),
		errors.Is(err, search.ErrSnapshotNotFound),
		errors.Is(err, sites.ErrSolutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrIllegalTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
