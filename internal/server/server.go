package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/agenthands/crosscheck/internal/core"
	"github.com/agenthands/crosscheck/internal/core/detection"
	"github.com/agenthands/crosscheck/internal/core/model"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Engine   *core.Engine
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
}

func NewServer(engine *core.Engine, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{Engine: engine, Logger: logger, Gatherer: gatherer}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		eng := v1.Group("/engagements/:id")
		eng.POST("/conflicts/detect", s.Detect)
		eng.POST("/conflicts/classify", s.Classify)
		eng.POST("/conflicts/reclassify", s.Reclassify)
		eng.GET("/conflicts", s.ListConflicts)
		eng.GET("/reports/disagreement", s.DisagreementReport)
		eng.GET("/shelf-requests", s.ShelfRequests)
		eng.POST("/seed-terms", s.CreateSeedTerm)

		v1.GET("/conflicts/:conflict_id", s.GetConflict)
		v1.PATCH("/conflicts/:conflict_id/resolve", s.Resolve)
		v1.PATCH("/conflicts/:conflict_id/escalate", s.Escalate)
	}

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Detect(c *gin.Context) {
	result, err := s.Engine.Detect(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to run conflict detection")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"engagement_id":          result.EngagementID,
		"total_conflicts":        result.TotalConflicts(),
		"new_persisted":          result.NewPersisted,
		"sequences_checked":      result.SequencesChecked(),
		"roles_checked":          result.RolesChecked(),
		"counts_by_type":         result.CountsByType,
		"failed_detectors":       result.FailedDetectors,
		"shelf_requests_created": result.ShelfRequestsCreated,
		"conflicts":              result.Conflicts,
	})
}

func (s *Server) Classify(c *gin.Context) {
	classified, err := s.Engine.Classify(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to classify conflicts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"classified": len(classified), "conflicts": classified})
}

func (s *Server) Reclassify(c *gin.Context) {
	classified, err := s.Engine.Reclassify(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to reclassify conflicts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reclassified": len(classified), "conflicts": classified})
}

func (s *Server) ListConflicts(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conflicts, err := s.Engine.List(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.fail(c, err, "Failed to list conflicts")
		return
	}
	if conflicts == nil {
		conflicts = []*model.ConflictObject{}
	}
	c.JSON(http.StatusOK, gin.H{"items": conflicts, "total": len(conflicts)})
}

func (s *Server) DisagreementReport(c *gin.Context) {
	report, err := s.Engine.DisagreementReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to build disagreement report")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) ShelfRequests(c *gin.Context) {
	requests, err := s.Engine.ShelfRequests(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to list shelf requests")
		return
	}
	if requests == nil {
		requests = []*model.ShelfDataRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"items": requests})
}

type SeedTermRequest struct {
	Term   string `json:"term" binding:"required"`
	Domain string `json:"domain"`
}

func (s *Server) CreateSeedTerm(c *gin.Context) {
	var req SeedTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	term := &model.SeedTerm{EngagementID: c.Param("id"), Term: req.Term, Domain: req.Domain}
	if err := s.Engine.AddSeedTerm(c.Request.Context(), term); err != nil {
		s.fail(c, err, "Failed to create seed term")
		return
	}
	c.JSON(http.StatusCreated, term)
}

func (s *Server) GetConflict(c *gin.Context) {
	conflict, err := s.Engine.Get(c.Request.Context(), c.Param("conflict_id"))
	if err != nil {
		s.fail(c, err, "Failed to load conflict")
		return
	}
	c.JSON(http.StatusOK, conflict)
}

func (s *Server) Resolve(c *gin.Context) {
	var req model.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.ResolutionType != "" && !req.ResolutionType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown resolution type"})
		return
	}
	conflict, err := s.Engine.Resolve(c.Request.Context(), c.Param("conflict_id"), req)
	if err != nil {
		s.fail(c, err, "Failed to resolve conflict")
		return
	}
	c.JSON(http.StatusOK, conflict)
}

type EscalateRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) Escalate(c *gin.Context) {
	var req EscalateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	conflict, err := s.Engine.Escalate(c.Request.Context(), c.Param("conflict_id"), req.Notes)
	if err != nil {
		s.fail(c, err, "Failed to escalate conflict")
		return
	}
	c.JSON(http.StatusOK, conflict)
}

func (s *Server) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, detection.ErrInvalidEngagementID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, store.ErrAlreadyResolved), errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(c *gin.Context) (model.ListFilter, error) {
	var f model.ListFilter
	if v := c.Query("mismatch_type"); v != "" {
		f.MismatchType = model.MismatchType(v)
		if !f.MismatchType.Valid() {
			return f, filterError("unknown mismatch_type " + strconv.Quote(v))
		}
	}
	if v := c.Query("resolution_status"); v != "" {
		f.ResolutionStatus = model.ResolutionStatus(v)
		if !f.ResolutionStatus.Valid() {
			return f, filterError("unknown resolution_status " + strconv.Quote(v))
		}
	}
	if v := c.Query("resolution_type"); v != "" {
		f.ResolutionType = model.ResolutionType(v)
		if !f.ResolutionType.Valid() {
			return f, filterError("unknown resolution_type " + strconv.Quote(v))
		}
	}
	for _, p := range []struct {
		key string
		dst **float64
	}{{"min_severity", &f.MinSeverity}, {"max_severity", &f.MaxSeverity}} {
		if v := c.Query(p.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil || n < 0 || n > 1 {
				return f, filterError(p.key + " must be a number between 0 and 1")
			}
			*p.dst = &n
		}
	}
	if v := c.Query("escalated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, filterError("escalated must be a boolean")
		}
		f.Escalated = &b
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if v := c.Query(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, filterError(p.key + " must be a non-negative integer")
			}
			*p.dst = n
		}
	}
	return f, nil
}
