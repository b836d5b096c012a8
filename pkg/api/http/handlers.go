package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/internal/application/orchestrator"
	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// CreateVersionRequest represents a draft version submission
type CreateVersionRequest struct {
	Spec          json.RawMessage `json:"spec" binding:"required"`
	ChangeSummary string          `json:"change_summary"`
}

// TriggerRunRequest represents a run trigger request
type TriggerRunRequest struct {
	PipelineID  string `json:"pipeline_id" binding:"required"`
	VersionID   string `json:"version_id"`
	TriggerType string `json:"trigger_type"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// errorStatus maps engine errors to HTTP statuses and error codes
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidGraph):
		return http.StatusUnprocessableEntity, "INVALID_GRAPH"
	case errors.Is(err, domain.ErrInvalidSpec):
		return http.StatusUnprocessableEntity, "INVALID_SPEC"
	case errors.Is(err, domain.ErrConcurrentPublish):
		return http.StatusConflict, "CONCURRENT_PUBLISH"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrNoPublishedVersion):
		return http.StatusNotFound, "NO_PUBLISHED_VERSION"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)

	detail := ErrorDetail{Code: code, Message: err.Error()}
	if reason, ok := domain.GraphReasonOf(err); ok {
		detail.Details = gin.H{"reason": reason}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		detail.Message = "internal error"
	}

	c.JSON(status, ErrorResponse{Error: detail})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: message,
		},
	})
}

// decodeSpec parses a spec document. A document without an edges key is
// linked in its authored stage order.
func decodeSpec(raw json.RawMessage) (domain.PipelineSpec, error) {
	var spec domain.PipelineSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return spec, err
	}
	if _, ok := keys["edges"]; !ok {
		spec.Edges = domain.ImplicitChain(spec.Stages)
	}
	return spec, nil
}

// handleHealth reports coordinator readiness
func (s *Server) handleHealth(c *gin.Context) {
	pool := s.runs.PoolStatus()
	status, code := "healthy", http.StatusOK
	if !s.runs.Ready() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"coordinator": status,
			"workers": gin.H{
				"total":       pool.TotalWorkers,
				"idle":        pool.IdleWorkers,
				"busy":        pool.BusyWorkers,
				"queue_depth": pool.QueueDepth,
			},
		},
	})
}

// handleCreateVersion stores a new draft version
func (s *Server) handleCreateVersion(c *gin.Context) {
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	spec, err := decodeSpec(req.Spec)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid spec document: %v", err))
		return
	}

	v, err := s.versions.CreateDraft(c.Request.Context(), c.Param("pid"), spec, req.ChangeSummary, actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// handleListVersions lists a pipeline's versions
func (s *Server) handleListVersions(c *gin.Context) {
	list, err := s.versions.List(c.Request.Context(), c.Param("pid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"versions": list,
		"total":    len(list),
	})
}

// pipelineVersion loads the version named in the path and checks it belongs
// to the pipeline in the path
func (s *Server) pipelineVersion(c *gin.Context) (*domain.PipelineVersion, bool) {
	v, err := s.versions.Get(c.Request.Context(), c.Param("vid"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	if v.PipelineID != c.Param("pid") {
		s.writeError(c, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, c.Param("vid")))
		return nil, false
	}
	return v, true
}

// handleGetVersion returns one version
func (s *Server) handleGetVersion(c *gin.Context) {
	v, ok := s.pipelineVersion(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSubmitVersion(c *gin.Context) {
	if _, ok := s.pipelineVersion(c); !ok {
		return
	}
	v, err := s.versions.SubmitForReview(c.Request.Context(), c.Param("vid"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handlePublishVersion(c *gin.Context) {
	if _, ok := s.pipelineVersion(c); !ok {
		return
	}
	v, err := s.versions.ApproveAndPublish(c.Request.Context(), c.Param("vid"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleRejectVersion(c *gin.Context) {
	if _, ok := s.pipelineVersion(c); !ok {
		return
	}
	v, err := s.versions.Reject(c.Request.Context(), c.Param("vid"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// handleDiff compares two versions of a pipeline
func (s *Server) handleDiff(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		badRequest(c, "both from and to version ids are required")
		return
	}

	d, err := s.versions.Diff(c.Request.Context(), c.Param("pid"), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// handleTriggerRun queues a run; execution continues after the response
func (s *Server) handleTriggerRun(c *gin.Context) {
	var req TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	run, err := s.runs.Trigger(c.Request.Context(), orchestrator.TriggerRequest{
		PipelineID:  req.PipelineID,
		VersionID:   req.VersionID,
		TriggerType: req.TriggerType,
		Actor:       actorFrom(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// handleListRuns lists runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	filter := ports.RunFilter{
		PipelineID: c.Query("pipeline_id"),
		Status:     domain.RunStatus(c.Query("status")),
		Limit:      50,
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
		"limit": filter.Limit,
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleStopRun requests a cooperative stop
func (s *Server) handleStopRun(c *gin.Context) {
	run, err := s.runs.Stop(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRerun(c *gin.Context) {
	run, err := s.runs.Rerun(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// handleListEvents replays a run's events after the given sequence number
func (s *Server) handleListEvents(c *gin.Context) {
	var after int64
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			badRequest(c, "after must be a non-negative integer")
			return
		}
		after = n
	}

	events, err := s.runs.ListEvents(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": c.Param("id"),
		"events": events,
	})
}

func (s *Server) handleMetricsSummary(c *gin.Context) {
	summary, err := s.runs.MetricsSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
