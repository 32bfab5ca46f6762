package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/session"
	"github.com/tphakala/proctor-go/internal/violation"
)

// ViolationSource is the violation log and its live feed.
type ViolationSource interface {
	Snapshot() []violation.Record
	Subscribe(buffer int) (<-chan violation.Record, func())
}

// SessionControl exposes the session status and retry.
type SessionControl interface {
	Status() session.Status
	Retry() error
}

// Controller implements the v1 JSON and SSE endpoints.
type Controller struct {
	violations ViolationSource
	session    SessionControl
	cfg        *Config
	log        logger.Logger
	observer   Observer
	streams    *streamRegistry

	done      chan struct{}
	closeOnce sync.Once
}

// NewController creates a controller. session may be nil when the API runs
// without a session, e.g. in tests of the violation endpoints.
func NewController(cfg *Config, violations ViolationSource, sess SessionControl) *Controller {
	return &Controller{
		violations: violations,
		session:    sess,
		cfg:        cfg,
		log:        GetLogger(),
		streams:    newStreamRegistry(),
		done:       make(chan struct{}),
	}
}

// Close ends every open violation stream.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// RegisterRoutes adds the v1 routes to g.
func (c *Controller) RegisterRoutes(g *echo.Group) {
	g.GET("/violations", c.GetViolations)
	g.GET("/violations/stream", c.StreamViolations, c.streamRateLimiter())
	g.GET("/violations/stream/status", c.GetStreamStatus)
	g.GET("/session", c.GetSession)
	g.POST("/session/retry", c.RetrySession)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err and writes an ErrorResponse with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	}

	c.log.Error("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()))
	return ctx.JSON(code, resp)
}

// ViolationsResponse is the reply of GET /violations.
type ViolationsResponse struct {
	Total   int                `json:"total"`
	Records []violation.Record `json:"records"`
}

// GetViolations returns the violation log, most recent first. The optional
// family query (face, noise or device) filters by detector family and limit
// caps the number of records.
func (c *Controller) GetViolations(ctx echo.Context) error {
	records := c.violations.Snapshot()

	if family := strings.ToLower(ctx.QueryParam("family")); family != "" {
		filtered := records[:0:0]
		for i := range records {
			if violation.Family(records[i].Kind) == family {
				filtered = append(filtered, records[i])
			}
		}
		records = filtered
	}

	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.HandleError(ctx, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		records = records[:min(limit, len(records))]
	}

	if records == nil {
		records = []violation.Record{}
	}
	return ctx.JSON(http.StatusOK, ViolationsResponse{Total: len(records), Records: records})
}

// GetSession returns the session status.
func (c *Controller) GetSession(ctx echo.Context) error {
	if c.session == nil {
		return c.HandleError(ctx, nil, "no session is running", http.StatusServiceUnavailable)
	}
	return ctx.JSON(http.StatusOK, c.session.Status())
}

// RetrySession asks a failed session to re-attempt stream acquisition.
func (c *Controller) RetrySession(ctx echo.Context) error {
	if c.session == nil {
		return c.HandleError(ctx, nil, "no session is running", http.StatusServiceUnavailable)
	}
	if err := c.session.Retry(); err != nil {
		return c.HandleError(ctx, err, "session cannot be retried", http.StatusConflict)
	}
	c.log.Info("session retry requested", logger.String("ip", ctx.RealIP()))
	return ctx.JSON(http.StatusAccepted, map[string]string{"status": "retrying"})
}
