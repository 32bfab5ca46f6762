package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/tphakala/proctor-go/internal/logger"
)

const (
	streamBuffer     = 64
	sseWriteDeadline = 10 * time.Second
	eventConnected   = "connected"
	eventViolation   = "violation"
	eventHeartbeat   = "heartbeat"
)

// streamRegistry tracks connected violation stream clients.
type streamRegistry struct {
	mu      sync.RWMutex
	clients map[string]time.Time
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{clients: make(map[string]time.Time)}
}

func (r *streamRegistry) add(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = time.Now()
	return len(r.clients)
}

func (r *streamRegistry) remove(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	return len(r.clients)
}

func (r *streamRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// streamRateLimiter limits violation stream connection attempts per client IP.
func (c *Controller) streamRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(c.cfg.StreamRate / 60),
				Burst:     max(int(c.cfg.StreamRate), 1),
				ExpiresIn: time.Minute,
			},
		),
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded for violation streams",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many violation stream connection attempts, please wait before trying again",
			})
		},
	})
}

// StreamViolations streams newly emitted violations as server-sent events
// until the client disconnects, the sink closes or the server shuts down.
func (c *Controller) StreamViolations(ctx echo.Context) error {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)

	records, unsubscribe := c.violations.Subscribe(streamBuffer)
	defer unsubscribe()

	clientID := uuid.NewString()
	total := c.streams.add(clientID)
	log := c.log.With(logger.String("client_id", clientID), logger.String("ip", ctx.RealIP()))
	log.Info("violation stream client connected", logger.Int("clients", total))
	connectedAt := time.Now()
	if c.observer != nil {
		c.observer.SSEConnected()
	}
	defer func() {
		if c.observer != nil {
			c.observer.SSEDisconnected(time.Since(connectedAt))
		}
		log.Info("violation stream client disconnected", logger.Int("clients", c.streams.remove(clientID)))
	}()

	if err := c.sendSSEMessage(ctx, eventConnected, map[string]string{
		"clientId": clientID,
		"message":  "Connected to violation stream",
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := c.sendSSEMessage(ctx, eventViolation, rec); err != nil {
				log.Debug("violation stream write failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := c.sendSSEMessage(ctx, eventHeartbeat, map[string]any{
				"timestamp": time.Now().Unix(),
				"clients":   c.streams.count(),
			}); err != nil {
				log.Debug("violation stream heartbeat failed, client likely disconnected", logger.Error(err))
				return nil
			}
		case <-ctx.Request().Context().Done():
			return nil
		case <-c.done:
			return nil
		}
	}
}

// sendSSEMessage writes one event and flushes it.
func (c *Controller) sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	if err := rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline)); err != nil {
		c.log.Trace("write deadline not supported for SSE response", logger.Error(err))
	}

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	ctx.Response().Flush()
	if c.observer != nil {
		c.observer.RecordSSEMessage(event)
	}
	return nil
}

// GetStreamStatus reports the number of connected stream clients.
func (c *Controller) GetStreamStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"connected_clients": c.streams.count(),
		"status":            "active",
	})
}
