package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/database"
	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/queue"
	"github.com/franzego/dispatchd/pkg/circuitbreaker"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

var Version = "1.0.0"

type HealthHandler struct {
	db    *gorm.DB
	redis redis.UniversalClient
	queue queue.Queue
	svc   *dispatch.Service
}

// NewHealthHandler builds the health check. redis may be nil when it is not
// configured.
func NewHealthHandler(db *gorm.DB, rdb redis.UniversalClient, q queue.Queue, svc *dispatch.Service) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, queue: q, svc: svc}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	if err := database.Ping(h.db); err == nil {
		checks["database"] = statusHealthy
	} else {
		checks["database"] = statusUnhealthy
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err == nil {
			checks["redis"] = statusHealthy
		} else {
			checks["redis"] = statusUnhealthy
		}
	}

	if err := h.queue.Ping(ctx); err == nil {
		checks["queue"] = statusHealthy
	} else {
		checks["queue"] = statusUnhealthy
	}

	// An open breaker means a provider is failing; sends are still accepted.
	for name, state := range h.svc.BreakerStates(ctx) {
		if state == circuitbreaker.StateClosed {
			checks["channel:"+name] = statusHealthy
		} else {
			checks["channel:"+name] = statusDegraded
		}
	}

	overall := statusHealthy
	for _, status := range checks {
		if status == statusUnhealthy {
			overall = statusUnhealthy
			break
		} else if status == statusDegraded {
			overall = statusDegraded
		}
	}

	code := http.StatusOK
	if overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
		"version":   Version,
	})
}
