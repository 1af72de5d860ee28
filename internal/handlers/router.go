package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/middleware"
	"github.com/franzego/dispatchd/internal/queue"
)

// Deps are the collaborators the HTTP surface needs. Redis is optional.
type Deps struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Queue     queue.Queue
	Service   *dispatch.Service
	Templates *dispatch.TemplateService
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(cfg *config.Config, deps Deps) (*gin.Engine, error) {
	if deps.DB == nil || deps.Queue == nil || deps.Service == nil || deps.Templates == nil {
		return nil, fmt.Errorf("router: database, queue and services must be provided")
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	health := NewHealthHandler(deps.DB, deps.Redis, deps.Queue, deps.Service)
	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	notifications := NewNotificationHandler(deps.Service)
	templates := NewTemplateHandler(deps.Templates)

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	api.Use(middleware.Auth(cfg.Auth.JWTSecret))
	{
		api.POST("/notifications", notifications.Create)
		api.POST("/notifications/bulk", notifications.CreateBulk)
		api.GET("/notifications/:id", notifications.Get)
		api.GET("/notifications/:id/logs", notifications.Logs)
		api.POST("/notifications/:id/delivered", notifications.ConfirmDelivery)
		api.POST("/notifications/:id/cancel", notifications.Cancel)

		api.GET("/templates", templates.List)
		api.POST("/templates", templates.Create)
		api.GET("/templates/:name", templates.Get)
		api.PUT("/templates/:name", templates.Update)
		api.DELETE("/templates/:name", templates.Deactivate)

		api.GET("/stats", notifications.Stats)
		api.GET("/customers/:id/notifications", notifications.CustomerHistory)
	}
	return r, nil
}
