// Package router assembles the gin engine: global middleware, health
// endpoints, and feature module routes.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apphttp "chathub_backend/internal/http"
	"chathub_backend/platform/config"
	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"
)

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New builds the HTTP engine with all modules mounted under /api/v1.
func New(cfg config.HTTPConfig, env string, db Pinger, log *logger.Logger, modules ...apphttp.Module) *gin.Engine {
	if env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(log))
	engine.Use(corsMiddleware(cfg))

	api := engine.Group("/api/v1")

	api.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		if db != nil {
			if err := db.Ping(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				dbStatus = "unreachable"
				log.DatabaseError("health ping", err)
			}
		}
		c.JSON(status, gin.H{"status": dbStatus, "time": time.Now().UTC()})
	})

	for _, module := range modules {
		module.RegisterRoutes(api)
		log.Info("module mounted", "module", module.Name())
	}

	return engine
}

func corsMiddleware(cfg config.HTTPConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.GetCORSOrigins()
	}
	return cors.New(corsCfg)
}
