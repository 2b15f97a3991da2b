package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter wires every HTTP route. gatherer backs /metrics.
func newRouter(app *App, cfg *Config, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	var allowedOrigins []string
	if cfg.CORSAllowedOrigins != "" {
		for _, o := range strings.Split(cfg.CORSAllowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	if len(allowedOrigins) > 0 {
		slog.Info("CORS allowed origins", "origins", allowedOrigins)
		router.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "X-Requested-With"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	media := &MediaHandler{
		App:            app,
		MaxUploadBytes: cfg.MaxUploadSizeMB << 20,
		MaxPaths:       cfg.Resolve.MaxPaths,
	}
	admin := &AdminHandler{App: app}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/uploads/*filepath", media.HandleLocalFile)
	router.HEAD("/uploads/*filepath", media.HandleLocalFile)

	apiV1 := router.Group("/api/v1")
	{
		mediaGroup := apiV1.Group("/media")
		if cfg.RateLimit.Enabled {
			limiter := NewIPRateLimiter(cfg.RateLimit.Requests, cfg.GetRateLimitDuration())
			mediaGroup.Use(limiter.RateLimitMiddleware())
			slog.Info("media rate limit enabled", "requests", cfg.RateLimit.Requests, "durationMinutes", cfg.RateLimit.DurationMinutes)
		} else {
			slog.Warn("media rate limit disabled")
		}
		mediaGroup.POST("", media.HandleUpload)
		mediaGroup.DELETE("", media.HandleDelete)
		mediaGroup.POST("/post-cleanup", media.HandlePostCleanup)
		mediaGroup.POST("/resolve", media.HandleResolveBatch)
		mediaGroup.GET("/resolve", media.HandleResolveOne)

		adminGroup := apiV1.Group("/admin")
		adminGroup.GET("/storage", admin.HandleGetStorage)
		adminGroup.PUT("/storage", admin.HandlePutStorage)
		adminGroup.POST("/storage/validate", admin.HandleValidateStorage)
		adminGroup.POST("/cleanup", admin.HandleCleanup)
		adminGroup.POST("/cleanup/previews", admin.HandlePreviewCleanup)
	}
	return router
}
