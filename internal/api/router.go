package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/handler"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/middleware"
)

// SetupRouter wires the delay analytics routes
func SetupRouter(cfg *config.Config, h *handler.DelayAnalyticsHandler, logger *log.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Delay analytics API is running",
		})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(cfg.RateLimit, time.Second))
	{
		delay := api.Group("/delay_analytics")
		{
			delay.GET("/routecluster", h.RouteCluster)
			delay.GET("/modecluster", h.ModeCluster)
			delay.GET("/status", h.Status)

			protected := delay.Group("", middleware.Auth(cfg.JWTSecret))
			protected.POST("/preprocess", h.Preprocess)
			protected.DELETE("/status", h.Reset)
		}
	}

	return r
}
