package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/drivescore-backend-go/internal/config"
	"github.com/jengzang/drivescore-backend-go/internal/handler"
	"github.com/jengzang/drivescore-backend-go/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, trips *handler.TripHandler, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Drivescore API is running",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/scores/preview", middleware.RateLimit(limiter), trips.PreviewScore)

		authed := api.Group("", middleware.JWTAuth(cfg.JWTSecret), middleware.RateLimit(limiter))
		{
			t := authed.Group("/trips")
			{
				t.POST("", trips.StartTrip)
				t.GET("", trips.GetTrips)
				t.GET("/:id", trips.GetTripByID)
				t.GET("/:id/live", trips.GetSession)
				t.POST("/:id/samples", trips.AddSamples)
				t.POST("/:id/stop", trips.StopTrip)
				t.DELETE("/:id", trips.CancelTrip)
			}

			authed.GET("/drivers/me/summary", trips.GetDriverSummary)
		}
	}

	return r
}
