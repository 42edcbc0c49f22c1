package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/r03el/photograbber/internal/api/handler"
)

const healthTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.SetHTMLTemplate(handler.Templates())

	r.GET("/health", healthHandler(deps))

	queueHandler := handler.NewQueueHandler(deps)
	galleryHandler := handler.NewGalleryHandler(deps)

	r.GET("/gallery", galleryHandler.Page)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", queueHandler.Status)
		v1.POST("/submissions", queueHandler.Submit)
		v1.GET("/gallery", galleryHandler.List)

		queue := v1.Group("/queue")
		{
			queue.GET("", queueHandler.ListItems)
			queue.GET("/:id", queueHandler.GetItem)
			queue.POST("/requeue", queueHandler.Requeue)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := deps.Database.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "photograbber-api",
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "photograbber-api",
		})
	}
}
