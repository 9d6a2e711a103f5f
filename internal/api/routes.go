package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger())

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/batches", handler.GetBatches)

		repos := v1.Group("/repos/:owner/:repo")
		{
			repos.GET("/dead-letters", handler.GetDeadLetters)
			repos.GET("/pulls", handler.GetPullRequests)
			repos.GET("/summary", handler.GetSummary)

			// Aggregates over stored stage-1 rows
			pulls := repos.Group("/pulls/:state")
			{
				pulls.GET("/authors", handler.GetAuthors)
				pulls.GET("/histogram", handler.GetHistogram)
				pulls.GET("/drive-by", handler.GetDriveBy)
			}
		}
	}

	return router
}
