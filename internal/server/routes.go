package server

import (
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/compass/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/compass/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.HealthHandler)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Recommendation routes
	apiRoutes.POST("/recommend", routes.RecommendHandler, middleware.RequirePermission(middleware.PermRecommend))
	apiRoutes.GET("/event-types", routes.GetEventTypesHandler)

	// Job routes
	jobs := apiRoutes.Group("/jobs", middleware.RequirePermission(middleware.PermJobs))
	jobs.POST("/ingest", routes.SubmitIngestJobHandler)
	jobs.POST("/extract", routes.SubmitExtractJobHandler)
	jobs.POST("/relate", routes.SubmitRelateJobHandler)
	jobs.POST("/repair", routes.SubmitRepairJobHandler)
}
