// Package router sets up the API routes.
package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"attend-sync/internal/handler"
	"attend-sync/internal/middleware"
	"attend-sync/internal/types"
)

// NewRouter creates the gin engine with all routes registered.
func NewRouter(server *handler.Server, configManager types.ConfigManager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(configManager))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/health", server.Health)

	api := router.Group("/api")
	api.Use(middleware.Auth(configManager))
	{
		api.POST("/punch", server.Punch)

		api.GET("/sync/status", server.SyncStatus)
		api.POST("/sync/force", server.ForceSync)

		api.GET("/summaries/:employeeID", server.DaySummary)
		api.GET("/summaries/:employeeID/week", server.WeekSummary)

		api.GET("/records/:employeeID", server.Records)
		api.GET("/records/:employeeID/history/:recordID", server.RecordHistory)

		api.GET("/audit", server.Audit)

		api.PUT("/sites", server.UpsertSite)
		api.PUT("/policies", server.UpsertPolicy)
		api.PUT("/shifts", server.UpsertShift)
		api.PUT("/settings/:employeeID", server.UpsertSettings)
	}

	return router
}
