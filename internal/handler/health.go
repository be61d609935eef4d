package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"attend-sync/internal/version"
)

var startTime = time.Now()

// Health reports process liveness and database reachability.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	httpStatus := 200

	sqlDB, err := s.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.Version,
		"uptime":  time.Since(startTime).String(),
	})
}
