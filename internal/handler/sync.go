package handler

import (
	"github.com/gin-gonic/gin"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/response"
)

// SyncStatus reports the queue depth and the outcome of recent sync
// passes.
func (s *Server) SyncStatus(c *gin.Context) {
	depth, err := s.Queue.Depth(c.Request.Context())
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	stale, err := s.Queue.StaleItems(c.Request.Context())
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	status := s.SyncService.Status()
	response.Success(c, gin.H{
		"status":      status,
		"queue_depth": depth,
		"stale_count": len(stale),
	})
}

// ForceSync triggers an immediate sync pass without waiting for the
// schedule. The trigger is asynchronous; status is observed separately.
func (s *Server) ForceSync(c *gin.Context) {
	s.SyncService.Force()
	response.Success(c, gin.H{"triggered": true})
}
