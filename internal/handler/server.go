// Package handler contains HTTP handlers for the API server.
package handler

import (
	"go.uber.org/dig"
	"gorm.io/gorm"

	"attend-sync/internal/policy"
	"attend-sync/internal/queue"
	"attend-sync/internal/record"
	"attend-sync/internal/store"
	"attend-sync/internal/syncsvc"
	"attend-sync/internal/types"
	"attend-sync/internal/verification"
)

// Server holds handler dependencies.
type Server struct {
	DB             *gorm.DB
	Store          store.Store
	ConfigManager  types.ConfigManager
	Dispatcher     *verification.Dispatcher
	States         *record.StateMachine
	Queue          *queue.OfflineQueue
	PolicyProvider *policy.Provider
	PolicyEngine   *policy.Engine
	SyncService    *syncsvc.Service
}

// ServerParams contains the dependencies for the handler server.
type ServerParams struct {
	dig.In

	DB             *gorm.DB
	Store          store.Store
	ConfigManager  types.ConfigManager
	Dispatcher     *verification.Dispatcher
	States         *record.StateMachine
	Queue          *queue.OfflineQueue
	PolicyProvider *policy.Provider
	PolicyEngine   *policy.Engine
	SyncService    *syncsvc.Service
}

// NewServer creates a handler server instance.
func NewServer(params ServerParams) *Server {
	return &Server{
		DB:             params.DB,
		Store:          params.Store,
		ConfigManager:  params.ConfigManager,
		Dispatcher:     params.Dispatcher,
		States:         params.States,
		Queue:          params.Queue,
		PolicyProvider: params.PolicyProvider,
		PolicyEngine:   params.PolicyEngine,
		SyncService:    params.SyncService,
	}
}
