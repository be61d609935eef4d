// Package app provides application lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"attend-sync/internal/models"
	"attend-sync/internal/services"
	"attend-sync/internal/store"
	"attend-sync/internal/syncsvc"
	"attend-sync/internal/types"
	"attend-sync/internal/utils"
	"attend-sync/internal/version"
)

// App represents the main application.
type App struct {
	engine         *gin.Engine
	configManager  types.ConfigManager
	db             *gorm.DB
	storage        store.Store
	syncService    *syncsvc.Service
	archiveService *services.AuditArchiveService
	httpServer     *http.Server
}

// AppParams contains the dependencies for the App.
type AppParams struct {
	dig.In

	Engine         *gin.Engine
	ConfigManager  types.ConfigManager
	DB             *gorm.DB
	Storage        store.Store
	SyncService    *syncsvc.Service
	ArchiveService *services.AuditArchiveService
}

// NewApp creates a new App instance.
func NewApp(params AppParams) *App {
	return &App{
		engine:         params.Engine,
		configManager:  params.ConfigManager,
		db:             params.DB,
		storage:        params.Storage,
		syncService:    params.SyncService,
		archiveService: params.ArchiveService,
	}
}

// Start migrates the schema, starts background services and begins
// serving HTTP.
func (a *App) Start() error {
	if err := a.migrate(); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	a.syncService.Start()
	a.archiveService.Start()

	serverCfg := a.configManager.GetEffectiveServerConfig()
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      a.engine,
		ReadTimeout:  time.Duration(serverCfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(serverCfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(serverCfg.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":    a.httpServer.Addr,
			"version": version.Version,
		}).Info("Attendance engine started")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()
	return nil
}

// Stop gracefully shuts the application down.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down...")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	a.syncService.Stop(ctx)
	a.archiveService.Stop(ctx)

	if err := a.storage.Close(); err != nil {
		logrus.WithError(err).Warn("Store close error")
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.WithError(err).Warn("Database close error")
		}
	}

	utils.CloseLogger()
	logrus.Info("Shutdown complete")
}

func (a *App) migrate() error {
	return a.db.AutoMigrate(
		&models.AttendanceRecord{},
		&models.RecordTransition{},
		&models.Site{},
		&models.ShiftTemplate{},
		&models.ActualShift{},
		&models.OvertimePolicy{},
		&models.EmployeeSettings{},
		&models.SyncQueueItem{},
		&models.AuditEntry{},
		&models.PinLockout{},
		&models.ConsumedToken{},
	)
}
