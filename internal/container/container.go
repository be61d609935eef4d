// Package container wires application dependencies.
package container

import (
	"time"

	"go.uber.org/dig"
	"gorm.io/gorm"

	"attend-sync/internal/app"
	"attend-sync/internal/config"
	"attend-sync/internal/db"
	"attend-sync/internal/geo"
	"attend-sync/internal/handler"
	"attend-sync/internal/policy"
	"attend-sync/internal/queue"
	"attend-sync/internal/record"
	"attend-sync/internal/router"
	"attend-sync/internal/services"
	"attend-sync/internal/store"
	"attend-sync/internal/syncsvc"
	"attend-sync/internal/types"
	"attend-sync/internal/upstream"
	"attend-sync/internal/verification"
)

// BuildContainer creates and configures the dependency injection container.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		config.NewManager,
		db.NewDB,
		store.NewStore,

		newGeoVerifier,
		newLockoutManager,
		verification.NewTokenGuard,
		verification.NewDispatcher,

		record.NewStateMachine,
		policy.NewEngine,
		newPolicyProvider,
		newOfflineQueue,

		upstream.NewClient,
		newReconciler,
		syncsvc.NewService,
		services.NewAuditArchiveService,

		handler.NewServer,
		router.NewRouter,
		app.NewApp,
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func newGeoVerifier(configManager types.ConfigManager) *geo.Verifier {
	return geo.NewVerifier(configManager.GetVerificationConfig().AccuracyCeilingMeters)
}

func newLockoutManager(database *gorm.DB, configManager types.ConfigManager) *verification.LockoutManager {
	cfg := configManager.GetVerificationConfig()
	return verification.NewLockoutManager(database, cfg.PinMaxFailures,
		time.Duration(cfg.PinLockoutMinutes)*time.Minute)
}

func newOfflineQueue(database *gorm.DB, configManager types.ConfigManager) *queue.OfflineQueue {
	return queue.NewOfflineQueue(database, configManager.GetSyncConfig().RetryHorizonDays)
}

func newPolicyProvider(database *gorm.DB, client *upstream.Client) *policy.Provider {
	return policy.NewProvider(database, client)
}

func newReconciler(
	database *gorm.DB,
	offlineQueue *queue.OfflineQueue,
	states *record.StateMachine,
	client *upstream.Client,
	configManager types.ConfigManager,
) *syncsvc.Reconciler {
	return syncsvc.NewReconciler(database, offlineQueue, states, client, configManager)
}
