// Package config provides environment-driven configuration management.
package config

import (
	"fmt"
	"os"
	"strings"

	"attend-sync/internal/types"
	"attend-sync/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Manager implements types.ConfigManager on top of environment variables.
// A .env file is loaded when present so local development mirrors the
// container deployment.
type Manager struct {
	serverConfig       types.ServerConfig
	authConfig         types.AuthConfig
	corsConfig         types.CORSConfig
	logConfig          types.LogConfig
	databaseConfig     types.DatabaseConfig
	redisDSN           string
	syncConfig         types.SyncConfig
	verificationConfig types.VerificationConfig
}

// NewManager creates a new configuration manager from the environment.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("No .env file loaded")
	}

	m := &Manager{
		serverConfig: types.ServerConfig{
			Port:                    utils.ParseInteger(os.Getenv("PORT"), 3001),
			Host:                    utils.GetEnvOrDefault("HOST", "0.0.0.0"),
			ReadTimeout:             utils.ParseInteger(os.Getenv("SERVER_READ_TIMEOUT"), 60),
			WriteTimeout:            utils.ParseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), 60),
			IdleTimeout:             utils.ParseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), 120),
			GracefulShutdownTimeout: utils.ParseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), 10),
		},
		authConfig: types.AuthConfig{
			Key: os.Getenv("AUTH_KEY"),
		},
		corsConfig: types.CORSConfig{
			Enabled:          utils.ParseBoolean(os.Getenv("ENABLE_CORS"), true),
			AllowedOrigins:   parseList(utils.GetEnvOrDefault("ALLOWED_ORIGINS", "*")),
			AllowedMethods:   parseList(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   parseList(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*")),
			AllowCredentials: utils.ParseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		logConfig: types.LogConfig{
			Level:      utils.GetEnvOrDefault("LOG_LEVEL", "info"),
			Format:     utils.GetEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: utils.ParseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
		},
		databaseConfig: types.DatabaseConfig{
			DSN: os.Getenv("DATABASE_DSN"),
		},
		redisDSN: os.Getenv("REDIS_DSN"),
		syncConfig: types.SyncConfig{
			ServerURL:                os.Getenv("SYNC_SERVER_URL"),
			ServerAuthKey:            os.Getenv("SYNC_SERVER_AUTH_KEY"),
			IntervalSeconds:          utils.ParseInteger(os.Getenv("SYNC_INTERVAL_SECONDS"), 60),
			AttemptTimeoutSeconds:    utils.ParseInteger(os.Getenv("SYNC_ATTEMPT_TIMEOUT_SECONDS"), 30),
			BatchSize:                utils.ParseInteger(os.Getenv("SYNC_BATCH_SIZE"), 100),
			RetryHorizonDays:         utils.ParseInteger(os.Getenv("SYNC_RETRY_HORIZON_DAYS"), 14),
			ErrorVisibilityThreshold: utils.ParseInteger(os.Getenv("SYNC_ERROR_VISIBILITY_THRESHOLD"), 3),
		},
		verificationConfig: types.VerificationConfig{
			AccuracyCeilingMeters: utils.ParseFloat(os.Getenv("GEO_ACCURACY_CEILING_METERS"), 50),
			PinMaxFailures:        utils.ParseInteger(os.Getenv("PIN_MAX_FAILURES"), 5),
			PinLockoutMinutes:     utils.ParseInteger(os.Getenv("PIN_LOCKOUT_MINUTES"), 15),
			AuditArchiveDays:      utils.ParseInteger(os.Getenv("AUDIT_ARCHIVE_DAYS"), 365),
		},
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the configuration for fatal misconfiguration.
func (m *Manager) Validate() error {
	if m.authConfig.Key == "" {
		return fmt.Errorf("AUTH_KEY is required")
	}
	if len(m.authConfig.Key) < 16 {
		return fmt.Errorf("AUTH_KEY must be at least 16 characters")
	}
	if m.databaseConfig.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if m.serverConfig.Port < 1 || m.serverConfig.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", m.serverConfig.Port)
	}
	if m.syncConfig.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}
	if m.syncConfig.RetryHorizonDays < 1 {
		return fmt.Errorf("SYNC_RETRY_HORIZON_DAYS must be at least 1")
	}
	if m.verificationConfig.PinMaxFailures < 1 {
		return fmt.Errorf("PIN_MAX_FAILURES must be at least 1")
	}
	return nil
}

// GetAuthConfig returns authentication configuration.
func (m *Manager) GetAuthConfig() types.AuthConfig { return m.authConfig }

// GetCORSConfig returns CORS configuration.
func (m *Manager) GetCORSConfig() types.CORSConfig { return m.corsConfig }

// GetLogConfig returns logging configuration.
func (m *Manager) GetLogConfig() types.LogConfig { return m.logConfig }

// GetDatabaseConfig returns database configuration.
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig { return m.databaseConfig }

// GetRedisDSN returns the Redis DSN, empty when the memory store is used.
func (m *Manager) GetRedisDSN() string { return m.redisDSN }

// GetEffectiveServerConfig returns the HTTP server configuration.
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig { return m.serverConfig }

// GetSyncConfig returns sync reconciler tunables.
func (m *Manager) GetSyncConfig() types.SyncConfig { return m.syncConfig }

// GetVerificationConfig returns verification dispatcher tunables.
func (m *Manager) GetVerificationConfig() types.VerificationConfig { return m.verificationConfig }

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	storeKind := "memory"
	if m.redisDSN != "" {
		storeKind = "redis"
	}
	logrus.Info("Attendance engine configuration:")
	logrus.Infof("  Listen: %s:%d", m.serverConfig.Host, m.serverConfig.Port)
	logrus.Infof("  Store: %s", storeKind)
	logrus.Infof("  Sync interval: %ds, batch: %d, retry horizon: %dd",
		m.syncConfig.IntervalSeconds, m.syncConfig.BatchSize, m.syncConfig.RetryHorizonDays)
	logrus.Infof("  Geo accuracy ceiling: %.0fm, PIN lockout: %d failures / %dmin",
		m.verificationConfig.AccuracyCeilingMeters,
		m.verificationConfig.PinMaxFailures,
		m.verificationConfig.PinLockoutMinutes)
	if m.syncConfig.ServerURL == "" {
		logrus.Warn("  SYNC_SERVER_URL is not set; reconciliation will report network unavailable")
	}
}
