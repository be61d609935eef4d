package config

import (
	"attend-sync/internal/types"
)

// MockConfig implements types.ConfigManager for testing
type MockConfig struct {
	AuthKeyValue string
	SyncValue    *types.SyncConfig
}

// GetEffectiveServerConfig returns mock server configuration
func (m *MockConfig) GetEffectiveServerConfig() types.ServerConfig {
	return types.ServerConfig{
		Port:                    3001,
		Host:                    "127.0.0.1",
		ReadTimeout:             60,
		WriteTimeout:            60,
		IdleTimeout:             120,
		GracefulShutdownTimeout: 10,
	}
}

// GetAuthConfig returns mock auth configuration
func (m *MockConfig) GetAuthConfig() types.AuthConfig {
	return types.AuthConfig{
		Key: m.AuthKeyValue,
	}
}

// GetCORSConfig returns mock CORS configuration
func (m *MockConfig) GetCORSConfig() types.CORSConfig {
	return types.CORSConfig{
		Enabled:          false,
		AllowedOrigins:   []string{},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}
}

// GetLogConfig returns mock log configuration
func (m *MockConfig) GetLogConfig() types.LogConfig {
	return types.LogConfig{
		Level:      "info",
		Format:     "text",
		EnableFile: false,
		FilePath:   "./data/logs/app.log",
	}
}

// GetDatabaseConfig returns mock database configuration
func (m *MockConfig) GetDatabaseConfig() types.DatabaseConfig {
	return types.DatabaseConfig{
		DSN: ":memory:",
	}
}

// GetRedisDSN returns mock Redis DSN
func (m *MockConfig) GetRedisDSN() string {
	return ""
}

// GetSyncConfig returns mock sync configuration
func (m *MockConfig) GetSyncConfig() types.SyncConfig {
	if m.SyncValue != nil {
		return *m.SyncValue
	}
	return types.SyncConfig{
		ServerURL:                "http://127.0.0.1:9999",
		IntervalSeconds:          60,
		AttemptTimeoutSeconds:    30,
		BatchSize:                100,
		RetryHorizonDays:         14,
		ErrorVisibilityThreshold: 3,
	}
}

// GetVerificationConfig returns mock verification configuration
func (m *MockConfig) GetVerificationConfig() types.VerificationConfig {
	return types.VerificationConfig{
		AccuracyCeilingMeters: 50,
		PinMaxFailures:        5,
		PinLockoutMinutes:     15,
		AuditArchiveDays:      365,
	}
}

// Validate is a no-op for the mock
func (m *MockConfig) Validate() error {
	return nil
}

// DisplayServerConfig is a no-op for the mock
func (m *MockConfig) DisplayServerConfig() {}
