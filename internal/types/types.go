package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetRedisDSN() string
	GetEffectiveServerConfig() ServerConfig
	GetSyncConfig() SyncConfig
	GetVerificationConfig() VerificationConfig
	Validate() error
	DisplayServerConfig()
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// SyncConfig holds tunables for the sync reconciler.
type SyncConfig struct {
	ServerURL             string `json:"server_url"`
	ServerAuthKey         string `json:"server_auth_key"`
	IntervalSeconds       int    `json:"interval_seconds"`
	AttemptTimeoutSeconds int    `json:"attempt_timeout_seconds"`
	BatchSize             int    `json:"batch_size"`
	// RetryHorizonDays is the maximum age of a queue item before it is
	// flagged stale and excluded from automatic retry.
	RetryHorizonDays int `json:"retry_horizon_days"`
	// ErrorVisibilityThreshold is the number of consecutive failing
	// passes before the last sync error is surfaced to the UI.
	ErrorVisibilityThreshold int `json:"error_visibility_threshold"`
}

// VerificationConfig holds tunables for the verification dispatcher.
type VerificationConfig struct {
	// AccuracyCeilingMeters is the default GPS accuracy ceiling above
	// which a fix is Indeterminate. Sites may override it.
	AccuracyCeilingMeters float64 `json:"accuracy_ceiling_meters"`
	PinMaxFailures        int     `json:"pin_max_failures"`
	PinLockoutMinutes     int     `json:"pin_lockout_minutes"`
	AuditArchiveDays      int     `json:"audit_archive_days"`
}
