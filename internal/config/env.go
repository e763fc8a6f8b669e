package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDirName is the per-user directory holding the database, logs and .env
const DefaultDirName = ".synax"

// DefaultConfigDir returns ~/.synax
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultDirName), nil
}

// LoadFromEnv loads configuration from environment variables.
// configDir defaults to ~/.synax; configFilePath defaults to <configDir>/.env.
// SYNAX_ENV_FILE overrides both for the .env location.
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	if envFilePath := getEnvString("SYNAX_ENV_FILE", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load() // fall back to ./.env, ignore if absent
	}

	cfg.API = APIConfig{
		URL:               getEnvString("SYNAX_API_URL", "http://localhost:3000"),
		BasePath:          getEnvString("SYNAX_API_BASE_PATH", "/api"),
		Timeout:           getEnvDuration("SYNAX_API_TIMEOUT", 30*time.Second),
		RequestsPerMinute: getEnvInt("SYNAX_API_REQUESTS_PER_MINUTE", 600),
		BurstLimit:        getEnvInt("SYNAX_API_BURST_LIMIT", 10),
		MaxIdleConns:      getEnvInt("SYNAX_API_MAX_IDLE_CONNS", 100),
		IdleConnTimeout:   getEnvDuration("SYNAX_API_IDLE_CONN_TIMEOUT", 90*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("SYNAX_DB_PATH", filepath.Join(configDir, "synax.db")),
		BusyTimeout:     getEnvInt("SYNAX_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("SYNAX_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("SYNAX_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("SYNAX_DB_CACHE_SIZE", -16000), // ~16MB
		ForeignKeys:     getEnvBool("SYNAX_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("SYNAX_DB_CONN_MAX_LIFE", 5*time.Minute),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("SYNAX_LOG_LEVEL", "info"),
		Format:     getEnvString("SYNAX_LOG_FORMAT", "text"),
		Output:     getEnvString("SYNAX_LOG_OUTPUT", filepath.Join(configDir, "synax.log")),
		AddSource:  getEnvBool("SYNAX_LOG_ADD_SOURCE", true),
		TimeFormat: getTimeFormat(getEnvString("SYNAX_LOG_TIME_FORMAT", "RFC3339")),
		MaxSizeMB:  getEnvInt("SYNAX_LOG_MAX_SIZE_MB", 10),
		MaxBackups: getEnvInt("SYNAX_LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt("SYNAX_LOG_MAX_AGE_DAYS", 28),
	}

	cfg.Sync = SyncConfig{
		MaxRetries: getEnvInt("SYNAX_SYNC_MAX_RETRIES", 3),
		AutoSync:   getEnvBool("SYNAX_SYNC_AUTO", true),
		LogHistory: getEnvInt("SYNAX_SYNC_LOG_HISTORY", 10),
	}

	cfg.Network = NetworkConfig{
		Source:        getEnvString("SYNAX_NETWORK_SOURCE", NetworkSourceProbe),
		ProbePath:     getEnvString("SYNAX_NETWORK_PROBE_PATH", "/health"),
		ProbeInterval: getEnvDuration("SYNAX_NETWORK_PROBE_INTERVAL", 15*time.Second),
		ProbeTimeout:  getEnvDuration("SYNAX_NETWORK_PROBE_TIMEOUT", 5*time.Second),
		ProbeMaxDelay: getEnvDuration("SYNAX_NETWORK_PROBE_MAX_DELAY", 2*time.Minute),
		StatusFile:    getEnvString("SYNAX_NETWORK_STATUS_FILE", filepath.Join(configDir, "network.status")),
	}

	cfg.Agent = AgentConfig{
		Addr:            getEnvString("SYNAX_AGENT_ADDR", "127.0.0.1:7420"),
		ShutdownTimeout: getEnvDuration("SYNAX_AGENT_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		Size: getEnvInt("SYNAX_CACHE_SIZE", 512),
		TTL:  getEnvDuration("SYNAX_CACHE_TTL", 10*time.Minute),
	}

	return cfg, cfg.Validate()
}
