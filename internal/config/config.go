package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Network source kinds
const (
	NetworkSourceProbe = "probe" // poll the API health endpoint
	NetworkSourceFile  = "file"  // watch a status file written by the host platform
	NetworkSourcePush  = "push"  // transitions posted to the local agent API
)

// Config represents the complete application configuration
type Config struct {
	API      APIConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Sync     SyncConfig
	Network  NetworkConfig
	Agent    AgentConfig
	Cache    CacheConfig

	configDir string
}

// APIConfig describes the remote Synax REST API
type APIConfig struct {
	URL               string        // Scheme and host, e.g. https://app.synax.io
	BasePath          string        // Fixed prefix for every route, e.g. /api
	Timeout           time.Duration // Per-request timeout
	RequestsPerMinute int           // Client-side rate limit
	BurstLimit        int
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error, none
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool
	TimeFormat string
	MaxSizeMB  int // rotate file output after this size
	MaxBackups int
	MaxAgeDays int
}

// SyncConfig controls the sync engine
type SyncConfig struct {
	MaxRetries int  // failed records replay automatically while retry_count is below this
	AutoSync   bool // trigger a cycle after enqueue when online
	LogHistory int  // number of sync log rows shown by `synax status`
}

// NetworkConfig selects and tunes the connectivity source
type NetworkConfig struct {
	Source        string        // probe, file or push
	ProbePath     string        // health endpoint, relative to the API URL
	ProbeInterval time.Duration // poll interval while online
	ProbeTimeout  time.Duration
	ProbeMaxDelay time.Duration // backoff ceiling while offline
	StatusFile    string        // watched file for the file source
}

// AgentConfig configures the local HTTP API used by the UI shell
type AgentConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// CacheConfig sizes the in-memory front of the entity read cache
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// APIBaseURL joins the API URL and base path
func (c *Config) APIBaseURL() string {
	return strings.TrimRight(c.API.URL, "/") + "/" + strings.Trim(c.API.BasePath, "/")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("API config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateNetwork(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache config: size must be positive")
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateAPI() error {
	if c.API.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(c.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url: %s", c.API.URL)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.API.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if err := checkDirectoryWritable(dir); err != nil {
		return fmt.Errorf("database directory: %w", err)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

func (c *Config) validateNetwork() error {
	switch c.Network.Source {
	case NetworkSourceProbe:
		if c.Network.ProbeInterval <= 0 {
			return fmt.Errorf("probe interval must be positive")
		}
		if c.Network.ProbeTimeout <= 0 {
			return fmt.Errorf("probe timeout must be positive")
		}
	case NetworkSourceFile:
		if c.Network.StatusFile == "" {
			return fmt.Errorf("status file cannot be empty for the file source")
		}
	case NetworkSourcePush:
	default:
		return fmt.Errorf("invalid network source: %s", c.Network.Source)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getTimeFormat converts a named time format to its layout string
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "Kitchen":
		return time.Kitchen
	case "DateTime":
		return time.DateTime
	default:
		return name
	}
}

func checkDirectoryWritable(dir string) error {
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	f.Close()
	os.Remove(testFile)

	return nil
}
