package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/forgefs/pkg/adapter/nfs"
	"github.com/spf13/viper"
)

// Config represents the complete forgefs configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FORGEFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend and content store sections follow the same pattern: a Type field
// selects the implementation and only the matching option map is decoded by
// the factory for that type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Export names the single NFS export
	Export ExportConfig `mapstructure:"export" yaml:"export"`

	// Backend selects the filesystem that is exported
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Content selects the byte store of the kv backend
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// Metrics controls the operations HTTP server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// ExportConfig describes the export clients mount.
type ExportConfig struct {
	// Name is the export path clients mount. Default: "/"
	Name string `mapstructure:"name" yaml:"name" validate:"required,startswith=/"`

	// ReadOnly rejects every mutating procedure with NFS3ERR_ROFS
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`
}

// BackendConfig selects the exported filesystem.
type BackendConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: local, memory, kv
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=local memory kv"`

	// Local contains options for the local directory backend
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local" yaml:"local"`

	// Memory contains options for the in-memory backend
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// KV contains options for the badger backed backend
	// Only used when Type = "kv"
	KV map[string]any `mapstructure:"kv" yaml:"kv"`
}

// ContentConfig specifies content store configuration.
//
// Only the kv backend stores file data outside its metadata, so this section
// is ignored for the other backends.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains S3-specific configuration
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// NFS uses the nfs.NFSConfig type directly to avoid duplication.
	NFS nfs.NFSConfig `mapstructure:"nfs" yaml:"nfs"`
}

// MetricsConfig controls the operations HTTP server (/metrics, /health,
// /exports/handle).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"required_if=Enabled true"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error: defaults are used. An explicit
// configPath that does not exist is.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// FORGEFS_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix("FORGEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that may come from the environment alone.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"export.name",
	"export.read_only",
	"backend.type",
	"content.type",
	"adapters.nfs.listen",
	"adapters.nfs.max_connections",
	"adapters.nfs.rate_limit.requests_per_second",
	"adapters.nfs.rate_limit.burst",
	"metrics.enabled",
	"metrics.listen",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "forgefs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "forgefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
