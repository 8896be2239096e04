// Package config provides configuration loading and validation for
// elytra-server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort           = errors.New("invalid server port")
	ErrInvalidCatalogMaxAge  = errors.New("catalog max age must be positive")
	ErrInvalidReaperPeriod   = errors.New("reaper sweep period must be positive")
	ErrInvalidLivenessPeriod = errors.New("registry liveness period must be positive")
)

// Default configuration values.
const (
	defaultPort = 8080
	defaultHost = "0.0.0.0"
	maxPort     = 65535
)

// Config holds all configuration for elytra-server.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Reaper        ReaperConfig        `mapstructure:"reaper"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	Port         int           `mapstructure:"port"`
	AuthToken    string        `mapstructure:"auth_token"`
}

// CatalogConfig holds Dataset Catalog configuration.
type CatalogConfig struct {
	Directory string        `mapstructure:"directory"`
	MaxAge    time.Duration `mapstructure:"max_age"`
}

// RegistryConfig holds Connection Registry configuration.
type RegistryConfig struct {
	LivenessPeriod time.Duration `mapstructure:"liveness_period"`
}

// ReaperConfig holds dataset-reaper configuration.
type ReaperConfig struct {
	SweepPeriod time.Duration `mapstructure:"sweep_period"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ObservabilityConfig holds OpenTelemetry export configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	Environment  string  `mapstructure:"environment"`
	DebugTrace   bool    `mapstructure:"debug_trace"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("config")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/elytra")
	}

	viperCfg.SetEnvPrefix("ELYTRA")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.port", defaultPort)
	viperCfg.SetDefault("server.host", defaultHost)
	viperCfg.SetDefault("server.read_timeout", "30s")
	viperCfg.SetDefault("server.write_timeout", "30s")
	viperCfg.SetDefault("server.idle_timeout", "60s")
	viperCfg.SetDefault("server.auth_token", "")

	viperCfg.SetDefault("catalog.directory", "/var/lib/elytra/catalog")
	viperCfg.SetDefault("catalog.max_age", "2h")

	viperCfg.SetDefault("registry.liveness_period", "30s")

	viperCfg.SetDefault("reaper.sweep_period", "30m")

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "json")
	viperCfg.SetDefault("logging.output", "stdout")

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.environment", "dev")
	viperCfg.SetDefault("observability.debug_trace", false)
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, config.Server.Port)
	}

	if config.Catalog.MaxAge <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCatalogMaxAge, config.Catalog.MaxAge)
	}

	if config.Reaper.SweepPeriod <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReaperPeriod, config.Reaper.SweepPeriod)
	}

	if config.Registry.LivenessPeriod <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidLivenessPeriod, config.Registry.LivenessPeriod)
	}

	return nil
}
