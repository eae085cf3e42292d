// Package config loads the daemon configuration from an optional YAML
// file, environment overrides and flag bindings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment
// sets a key.
const (
	DefaultListenAddr    = "0.0.0.0:52100"
	DefaultMCPListenAddr = "0.0.0.0:52105"
	DefaultDBFile        = "formicaio.db"

	// DBPathEnv overrides the database path regardless of config file
	// contents, matching what existing deployments already export.
	DBPathEnv = "DB_PATH"

	envPrefix = "FORMICAIO"
)

// Config is the daemon's startup configuration.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// MCPListenAddr is the MCP transport bind address. Empty disables
	// the MCP server.
	MCPListenAddr string `mapstructure:"mcp_listen_addr" yaml:"mcp_listen_addr"`
	// DBPath is the sqlite database file. Empty resolves to
	// <data_dir>/formicaio.db.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// DataDir is the launcher root holding the master binary and every
	// node's data directory. Empty falls back to the launcher default.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// DefaultPort and DefaultMetricsPort seed the create-node form and
	// batch creation when the caller leaves ports unset.
	DefaultPort        uint16 `mapstructure:"default_port" yaml:"default_port"`
	DefaultMetricsPort uint16 `mapstructure:"default_metrics_port" yaml:"default_metrics_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// JSONLogs forces the JSON log handler even on a TTY.
	JSONLogs bool `mapstructure:"json_logs" yaml:"json_logs"`

	// TelemetryInterval is how often action counters are exported.
	// Zero disables telemetry.
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval" yaml:"telemetry_interval"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("mcp_listen_addr", DefaultMCPListenAddr)
	v.SetDefault("db_path", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("default_port", 12000)
	v.SetDefault("default_metrics_port", 14000)
	v.SetDefault("log_level", "info")
	v.SetDefault("json_logs", false)
	v.SetDefault("telemetry_interval", time.Minute)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A non-empty path names an explicit
// config file and it is an error for it to be missing; otherwise
// formicaiod.yaml is searched in the working directory and the user
// config dir, and absence is fine.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("formicaiod")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/formicaio")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Plain DB_PATH wins over everything else.
	if p := os.Getenv(DBPathEnv); p != "" {
		cfg.DBPath = p
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.DefaultPort == 0 || c.DefaultMetricsPort == 0 {
		return fmt.Errorf("default ports must be non-zero")
	}
	return nil
}

// Save writes the configuration as YAML, used by `formicaiod config
// init` to seed a commented starting point.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
