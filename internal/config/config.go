package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds all configuration settings for the gateway daemon and the
// EBICS host simulator.
type Config struct {
	// Server configuration
	Server struct {
		Host string
		Port int
	}
	// Store configuration
	Store struct {
		// SnapshotPath is the file the in-memory store is restored from at
		// startup and saved to at shutdown; empty disables snapshotting.
		SnapshotPath string
	}
	// Scheduler configuration
	Scheduler struct {
		TickInterval string // e.g. "30s"
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.gatewayd")
	v.AddConfigPath("/etc/gatewayd/")

	setDefaults()

	v.SetEnvPrefix("GATEWAYD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(
		strings.NewReplacer(".", "_"),
	)

	if err := ensureConfig(); err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults() {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("store.snapshotpath", "")

	v.SetDefault("scheduler.tickinterval", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

// ensureConfig creates a default config file if none exists.
func ensureConfig() error {
	if _, err := os.Stat(filepath.Join(os.Getenv("HOME"), ".gatewayd")); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Join(os.Getenv("HOME"), ".gatewayd"), 0o755); err != nil {
			return err
		}
	}

	configFile := filepath.Join(os.Getenv("HOME"), ".gatewayd", "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := `# gatewayd configuration file
server:
  host: localhost
  port: 8080

store:
  snapshotpath: ""

scheduler:
  tickinterval: 30s

log:
  level: info
  format: human
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
