package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configName = "requestsink"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for requestsink.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself, which
// shares the base name, never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig tolerates.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// REQUESTSINK_SERVER_HTTP_ADDR overrides server.http_addr
	viper.SetEnvPrefix("REQUESTSINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches ., ~/.requestsink and /etc/requestsink.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".requestsink"),
		"/etc/requestsink",
	})
}

// findConfigFileInPaths searches the given directories for requestsink.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key so nested values can be
// overridden from the environment even without a config file.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.log_file",
		"server.shutdown_timeout",
		"sink.max_requests",
		"sink.timeout",
		"sink.cleanup_interval",
		"forward.timeout",
		"forward.max_response_bytes",
		"notify.queue_size",
		"notify.send_timeout",
		"tracing.enabled",
		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override fields before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Environment variables only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
