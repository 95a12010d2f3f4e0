package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agentguard.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found; ReadInConfig will return
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("agentguard")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AGENTGUARD_WEBHOOK_URL etc.
	viper.SetEnvPrefix("AGENTGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an agentguard config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agentguard"),
		"/etc/agentguard",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agentguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key for environment variable support.
// Example: AGENTGUARD_WEBHOOK_SIGNING_SECRET overrides webhook.signing_secret.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("policy_file")
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("approval_timeout")

	_ = viper.BindEnv("webhook.url")
	_ = viper.BindEnv("webhook.timeout_ms")
	_ = viper.BindEnv("webhook.retries")
	_ = viper.BindEnv("webhook.signing_secret")
	_ = viper.BindEnv("webhook.encryption_key")
	_ = viper.BindEnv("webhook.encrypt_sensitive_data")
	// webhook.headers and webhook.sensitive_fields are structured; use the
	// config file for those.

	_ = viper.BindEnv("telemetry.enabled")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. A missing config file is not an error:
// AgentGuard runs on env vars and flags alone.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or ""
// when running on environment variables alone.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
