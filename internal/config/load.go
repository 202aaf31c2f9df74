// Package config loads the host configuration and resolves DingTalk accounts from it.
//
// The channel block lives under channels.dingtalk-stream. Its top-level credentials describe
// the default account; named accounts live under accounts. Resolution never fails: missing
// credentials produce an unconfigured account rather than an error.
//
// # Example Configuration
//
//	channels:
//	  dingtalk-stream:
//	    clientId: "${DINGTALK_APP_KEY}"
//	    clientSecret: "${DINGTALK_APP_SECRET}"
//	    verboseLevel: on
//	    accounts:
//	      sales:
//	        clientId: "ding-sales"
//	        clientSecret: "..."
//	logging:
//	  level: info
//
// Mutators (SetAccountEnabled, DeleteAccount, ApplyAccountName, ApplyAccountConfig) are
// copy-on-write: they return a new *Config and never modify their input.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel        = "info"
	DefaultLogEnableStdout = true
	DefaultAgentTimeout    = "60s"
	DefaultSessionStoreDir = "~/.dingtalk-channel/sessions"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig loads configuration from file and expands environment variables
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ReadFile parses a config file without expanding environment variables or applying
// defaults. It is used when the file is edited and written back.
func ReadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// WriteFile serializes cfg to configPath
func WriteFile(configPath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks field-level constraints declared on the config structs
func Validate(config *Config) error {
	return validate.Struct(config)
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

func applyDefaults(config *Config) {
	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = constants.DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}
	if !config.Logging.EnableStdout && config.Logging.File == "" {
		config.Logging.EnableStdout = DefaultLogEnableStdout
	}

	if config.Agent.ID == "" {
		config.Agent.ID = constants.DefaultAgentID
	}
	if config.Agent.Timeout == "" {
		config.Agent.Timeout = DefaultAgentTimeout
	}

	if config.Session.StoreDir == "" {
		config.Session.StoreDir = DefaultSessionStoreDir
	}
	if config.Session.HistorySize == 0 {
		config.Session.HistorySize = constants.DefaultSessionHistorySize
	}

	if config.CallbackServer.Addr == "" {
		config.CallbackServer.Addr = constants.DefaultCallbackAddr
	}
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return home + path[1:], nil
	}
	return path, nil
}
