package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "easel"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/easel.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8090"
	}
	if cfg.Studio.BaseURL == "" {
		cfg.Studio.BaseURL = "http://127.0.0.1:8090"
	}
	if cfg.Stream.ConnectTimeout == 0 {
		cfg.Stream.ConnectTimeout = 30 * time.Second
	}
	if cfg.Stream.HeartbeatInterval == 0 {
		cfg.Stream.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Gallery.PageSize == 0 {
		cfg.Gallery.PageSize = 20
	}
	if cfg.Render.ProgressSteps == 0 {
		cfg.Render.ProgressSteps = 4
	}
	if cfg.Render.StepDelay == 0 {
		cfg.Render.StepDelay = 250 * time.Millisecond
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if envVarPattern.MatchString(cfg.API.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
		if len(matches) > 1 {
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.Studio.Token == "" {
		cfg.Studio.Token = cfg.API.Token
	}
	if envVarPattern.MatchString(cfg.Studio.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.Studio.Token)
		if len(matches) > 1 {
			return fmt.Errorf("studio.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.Stream.ConnectTimeout < 0 {
		return fmt.Errorf("stream.connect_timeout must not be negative")
	}
	if cfg.Gallery.PageSize < 0 {
		return fmt.Errorf("gallery.page_size must not be negative")
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
