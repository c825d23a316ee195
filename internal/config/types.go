package config

import "time"

// Config represents the complete easel configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Studio   StudioConfig   `yaml:"studio"`
	Stream   StreamConfig   `yaml:"stream"`
	Gallery  GalleryConfig  `yaml:"gallery"`
	Render   RenderConfig   `yaml:"render"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite storage settings for the reference backend.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings for the reference backend.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// StudioConfig defines the connection the engine uses to reach the studio
// backend.
type StudioConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// StreamConfig defines progress stream behavior.
type StreamConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// GalleryConfig defines projection pagination settings.
type GalleryConfig struct {
	PageSize int `yaml:"page_size"`
}

// RenderConfig defines the backend generation simulator.
type RenderConfig struct {
	ProgressSteps int           `yaml:"progress_steps"`
	StepDelay     time.Duration `yaml:"step_delay"`
}
