package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when a field is absent from the config file and environment.
const (
	DefaultServerAddr        = ":8080"
	DefaultServerURL         = "http://localhost:8080"
	DefaultPollInterval      = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultRenderBaseline    = 60 * time.Second
)

// Config holds all settings for the coordinator and the worker. It is
// loaded once at startup and passed down explicitly; there are no
// package-level globals.
type Config struct {
	// Coordinator
	ServerAddr  string
	DatabaseURL string

	// Worker
	ServerURL   string
	WorkerName  string
	EnginePath  string
	ProjectPath string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	RenderBaseline    time.Duration
}

// fileConfig is the YAML shape of the config file. Durations are
// time.ParseDuration strings ("10s", "1m").
type fileConfig struct {
	ServerAddr        string `yaml:"server_addr"`
	DatabaseURL       string `yaml:"database_url"`
	ServerURL         string `yaml:"server_url"`
	WorkerName        string `yaml:"worker_name"`
	EnginePath        string `yaml:"engine_path"`
	ProjectPath       string `yaml:"project_path"`
	PollInterval      string `yaml:"poll_interval"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	RenderBaseline    string `yaml:"render_baseline"`
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		ServerAddr:        DefaultServerAddr,
		ServerURL:         DefaultServerURL,
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		RenderBaseline:    DefaultRenderBaseline,
	}
}

// Load reads the config file at path (if path is empty the file is
// skipped), then applies environment overrides on top. Missing fields
// keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.ServerAddr, fc.ServerAddr)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.ServerURL, fc.ServerURL)
	setString(&c.WorkerName, fc.WorkerName)
	setString(&c.EnginePath, fc.EnginePath)
	setString(&c.ProjectPath, fc.ProjectPath)

	if err := setDuration(&c.PollInterval, fc.PollInterval, "poll_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.HeartbeatInterval, fc.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.RenderBaseline, fc.RenderBaseline, "render_baseline"); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.ServerAddr, os.Getenv("RENDER_SERVER_ADDR"))
	setString(&c.DatabaseURL, os.Getenv("RENDER_DATABASE_URL"))
	setString(&c.ServerURL, os.Getenv("RENDER_SERVER_URL"))
	setString(&c.WorkerName, os.Getenv("RENDER_WORKER_NAME"))
	setString(&c.EnginePath, os.Getenv("RENDER_ENGINE_PATH"))
	setString(&c.ProjectPath, os.Getenv("RENDER_PROJECT_PATH"))
}

// ValidateWorker checks the fields required to run the worker loop.
func (c Config) ValidateWorker() error {
	if c.WorkerName == "" {
		return fmt.Errorf("worker_name is required")
	}
	if c.EnginePath == "" {
		return fmt.Errorf("engine_path is required")
	}
	if c.ProjectPath == "" {
		return fmt.Errorf("project_path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setDuration(dst *time.Duration, val, key string) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
