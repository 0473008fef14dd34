package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverSandbox    = "sandbox"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Script    ScriptConfig    `yaml:"script"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port       string `envconfig:"PORT" default:"3000" yaml:"port"`
	Host       string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	APIKeyHash string `envconfig:"API_KEY_HASH" yaml:"api_key_hash"`
}

// BrowserConfig holds kiosk browser configuration.
type BrowserConfig struct {
	Driver      string        `envconfig:"BROWSER_DRIVER" default:"playwright" yaml:"driver"`
	Type        string        `envconfig:"BROWSER_TYPE" default:"chromium" yaml:"type"`
	Executable  string        `envconfig:"BROWSER_EXECUTABLE" yaml:"executable"`
	ProfilesDir string        `envconfig:"PROFILES_DIR" default:"/chrome-profiles" yaml:"profiles_dir"`
	ProfileName string        `envconfig:"PROFILE_NAME" default:"profile1" yaml:"profile_name"`
	Width       int           `envconfig:"DISPLAY_WIDTH" default:"1920" yaml:"width"`
	Height      int           `envconfig:"DISPLAY_HEIGHT" default:"1080" yaml:"height"`
	Headless    bool          `envconfig:"BROWSER_HEADLESS" default:"false" yaml:"headless"`
	Timeout     time.Duration `envconfig:"BROWSER_TIMEOUT" default:"30s" yaml:"timeout"`
	CDPURL      string        `envconfig:"BROWSER_CDP_URL" yaml:"cdp_url"`
	Args        []string      `envconfig:"BROWSER_ARGS" yaml:"args"`
	StartURL    string        `envconfig:"BROWSER_START_URL" yaml:"start_url"`
}

// ScriptConfig holds script execution limits.
type ScriptConfig struct {
	ShutdownTimeout time.Duration `envconfig:"SCRIPT_SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdown_timeout"`
	MaxActive       int           `envconfig:"SCRIPT_MAX_ACTIVE" default:"0" yaml:"max_active"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load reads configuration from CONFIG_FILE when set, otherwise from
// environment variables.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML config file. Keys missing from the file keep their
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values envconfig and yaml cannot express.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}
	switch c.Browser.Driver {
	case DriverPlaywright, DriverSandbox:
	default:
		return fmt.Errorf("invalid browser driver %q", c.Browser.Driver)
	}
	switch c.Browser.Type {
	case "chromium", "chrome", "firefox":
	default:
		return fmt.Errorf("invalid browser type %q", c.Browser.Type)
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", c.Browser.Width, c.Browser.Height)
	}
	if c.Script.MaxActive < 0 {
		return fmt.Errorf("script max active must be >= 0, got %d", c.Script.MaxActive)
	}
	return nil
}

// ProfilePath returns the persistent user data directory.
func (b BrowserConfig) ProfilePath() string {
	return b.ProfilesDir + string(os.PathSeparator) + b.ProfileName
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3000",
			Host: "0.0.0.0",
		},
		Browser: BrowserConfig{
			Driver:      DriverPlaywright,
			Type:        "chromium",
			ProfilesDir: "/chrome-profiles",
			ProfileName: "profile1",
			Width:       1920,
			Height:      1080,
			Timeout:     30 * time.Second,
		},
		Script: ScriptConfig{
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
