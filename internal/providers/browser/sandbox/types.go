package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
)

// ErrClosed is returned once the runtime's event loop has stopped.
var ErrClosed = errors.New("sandbox runtime is closed")

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Longest single task before it is interrupted
	MaxCallStackSize int           // Zero keeps the goja default
	EnableConsole    bool          // Capture console.log/warn/error
	ConsoleLimit     int           // Entries kept, oldest dropped first
	URL              string        // Initial document URL
	Width            int           // Reported window.innerWidth
	Height           int           // Reported window.innerHeight
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"` // log, info, warn, error
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DefaultConfig returns a sandbox configuration suitable for tests and
// headless development.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		ConsoleLimit:     500,
		URL:              "about:blank",
		Width:            1920,
		Height:           1080,
	}
}

// FromBrowserConfig derives a sandbox configuration from browser settings.
func FromBrowserConfig(cfg config.BrowserConfig) Config {
	c := DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.StartURL != "" {
		c.URL = cfg.StartURL
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		c.Width, c.Height = cfg.Width, cfg.Height
	}
	return c
}
