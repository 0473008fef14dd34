package browser

import (
	"fmt"
	"os"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/playwright-community/playwright-go"
)

// Default executables per browser type.
var defaultExecutables = map[string]string{
	"chromium": "/usr/bin/chromium",
	"chrome":   "/usr/bin/google-chrome",
}

// kioskArgs returns the Chromium flags for a full-screen kiosk window.
func kioskArgs(cfg config.BrowserConfig) []string {
	args := []string{
		"--no-sandbox",
		"--kiosk",
		"--use-fake-ui-for-media-stream",
		"--use-fake-device-for-media-stream",
		"--enable-audio-service",
		"--alsa-output-device=default",
		"--disable-dev-shm-usage",
		"--disable-features=TranslateUI",
		"--disable-gpu",
		"--window-position=0,0",
		fmt.Sprintf("--window-size=%d,%d", cfg.Width, cfg.Height),
	}
	if display := os.Getenv("DISPLAY"); display != "" {
		args = append(args, "--display="+display)
	}
	return append(args, cfg.Args...)
}

// executablePath resolves the browser binary, empty meaning the
// playwright-managed build.
func executablePath(cfg config.BrowserConfig) (string, error) {
	path := cfg.Executable
	if path == "" {
		path = defaultExecutables[cfg.Type]
	}
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		if cfg.Executable == "" {
			// Fall back to the bundled browser when the system one is absent.
			return "", nil
		}
		return "", fmt.Errorf("browser executable %s: %w", path, err)
	}
	return path, nil
}

// persistentContextOptions builds the launch options for the kiosk profile.
func persistentContextOptions(cfg config.BrowserConfig, executable string) playwright.BrowserTypeLaunchPersistentContextOptions {
	timeout := float64(cfg.Timeout.Milliseconds())
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(cfg.Headless),
		IgnoreDefaultArgs: []string{"--enable-automation"},
		NoViewport:        playwright.Bool(true),
		BypassCSP:         playwright.Bool(true),
		Timeout:           playwright.Float(timeout),
		HandleSIGINT:      playwright.Bool(false),
		HandleSIGTERM:     playwright.Bool(false),
		HandleSIGHUP:      playwright.Bool(false),
	}
	if cfg.Type != "firefox" {
		opts.Args = kioskArgs(cfg)
		opts.ChromiumSandbox = playwright.Bool(false)
	} else {
		opts.Args = cfg.Args
	}
	if executable != "" {
		opts.ExecutablePath = playwright.String(executable)
	}
	return opts
}
