package browser

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
)

var (
	// ErrNotReady is returned when the browser has no usable page.
	ErrNotReady = errors.New("browser is not ready")

	// ErrUnsupported is returned by drivers lacking an operation.
	ErrUnsupported = errors.New("operation not supported by browser driver")
)

// PageEvent reports a change that may have destroyed page-side state.
type PageEvent string

const (
	// PageNavigated fires when the main frame commits a navigation.
	PageNavigated PageEvent = "navigated"
	// PageClosed fires when the controlled page is closed.
	PageClosed PageEvent = "closed"
	// BrowserDisconnected fires when the browser process goes away.
	BrowserDisconnected PageEvent = "disconnected"
)

// ScreenshotOptions selects screenshot behavior.
type ScreenshotOptions struct {
	FullPage bool   `json:"fullPage"`
	Format   string `json:"format"` // png or jpeg
	Quality  int    `json:"quality,omitempty"`
}

// Status describes the browser for health reporting.
type Status struct {
	Driver      string    `json:"driver"`
	Ready       bool      `json:"ready"`
	Visible     bool      `json:"visible"`
	URL         string    `json:"url,omitempty"`
	Breaker     string    `json:"breaker,omitempty"`
	LaunchedAt  time.Time `json:"launched_at,omitempty"`
	Relaunches  int       `json:"relaunches"`
	ProfilePath string    `json:"profile_path,omitempty"`
}

// Driver is the page-control collaborator behind the HTTP API and the
// script executor.
type Driver interface {
	script.Page

	Init(ctx context.Context) error
	EnsureReady(ctx context.Context) error
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
	Restart(ctx context.Context) error
	Close() error
	Status() Status

	// OnPageEvent registers a listener. Listeners run on their own
	// goroutine and may call back into the driver.
	OnPageEvent(fn func(PageEvent))
}

// Listeners fans page events out to subscribers.
type Listeners struct {
	mu  sync.Mutex
	fns []func(PageEvent)
}

// Add registers fn.
func (l *Listeners) Add(fn func(PageEvent)) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

// Emit delivers ev to every listener on its own goroutine.
func (l *Listeners) Emit(ev PageEvent) {
	l.mu.Lock()
	fns := slices.Clone(l.fns)
	l.mu.Unlock()

	for _, fn := range fns {
		go fn(ev)
	}
}
