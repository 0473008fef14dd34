package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"go.uber.org/zap"
)

const clickExpr = `function (selector) {
  var el = document.querySelector(selector);
  if (!el) {
    throw new Error("no element matches " + selector);
  }
  el.click();
  return true;
}`

const typeExpr = `function (args) {
  var el = document.querySelector(args.selector);
  if (!el) {
    throw new Error("no element matches " + args.selector);
  }
  el.focus();
  el.value = args.text;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
}`

// Page is a browser.Driver backed by an in-process goja runtime instead of
// a real browser. It runs scripts with timers, promises, MutationObserver
// and a small DOM, which is enough for development and tests.
type Page struct {
	config  Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
	events  browser.Listeners

	mu         sync.RWMutex
	rt         *Runtime
	visible    bool
	launchedAt time.Time
	relaunches int
}

var _ browser.Driver = (*Page)(nil)

// NewPage creates a sandbox driver. Nothing runs until Init.
func NewPage(cfg Config, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{config: cfg, logger: logger}
}

// WithMetrics adds metrics tracking to the page
func (p *Page) WithMetrics(metrics *monitoring.Metrics) *Page {
	p.metrics = metrics
	return p
}

// OnPageEvent registers a page event listener.
func (p *Page) OnPageEvent(fn func(browser.PageEvent)) {
	p.events.Add(fn)
}

// Runtime returns the live runtime, nil when closed.
func (p *Page) Runtime() *Runtime {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rt
}

// Init starts the runtime.
func (p *Page) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

// EnsureReady restarts the runtime if it was closed.
func (p *Page) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rt != nil && !p.rt.Closed() {
		return nil
	}
	p.logger.Info("Sandbox page not ready, starting")
	return p.startLocked()
}

func (p *Page) startLocked() error {
	if p.rt != nil && !p.rt.Closed() {
		return nil
	}
	rt, err := New(p.config, p.logger)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordBrowserLaunch(status)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", browser.ErrNotReady, err)
	}
	if !p.launchedAt.IsZero() {
		p.relaunches++
	}
	p.rt = rt
	p.visible = true
	p.launchedAt = time.Now()
	return nil
}

func (p *Page) runtime() (*Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.rt == nil || p.rt.Closed() {
		return nil, fmt.Errorf("%w: %w", browser.ErrNotReady, script.ErrPageClosed)
	}
	return p.rt, nil
}

// Evaluate implements script.Page.
func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	rt, err := p.runtime()
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(p.metrics)
	result, err := rt.Evaluate(ctx, expression, arg)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")
	return result, nil
}

// ExposeBinding implements script.Page.
func (p *Page) ExposeBinding(ctx context.Context, name string, fn script.BindingFunc) error {
	rt, err := p.runtime()
	if err != nil {
		return err
	}
	return rt.Bind(ctx, name, fn)
}

// Goto replaces the document and reports the navigation.
func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.EnsureReady(ctx); err != nil {
		return err
	}
	rt, err := p.runtime()
	if err != nil {
		return err
	}
	if err := rt.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	p.logger.Info("Navigated", zap.String("url", url))
	p.events.Emit(browser.PageNavigated)
	return nil
}

// Click dispatches a click on the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	if _, err := p.Evaluate(ctx, clickExpr, selector); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type sets the value of the element matching selector.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	arg := map[string]string{"selector": selector, "text": text}
	if _, err := p.Evaluate(ctx, typeExpr, arg); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Screenshot is not available without a renderer.
func (p *Page) Screenshot(context.Context, browser.ScreenshotOptions) ([]byte, error) {
	return nil, browser.ErrUnsupported
}

// Show marks the page visible.
func (p *Page) Show(ctx context.Context) error {
	if err := p.EnsureReady(ctx); err != nil {
		return err
	}
	p.setVisible(true)
	return nil
}

// Hide marks the page hidden.
func (p *Page) Hide(ctx context.Context) error {
	if _, err := p.runtime(); err != nil {
		return err
	}
	p.setVisible(false)
	return nil
}

func (p *Page) setVisible(v bool) {
	p.mu.Lock()
	p.visible = v
	p.mu.Unlock()
}

// Restart discards the runtime and starts a fresh one.
func (p *Page) Restart(ctx context.Context) error {
	p.mu.Lock()
	old := p.rt
	p.rt = nil
	err := p.startLocked()
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
		p.events.Emit(browser.PageClosed)
	}
	return err
}

// Close stops the runtime. A later EnsureReady starts a new one.
func (p *Page) Close() error {
	p.mu.Lock()
	old := p.rt
	p.rt = nil
	p.mu.Unlock()

	if old == nil {
		return nil
	}
	err := old.Close()
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	p.logger.Info("Sandbox page closed")
	p.events.Emit(browser.PageClosed)
	return err
}

// Status reports runtime state.
func (p *Page) Status() browser.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := browser.Status{
		Driver:     config.DriverSandbox,
		Visible:    p.visible,
		LaunchedAt: p.launchedAt,
		Relaunches: p.relaunches,
	}
	if p.rt != nil && !p.rt.Closed() {
		st.Ready = true
		st.URL = p.rt.URL()
	}
	return st
}
