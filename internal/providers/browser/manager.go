package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/resilience"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Reconnect policy used when a request finds no live page.
var reconnectPolicy = resilience.RetryPolicy{Attempts: 3, Delay: time.Second}

// Manager drives one kiosk browser window through playwright.
type Manager struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker
	probe   *retryablehttp.Client
	events  Listeners

	// launchMu serializes launch, restart and close.
	launchMu sync.Mutex

	mu         sync.RWMutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	page       playwright.Page
	generation uint64
	visible    bool
	launchedAt time.Time
	relaunches int
}

// NewManager creates a manager. Nothing is launched until Init.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		probe:  newProbeClient(cfg.Timeout),
	}
	m.breaker = resilience.New("browser", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Browser circuit breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// OnPageEvent registers a page event listener.
func (m *Manager) OnPageEvent(fn func(PageEvent)) {
	m.events.Add(fn)
}

// Init launches the browser, or connects to BROWSER_CDP_URL when set.
func (m *Manager) Init(ctx context.Context) error {
	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	if m.ready() {
		return nil
	}
	return m.launchGuarded(ctx)
}

// EnsureReady relaunches the browser when it has no usable page.
func (m *Manager) EnsureReady(ctx context.Context) error {
	if m.ready() {
		return nil
	}

	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	if m.ready() {
		return nil
	}

	m.logger.Info("Browser not ready, reconnecting")
	err := resilience.Retry(ctx, reconnectPolicy, func(ctx context.Context, attempt int) error {
		err := m.launchGuarded(ctx)
		if err != nil {
			m.logger.Warn("Browser reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

func (m *Manager) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.page != nil && !m.page.IsClosed()
}

func (m *Manager) launchGuarded(ctx context.Context) error {
	err := m.breaker.Do(ctx, m.launch)
	if m.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordBrowserLaunch(status)
	}
	return err
}

// launch starts playwright if needed and opens the kiosk page. Caller
// holds launchMu.
func (m *Manager) launch(ctx context.Context) error {
	m.teardown()

	pw, err := m.playwright()
	if err != nil {
		return err
	}

	var (
		browser  playwright.Browser
		bctx     playwright.BrowserContext
		bt       = m.browserType(pw)
		launched = time.Now()
	)

	if m.cfg.CDPURL != "" {
		version, err := probeCDP(ctx, m.probe, m.cfg.CDPURL)
		if err != nil {
			return err
		}
		browser, err = bt.ConnectOverCDP(m.cfg.CDPURL)
		if err != nil {
			return fmt.Errorf("connect over cdp: %w", err)
		}
		m.logger.Info("Connected to running browser",
			zap.String("endpoint", m.cfg.CDPURL),
			zap.String("browser", version.Browser))

		if contexts := browser.Contexts(); len(contexts) > 0 {
			bctx = contexts[0]
		} else if bctx, err = browser.NewContext(); err != nil {
			_ = browser.Close()
			return fmt.Errorf("create context: %w", err)
		}
	} else {
		profile := m.cfg.ProfilePath()
		removed, err := prepareProfile(profile)
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			m.logger.Info("Removed stale profile locks", zap.Strings("files", removed))
		}

		executable, err := executablePath(m.cfg)
		if err != nil {
			return err
		}
		bctx, err = bt.LaunchPersistentContext(profile, persistentContextOptions(m.cfg, executable))
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
	}

	timeout := float64(m.cfg.Timeout.Milliseconds())
	bctx.SetDefaultTimeout(timeout)
	bctx.SetDefaultNavigationTimeout(timeout)

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			return fmt.Errorf("open page: %w", err)
		}
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.browser = browser
	m.context = bctx
	m.page = page
	m.visible = !m.cfg.Headless
	if !m.launchedAt.IsZero() {
		m.relaunches++
	}
	m.launchedAt = launched
	m.mu.Unlock()

	m.watch(gen, browser, bctx, page)

	if m.cfg.StartURL != "" {
		if err := m.Goto(ctx, m.cfg.StartURL); err != nil {
			m.logger.Warn("Start page failed to load", zap.String("url", m.cfg.StartURL), zap.Error(err))
		}
	}

	m.logger.Info("Browser ready",
		zap.String("type", m.cfg.Type),
		zap.Bool("headless", m.cfg.Headless),
		zap.Duration("took", time.Since(launched)))
	return nil
}

func (m *Manager) playwright() (*playwright.Playwright, error) {
	m.mu.RLock()
	pw := m.pw
	m.mu.RUnlock()
	if pw != nil {
		return pw, nil
	}

	opts := &playwright.RunOptions{
		SkipInstallBrowsers: m.cfg.Executable != "" || m.cfg.CDPURL != "",
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	m.mu.Lock()
	m.pw = pw
	m.mu.Unlock()
	return pw, nil
}

func (m *Manager) browserType(pw *playwright.Playwright) playwright.BrowserType {
	if m.cfg.Type == "firefox" {
		return pw.Firefox
	}
	return pw.Chromium
}

// watch reports page loss for the launch identified by gen. Events from an
// older launch are dropped.
func (m *Manager) watch(gen uint64, browser playwright.Browser, bctx playwright.BrowserContext, page playwright.Page) {
	page.OnFrameNavigated(func(frame playwright.Frame) {
		if frame.ParentFrame() == nil && m.current(gen) {
			m.events.Emit(PageNavigated)
		}
	})
	page.OnClose(func(playwright.Page) {
		m.lost(gen, PageClosed)
	})
	bctx.OnClose(func(playwright.BrowserContext) {
		m.lost(gen, BrowserDisconnected)
	})
	if browser != nil {
		browser.OnDisconnected(func(playwright.Browser) {
			m.lost(gen, BrowserDisconnected)
		})
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation == gen
}

func (m *Manager) lost(gen uint64, ev PageEvent) {
	m.mu.Lock()
	if m.generation != gen || m.page == nil {
		m.mu.Unlock()
		return
	}
	m.page = nil
	m.mu.Unlock()

	m.logger.Warn("Browser page lost", zap.String("event", string(ev)))
	if m.metrics != nil {
		m.metrics.IncPageLosses()
	}
	m.events.Emit(ev)
}

// teardown closes the current context without reporting page loss.
func (m *Manager) teardown() bool {
	m.mu.Lock()
	m.generation++
	browser, bctx, page := m.browser, m.context, m.page
	m.browser, m.context, m.page = nil, nil, nil
	m.mu.Unlock()

	if bctx == nil {
		return false
	}
	if browser != nil {
		// Connected over CDP: detach instead of killing someone else's browser.
		_ = browser.Close()
	} else {
		_ = bctx.Close()
	}
	return page != nil
}

// Restart closes and relaunches the browser.
func (m *Manager) Restart(ctx context.Context) error {
	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	if m.teardown() {
		m.events.Emit(PageClosed)
	}
	return m.launchGuarded(ctx)
}

// Close shuts the browser and the playwright driver. A later EnsureReady
// launches again.
func (m *Manager) Close() error {
	m.launchMu.Lock()
	defer m.launchMu.Unlock()

	hadPage := m.teardown()

	m.mu.Lock()
	pw := m.pw
	m.pw = nil
	m.mu.Unlock()

	if hadPage {
		m.events.Emit(PageClosed)
	}
	if pw != nil {
		if err := pw.Stop(); err != nil {
			return fmt.Errorf("stop playwright: %w", err)
		}
	}
	m.logger.Info("Browser closed")
	return nil
}

// Status reports browser state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Driver:      config.DriverPlaywright,
		Ready:       m.page != nil && !m.page.IsClosed(),
		Visible:     m.visible,
		Breaker:     m.breaker.State().String(),
		LaunchedAt:  m.launchedAt,
		Relaunches:  m.relaunches,
		ProfilePath: m.cfg.ProfilePath(),
	}
	if st.Ready {
		st.URL = m.page.URL()
	}
	return st
}

func (m *Manager) currentPage() (playwright.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.page == nil || m.page.IsClosed() {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, script.ErrPageClosed)
	}
	return m.page, nil
}

// await runs a blocking playwright call and returns early if ctx ends. The
// call itself keeps running until playwright's own timeout.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func isBindingExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already registered")
}

func isTargetClosed(err error) bool {
	return errors.Is(err, playwright.ErrTargetClosed)
}
