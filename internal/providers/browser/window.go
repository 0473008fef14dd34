package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Window states accepted by Browser.setWindowBounds.
const (
	windowNormal     = "normal"
	windowFullscreen = "fullscreen"
	windowMinimized  = "minimized"
)

const settleDelay = 100 * time.Millisecond

const exitFullscreenExpr = `function () {
  if (document.fullscreenElement && document.exitFullscreen) {
    return document.exitFullscreen().then(function () { return true; }, function () { return false; });
  }
  return false;
}`

// Show brings the kiosk window to the front in fullscreen.
func (m *Manager) Show(ctx context.Context) error {
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	page, err := m.currentPage()
	if err != nil {
		return err
	}

	if err := m.setWindowState(page, windowNormal, windowFullscreen); err != nil {
		m.logger.Debug("CDP window control unavailable, using page fullscreen", zap.Error(err))
	}
	if err := page.BringToFront(); err != nil {
		m.logger.Debug("Bring to front failed", zap.Error(err))
	}
	if _, err := page.Evaluate(fullscreenExpr); err != nil {
		return fmt.Errorf("show window: %w", err)
	}

	m.setVisible(true)
	m.logger.Info("Browser window shown")
	return nil
}

// Hide minimizes the kiosk window.
func (m *Manager) Hide(ctx context.Context) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}

	if err := m.setWindowState(page, windowNormal, windowMinimized); err != nil {
		m.logger.Debug("CDP window control unavailable, leaving fullscreen only", zap.Error(err))
		if _, err := page.Evaluate(exitFullscreenExpr); err != nil {
			return fmt.Errorf("hide window: %w", err)
		}
	}

	m.setVisible(false)
	m.logger.Info("Browser window hidden")
	return nil
}

func (m *Manager) setVisible(v bool) {
	m.mu.Lock()
	m.visible = v
	m.mu.Unlock()
}

// setWindowState walks the window through states in order. Chromium refuses
// to go from fullscreen straight to minimized, hence the normal step.
func (m *Manager) setWindowState(page playwright.Page, states ...string) error {
	m.mu.RLock()
	bctx := m.context
	m.mu.RUnlock()
	if bctx == nil {
		return ErrNotReady
	}
	if m.cfg.Type == "firefox" {
		return ErrUnsupported
	}

	session, err := bctx.NewCDPSession(page)
	if err != nil {
		return fmt.Errorf("open cdp session: %w", err)
	}
	defer func() {
		_ = session.Detach()
	}()

	res, err := session.Send("Browser.getWindowForTarget", nil)
	if err != nil {
		return fmt.Errorf("get window: %w", err)
	}
	window, ok := res.(map[string]interface{})
	if !ok || window["windowId"] == nil {
		return fmt.Errorf("get window: unexpected response %v", res)
	}

	for i, state := range states {
		if i > 0 {
			time.Sleep(settleDelay)
		}
		_, err := session.Send("Browser.setWindowBounds", map[string]interface{}{
			"windowId": window["windowId"],
			"bounds":   map[string]interface{}{"windowState": state},
		})
		if err != nil {
			return fmt.Errorf("set window %s: %w", state, err)
		}
	}
	return nil
}
