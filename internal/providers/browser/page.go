package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const clickTimeout = 5000

const fullscreenExpr = `function () {
  var el = document.documentElement;
  if (document.fullscreenElement || !el || !el.requestFullscreen) {
    return false;
  }
  return el.requestFullscreen({ navigationUI: "hide" }).then(function () { return true; }, function () { return false; });
}`

// Evaluate runs expression against the current page. It never relaunches:
// a script bound to a page must fail fast once that page is gone.
func (m *Manager) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	page, err := m.currentPage()
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(m.metrics)
	result, err := await(ctx, func() (any, error) {
		return page.Evaluate(expression, arg)
	})
	if err != nil {
		timer.Stop("error")
		return nil, m.evaluationError(err)
	}
	timer.Stop("ok")
	return result, nil
}

func (m *Manager) evaluationError(err error) error {
	switch {
	case isTargetClosed(err):
		return fmt.Errorf("%w: %w", script.ErrPageClosed, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &script.EvaluationError{Message: err.Error()}
	}
}

// ExposeBinding installs name on the page and every document it loads
// afterwards. Calls are forwarded to fn on the driver's dispatch goroutine.
func (m *Manager) ExposeBinding(ctx context.Context, name string, fn script.BindingFunc) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}

	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, page.ExposeBinding(name, func(_ *playwright.BindingSource, args ...interface{}) interface{} {
			fn(args...)
			return nil
		})
	})
	switch {
	case err == nil:
		return nil
	case isBindingExists(err):
		return fmt.Errorf("%w: %s", script.ErrBindingExists, name)
	case isTargetClosed(err):
		return fmt.Errorf("%w: %w", script.ErrPageClosed, err)
	default:
		return fmt.Errorf("expose binding %s: %w", name, err)
	}
}

// Goto navigates and waits for the network to settle, then asks for
// fullscreen. A refused fullscreen request is not an error.
func (m *Manager) Goto(ctx context.Context, url string) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}

	_, err = await(ctx, func() (playwright.Response, error) {
		return page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
		})
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}

	if _, err := page.Evaluate(fullscreenExpr); err != nil {
		m.logger.Debug("Fullscreen request failed", zap.Error(err))
	}
	m.logger.Info("Navigated", zap.String("url", url))
	return nil
}

// Click clicks the first element matching selector.
func (m *Manager) Click(ctx context.Context, selector string) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, page.Click(selector, playwright.PageClickOptions{
			Timeout: playwright.Float(clickTimeout),
		})
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type replaces the value of the element matching selector.
func (m *Manager) Type(ctx context.Context, selector, text string) error {
	page, err := m.currentPage()
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, page.Fill(selector, text)
	})
	if err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Screenshot captures the page.
func (m *Manager) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	page, err := m.currentPage()
	if err != nil {
		return nil, err
	}

	shot := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if opts.Format == "jpeg" || opts.Format == "jpg" {
		shot.Type = playwright.ScreenshotTypeJpeg
		if opts.Quality > 0 && opts.Quality <= 100 {
			shot.Quality = playwright.Int(opts.Quality)
		}
	}

	data, err := await(ctx, func() ([]byte, error) {
		return page.Screenshot(shot)
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}
