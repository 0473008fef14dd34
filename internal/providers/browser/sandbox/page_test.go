package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPage(t *testing.T) *Page {
	t.Helper()
	page := NewPage(DefaultConfig(), nil)
	require.NoError(t, page.Init(context.Background()))
	t.Cleanup(func() { _ = page.Close() })
	return page
}

func events(page *Page) <-chan browser.PageEvent {
	ch := make(chan browser.PageEvent, 8)
	page.OnPageEvent(func(ev browser.PageEvent) { ch <- ev })
	return ch
}

func expectEvent(t *testing.T, ch <-chan browser.PageEvent, want browser.PageEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		assert.Equal(t, want, ev)
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event", want)
	}
}

func TestPageGoto(t *testing.T) {
	page := newPage(t)
	ctx := context.Background()
	ch := events(page)

	_, err := page.Evaluate(ctx, "function () { globalThis.left = true; }", nil)
	require.NoError(t, err)

	require.NoError(t, page.Goto(ctx, "http://kiosk.local/dashboard"))
	expectEvent(t, ch, browser.PageNavigated)

	got, err := page.Evaluate(ctx, "typeof left", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
	assert.Equal(t, "http://kiosk.local/dashboard", page.Status().URL)
}

func TestPageClickAndType(t *testing.T) {
	page := newPage(t)
	ctx := context.Background()

	_, err := page.Evaluate(ctx, `function () {
		var button = document.createElement("button");
		button.id = "go";
		button.addEventListener("click", function () { globalThis.clicked = (globalThis.clicked || 0) + 1; });
		var input = document.createElement("input");
		input.setAttribute("name", "q");
		input.addEventListener("input", function (e) { globalThis.typed = e.target.value; });
		document.body.appendChild(button);
		document.body.appendChild(input);
	}`, nil)
	require.NoError(t, err)

	require.NoError(t, page.Click(ctx, "#go"))
	require.NoError(t, page.Type(ctx, "input[name=q]", "hello"))

	got, err := page.Evaluate(ctx, "function () { return [globalThis.clicked, globalThis.typed]; }", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, "hello"}, got)

	err = page.Click(ctx, "#missing")
	var evalErr *script.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "no element matches")
}

func TestPageCloseAndRecover(t *testing.T) {
	page := newPage(t)
	ctx := context.Background()
	ch := events(page)

	require.NoError(t, page.Close())
	expectEvent(t, ch, browser.PageClosed)

	_, err := page.Evaluate(ctx, "1", nil)
	assert.ErrorIs(t, err, browser.ErrNotReady)
	assert.ErrorIs(t, err, script.ErrPageClosed)
	assert.False(t, page.Status().Ready)

	require.NoError(t, page.EnsureReady(ctx))
	st := page.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 1, st.Relaunches)
	assert.Equal(t, config.DriverSandbox, st.Driver)
}

func TestPageRestart(t *testing.T) {
	page := newPage(t)
	ctx := context.Background()
	ch := events(page)

	require.NoError(t, page.ExposeBinding(ctx, "bridge", func(...any) {}))
	require.NoError(t, page.Restart(ctx))
	expectEvent(t, ch, browser.PageClosed)

	// A restarted page is a new context without earlier bindings.
	got, err := page.Evaluate(ctx, "typeof bridge", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
}

func TestPageVisibility(t *testing.T) {
	page := newPage(t)
	ctx := context.Background()

	require.NoError(t, page.Hide(ctx))
	assert.False(t, page.Status().Visible)
	require.NoError(t, page.Show(ctx))
	assert.True(t, page.Status().Visible)

	_, err := page.Screenshot(ctx, browser.ScreenshotOptions{})
	assert.ErrorIs(t, err, browser.ErrUnsupported)
}

func TestFromBrowserConfig(t *testing.T) {
	cfg := FromBrowserConfig(config.BrowserConfig{
		Timeout:  2 * time.Second,
		StartURL: "http://kiosk.local/",
		Width:    800,
		Height:   600,
	})
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "http://kiosk.local/", cfg.URL)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
}
