package script

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Page-side expressions. Every expression is a function taking one
// argument so drivers always pass script text as data, never as code.
var (
	//go:embed js/interceptor.js
	installExpr string

	//go:embed js/oneshot.js
	oneShotExpr string
)

const (
	launchExpr = `function (a) {
  var api = globalThis.__kioskScripts;
  if (!api) {
    throw new Error("script interceptor is not installed");
  }
  return api.launch(a.id, a.binding, a.source);
}`

	cleanupExpr = `function (id) {
  var api = globalThis.__kioskScripts;
  return api ? api.cleanup(id) : null;
}`

	probeExpr = `function () {
  return typeof globalThis.__kioskScripts === "object";
}`

	describeExpr = `function () {
  var api = globalThis.__kioskScripts;
  return api ? api.describe() : null;
}`
)

var errNotInstalled = errors.New("script interceptor is not installed in the page")

// Interceptor owns the page-resident resource shim. It installs the shim on
// first acquire and counts the identities it tracks; the page side removes
// itself when the last identity is released.
type Interceptor struct {
	page   Page
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewInterceptor creates an interceptor for page.
func NewInterceptor(page Page, logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{
		page:   page,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Acquire installs the shim if the page lacks it and reserves id in it.
// Reserving keeps a concurrent release from uninstalling the shim before
// id is launched.
func (i *Interceptor) Acquire(ctx context.Context, id string) error {
	if _, err := i.page.Evaluate(ctx, installExpr, id); err != nil {
		return fmt.Errorf("install interceptor: %w", err)
	}

	i.mu.Lock()
	i.active[id] = struct{}{}
	i.mu.Unlock()
	return nil
}

// Launch runs source as the body of id's scoped function. Errors thrown by
// the script are reported through the bridge, not returned here.
func (i *Interceptor) Launch(ctx context.Context, id, binding, source string) error {
	arg := map[string]any{
		"id":      id,
		"binding": binding,
		"source":  source,
	}
	if _, err := i.page.Evaluate(ctx, launchExpr, arg); err != nil {
		return fmt.Errorf("launch script: %w", err)
	}
	return nil
}

// Release runs the page-side cleanup for id: timers cleared, observers
// disconnected, bridge binding deleted. The host-side count drops even when
// the page call fails.
func (i *Interceptor) Release(ctx context.Context, id string) error {
	i.mu.Lock()
	_, tracked := i.active[id]
	delete(i.active, id)
	i.mu.Unlock()

	result, err := i.page.Evaluate(ctx, cleanupExpr, id)
	if err != nil {
		return fmt.Errorf("cleanup script %s: %w", id, err)
	}
	if result == nil && tracked {
		// The document was replaced; its timers and observers went with it.
		i.logger.Debug("Interceptor absent during cleanup", zap.String("script_id", id))
	}
	return nil
}

// Installed reports whether the page currently hosts the shim.
func (i *Interceptor) Installed(ctx context.Context) (bool, error) {
	result, err := i.page.Evaluate(ctx, probeExpr, nil)
	if err != nil {
		return false, err
	}
	installed, _ := result.(bool)
	return installed, nil
}

// Resources reports the live tracked resources per identity.
func (i *Interceptor) Resources(ctx context.Context) (map[string]any, error) {
	result, err := i.page.Evaluate(ctx, describeExpr, nil)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errNotInstalled
	}
	resources, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected interceptor state %T", result)
	}
	return resources, nil
}

// Active returns how many identities the host believes are tracked.
func (i *Interceptor) Active() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}
