package script

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BindingPrefix prefixes every per-script bridge function name.
const BindingPrefix = "__kioskBridge_"

// BindingName returns the bridge function name for id.
func BindingName(id string) string {
	return BindingPrefix + id
}

// Executor runs scripts in a page and manages continuous executions.
type Executor struct {
	page        Page
	registry    *Registry
	interceptor *Interceptor
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	maxActive   int

	started  atomic.Int64
	oneShots atomic.Int64
}

// NewExecutor creates an executor bound to page.
func NewExecutor(page Page, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		page:        page,
		registry:    NewRegistry(logger),
		interceptor: NewInterceptor(page, logger),
		logger:      logger,
	}
}

// WithMetrics adds metrics tracking to the executor and its registry
func (e *Executor) WithMetrics(metrics *monitoring.Metrics) *Executor {
	e.metrics = metrics
	e.registry.WithMetrics(metrics)
	return e
}

// WithMaxActive caps concurrent continuous scripts. Zero means no cap.
func (e *Executor) WithMaxActive(n int) *Executor {
	e.maxActive = n
	return e
}

// Registry exposes the underlying registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Interceptor exposes the page shim controller.
func (e *Executor) Interceptor() *Interceptor {
	return e.interceptor
}

// Execute evaluates source once and returns its value. source may be an
// expression or a function body using return and await. Page exceptions are
// returned as errors; nothing is registered.
func (e *Executor) Execute(ctx context.Context, source string) (any, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyScript
	}

	timer := monitoring.NewTimer(e.metrics)
	result, err := e.page.Evaluate(ctx, oneShotExpr, source)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")

	e.oneShots.Add(1)
	if e.metrics != nil {
		e.metrics.RecordScriptStarted(string(ModeOneShot))
	}
	return result, nil
}

// ExecuteContinuous starts source as a long-running script and returns its
// channel. The channel carries every value the script passes to sendResult
// and closes on completion, stop, consumer Close, or page loss; each of
// those ends in exactly one teardown.
//
// Failures before the script is running return a *SetupError and leave no
// registry entry behind.
func (e *Executor) ExecuteContinuous(ctx context.Context, source string) (*Channel, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyScript
	}
	if e.maxActive > 0 && e.registry.Count() >= e.maxActive {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManyScripts, e.maxActive)
	}

	id := e.registry.GenerateID()
	binding := BindingName(id)
	ch := NewChannel(id)
	log := e.logger.With(zap.String("script_id", id))

	fail := func(stage string, err error) error {
		ch.Close(ReasonSetupFailed)
		log.Error("Script setup failed", zap.String("stage", stage), zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordSetupFailure(stage)
		}
		return &SetupError{ScriptID: id, Stage: stage, Err: err}
	}

	if err := e.interceptor.Acquire(ctx, id); err != nil {
		return nil, fail(StageInstall, err)
	}

	if err := e.page.ExposeBinding(ctx, binding, e.receiver(ch, log)); err != nil {
		if rerr := e.interceptor.Release(context.WithoutCancel(ctx), id); rerr != nil {
			log.Debug("Release after bridge failure", zap.Error(rerr))
		}
		return nil, fail(StageBridge, err)
	}

	// The registry closes ch once the entry is gone.
	cleanup := func(ctx context.Context) error {
		return e.interceptor.Release(ctx, id)
	}
	if err := e.registry.Register(id, ModeContinuous, ch, cleanup); err != nil {
		if rerr := e.interceptor.Release(context.WithoutCancel(ctx), id); rerr != nil {
			log.Debug("Release after register failure", zap.Error(rerr))
		}
		return nil, fail(StageRegister, err)
	}

	// Every closure path funnels into Stop; the registry makes the
	// second and later triggers no-ops.
	ch.OnClose(func(ctx context.Context, _ Reason) {
		e.registry.Stop(ctx, id)
	})

	if err := e.interceptor.Launch(ctx, id, binding, source); err != nil {
		// Closing runs the hook above, which releases the page side and
		// removes the entry before fail returns.
		return nil, fail(StageLaunch, err)
	}

	e.started.Add(1)
	if e.metrics != nil {
		e.metrics.RecordScriptStarted(string(ModeContinuous))
	}
	log.Info("Continuous script started")
	return ch, nil
}

// receiver turns bridge calls into channel operations. Calls carry
// {type, seq, data}; type is "data" or "end".
func (e *Executor) receiver(ch *Channel, log *zap.Logger) BindingFunc {
	return func(args ...any) {
		defer func() {
			if p := recover(); p != nil {
				log.Error("Bridge callback panicked", zap.Any("panic", p))
				ch.Close(ReasonStopped)
			}
		}()

		if len(args) == 0 {
			log.Warn("Bridge called without a message")
			return
		}
		msg, ok := args[0].(map[string]any)
		if !ok {
			log.Warn("Bridge message has unexpected shape", zap.String("type", fmt.Sprintf("%T", args[0])))
			return
		}
		seq, ok := toSeq(msg["seq"])
		if !ok {
			log.Warn("Bridge message without sequence number")
			return
		}

		switch msg["type"] {
		case "data":
			data := msg["data"]
			if ch.Push(seq, data) && e.metrics != nil {
				e.metrics.RecordScriptEvent(eventKind(data))
			}
		case "end":
			ch.End(seq)
		default:
			log.Warn("Unknown bridge message", zap.Any("type", msg["type"]))
		}
	}
}

func eventKind(data any) string {
	if m, ok := data.(map[string]any); ok {
		if _, isErr := m["error"]; isErr && len(m) == 1 {
			return "error"
		}
	}
	return "data"
}

func toSeq(v any) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), n > 0
	case int64:
		return uint64(n), n > 0
	case float64:
		return uint64(n), n >= 1 && n == float64(uint64(n))
	default:
		return 0, false
	}
}

// StopScript tears down id. It returns false when id is not running.
func (e *Executor) StopScript(ctx context.Context, id string) bool {
	return e.registry.Stop(ctx, id)
}

// StopAll closes every running script with ReasonShutdown and waits for
// all teardowns. ctx bounds the page-side cleanup.
func (e *Executor) StopAll(ctx context.Context) int {
	closed := e.closeAll(ctx, ReasonShutdown)
	return closed + e.registry.StopAll(ctx)
}

// HandleNavigation checks whether the page document was replaced. If the
// interceptor is gone every running script is closed as page loss.
func (e *Executor) HandleNavigation(ctx context.Context) {
	if e.registry.Count() == 0 {
		return
	}
	installed, err := e.interceptor.Installed(ctx)
	if err == nil && installed {
		return
	}
	e.logger.Warn("Page navigated away from running scripts", zap.Error(err))
	e.closeAll(ctx, ReasonPageLost)
}

// HandlePageLost closes every running script as page loss. Called when the
// page or browser is closed.
func (e *Executor) HandlePageLost() {
	if n := e.closeAll(context.Background(), ReasonPageLost); n > 0 {
		e.logger.Warn("Page lost with running scripts", zap.Int("scripts", n))
	}
}

// closeAll closes the channel of every entry concurrently. Each close runs
// the entry's stop hook synchronously, so all teardowns are done on return.
func (e *Executor) closeAll(ctx context.Context, reason Reason) int {
	channels := e.registry.channels()

	var (
		g      errgroup.Group
		closed atomic.Int64
	)
	for _, ch := range channels {
		g.Go(func() error {
			if ch.CloseContext(ctx, reason) {
				closed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(closed.Load())
}

// List returns running continuous scripts.
func (e *Executor) List() []Info {
	return e.registry.List()
}

// Stats summarizes executor activity.
func (e *Executor) Stats() Stats {
	return Stats{
		Active:      e.registry.Count(),
		Started:     e.started.Load(),
		OneShots:    e.oneShots.Load(),
		Interceptor: e.interceptor.Active() > 0,
	}
}
