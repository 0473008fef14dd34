package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

//go:embed prelude.js
var preludeSource string

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, false)

const minInterval = time.Millisecond

// Runtime is a single-threaded JavaScript page: one goja VM driven by an
// event loop goroutine. Every VM access happens on that goroutine; callers
// submit tasks and wait for their results.
type Runtime struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}

	current atomic.Pointer[goja.Runtime]
	url     atomic.Value

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex

	// Owned by the loop goroutine.
	vm         *goja.Runtime
	stringify  goja.Callable
	parse      goja.Callable
	programs   map[string]*goja.Program
	timers     map[int64]*timer
	nextTimer  int64
	waiters    map[uint64]func(any, error)
	nextWaiter uint64
	bindings   map[string]script.BindingFunc
}

type timer struct {
	fn     goja.Callable
	args   []goja.Value
	delay  time.Duration
	repeat bool
	t      *time.Timer
}

// New creates a runtime with a fresh document and starts its event loop.
func New(config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.URL == "" {
		config.URL = "about:blank"
	}

	r := &Runtime{
		config:   config,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		programs: make(map[string]*goja.Program),
		timers:   make(map[int64]*timer),
		waiters:  make(map[uint64]func(any, error)),
		bindings: make(map[string]script.BindingFunc),
	}
	if err := r.newDocument(config.URL); err != nil {
		return nil, err
	}

	go r.loop()
	return r, nil
}

// URL returns the current document URL.
func (r *Runtime) URL() string {
	s, _ := r.url.Load().(string)
	return s
}

// Console returns captured console output, oldest first.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops the event loop. Pending evaluations fail with
// script.ErrPageClosed and scheduled timers never fire.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	r.queue = nil
	r.mu.Unlock()

	close(r.quit)
	if vm := r.current.Load(); vm != nil {
		vm.Interrupt(ErrClosed)
	}
	<-r.done
	return nil
}

// Evaluate runs expression with arg as its single argument. A function
// expression is called; anything else is evaluated as written. A returned
// promise is awaited. The result is passed through JSON, so it holds only
// maps, slices, strings, float64, bool and nil.
func (r *Runtime) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	return r.await(ctx, func(settle func(any, error)) {
		r.evaluate(expression, arg, settle)
	})
}

// Bind installs a global function forwarding its JSON-converted arguments
// to fn. Bindings survive Navigate. Each call is dispatched on its own
// goroutine, so fn may block.
func (r *Runtime) Bind(ctx context.Context, name string, fn script.BindingFunc) error {
	_, err := r.await(ctx, func(settle func(any, error)) {
		if _, exists := r.bindings[name]; exists {
			settle(nil, fmt.Errorf("%w: %s", script.ErrBindingExists, name))
			return
		}
		r.bindings[name] = fn
		r.installBinding(name, fn)
		settle(nil, nil)
	})
	return err
}

// Navigate replaces the document. Timers are cancelled, pending
// evaluations fail and all page globals except bindings are lost.
func (r *Runtime) Navigate(ctx context.Context, url string) error {
	_, err := r.await(ctx, func(settle func(any, error)) {
		r.discard()
		settle(nil, r.newDocument(url))
	})
	return err
}

// ActiveTimers returns the number of scheduled timeouts and intervals.
func (r *Runtime) ActiveTimers(ctx context.Context) (int, error) {
	v, err := r.await(ctx, func(settle func(any, error)) {
		settle(len(r.timers), nil)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// await submits task and waits until it calls settle. Only the first
// settle counts.
func (r *Runtime) await(ctx context.Context, task func(settle func(any, error))) (any, error) {
	type result struct {
		val any
		err error
	}
	res := make(chan result, 1)
	settle := func(v any, err error) {
		select {
		case res <- result{v, err}:
		default:
		}
	}

	if !r.submit(func() { task(settle) }) {
		return nil, fmt.Errorf("%w: %w", script.ErrPageClosed, ErrClosed)
	}

	select {
	case out := <-res:
		return out.val, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		select {
		case out := <-res:
			return out.val, out.err
		default:
			return nil, fmt.Errorf("%w: %w", script.ErrPageClosed, ErrClosed)
		}
	}
}

func (r *Runtime) submit(job func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, job)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *Runtime) dequeue() (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	job := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return job, true
}

func (r *Runtime) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
		case <-r.quit:
			r.discard()
			return
		}
		for {
			job, ok := r.dequeue()
			if !ok {
				break
			}
			r.run(job)

			select {
			case <-r.quit:
				r.discard()
				return
			default:
			}
		}
	}
}

// run executes one task. Long tasks are interrupted after config.Timeout.
func (r *Runtime) run(job func()) {
	vm := r.vm
	var (
		mu     sync.Mutex
		active = true
	)
	if r.config.Timeout > 0 {
		t := time.AfterFunc(r.config.Timeout, func() {
			mu.Lock()
			if active {
				vm.Interrupt("execution timeout exceeded")
			}
			mu.Unlock()
		})
		defer t.Stop()
	}

	defer func() {
		mu.Lock()
		active = false
		mu.Unlock()
		vm.ClearInterrupt()

		if p := recover(); p != nil {
			r.logger.Error("Sandbox task panicked", zap.Any("panic", p))
		}
	}()

	job()
}

// discard drops everything tied to the current document.
func (r *Runtime) discard() {
	for id, tm := range r.timers {
		tm.t.Stop()
		delete(r.timers, id)
	}
	for id, settle := range r.waiters {
		delete(r.waiters, id)
		settle(nil, script.ErrPageClosed)
	}
}

// newDocument builds a fresh VM for url. Loop goroutine only, or before the
// loop starts.
func (r *Runtime) newDocument(url string) error {
	vm := goja.New()
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	content, err := loadMarkup(url)
	if err != nil {
		r.record("error", "Failed to load "+url+": "+err.Error())
	}

	r.vm = vm
	r.current.Store(vm)
	r.url.Store(url)

	json := vm.Get("JSON").ToObject(vm)
	r.stringify, _ = goja.AssertFunction(json.Get("stringify"))
	r.parse, _ = goja.AssertFunction(json.Get("parse"))

	if err := r.setupGlobals(); err != nil {
		return err
	}

	factory, err := vm.RunProgram(preludeProgram)
	if err != nil {
		return fmt.Errorf("load prelude: %w", err)
	}
	fn, ok := goja.AssertFunction(factory)
	if !ok {
		return errors.New("load prelude: not a function")
	}
	var initial goja.Value = goja.Null()
	if content != nil {
		initial = vm.ToValue(content.value())
	}
	_, err = fn(goja.Undefined(),
		vm.GlobalObject(),
		vm.ToValue(url),
		vm.ToValue(r.config.Width),
		vm.ToValue(r.config.Height),
		initial)
	if err != nil {
		return fmt.Errorf("run prelude: %w", err)
	}

	for name, binding := range r.bindings {
		r.installBinding(name, binding)
	}

	// Inline scripts run as their own task so the timeout applies to the
	// new VM.
	if content != nil && len(content.scripts) > 0 {
		scripts := content.scripts
		r.submit(func() { r.runInline(vm, scripts) })
	}
	return nil
}

// runInline executes a document's script elements in order. A failing
// script is reported like an uncaught error and does not stop the rest.
func (r *Runtime) runInline(vm *goja.Runtime, scripts []string) {
	if r.vm != vm {
		return
	}
	for i, src := range scripts {
		if _, err := vm.RunScript(fmt.Sprintf("inline-%d.js", i), src); err != nil {
			r.uncaught(err)
		}
	}
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	vm := r.vm

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}

	globals := map[string]any{
		"console":       console,
		"setTimeout":    r.timerFunc(false),
		"setInterval":   r.timerFunc(true),
		"clearTimeout":  r.clearTimer,
		"clearInterval": r.clearTimer,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.record(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) record(level, msg string) {
	if !r.config.EnableConsole {
		return
	}

	r.consoleMu.Lock()
	r.console = append(r.console, LogEntry{
		Level:   level,
		Message: msg,
		Time:    time.Now(),
	})
	if limit := r.config.ConsoleLimit; limit > 0 && len(r.console) > limit {
		r.console = append([]LogEntry{}, r.console[len(r.console)-limit:]...)
	}
	r.consoleMu.Unlock()
}

func (r *Runtime) timerFunc(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return r.vm.ToValue(0)
		}

		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		if repeat && delay < minInterval {
			delay = minInterval
		}

		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		r.nextTimer++
		id := r.nextTimer
		tm := &timer{fn: fn, args: args, delay: delay, repeat: repeat}
		tm.t = time.AfterFunc(delay, func() {
			r.submit(func() { r.fire(id) })
		})
		r.timers[id] = tm
		return r.vm.ToValue(id)
	}
}

func (r *Runtime) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if tm, ok := r.timers[id]; ok {
		tm.t.Stop()
		delete(r.timers, id)
	}
	return goja.Undefined()
}

func (r *Runtime) fire(id int64) {
	tm, ok := r.timers[id]
	if !ok {
		return
	}
	if !tm.repeat {
		delete(r.timers, id)
	}

	if _, err := tm.fn(goja.Undefined(), tm.args...); err != nil {
		r.uncaught(err)
	}

	if tm.repeat {
		if _, live := r.timers[id]; live {
			tm.t.Reset(tm.delay)
		}
	}
}

func (r *Runtime) uncaught(err error) {
	msg := errorMessage(err)
	r.record("error", "Uncaught "+msg)
	r.logger.Debug("Uncaught exception in sandbox", zap.String("error", msg))
}

func (r *Runtime) installBinding(name string, fn script.BindingFunc) {
	_ = r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			v, err := r.toGo(a)
			if err != nil {
				v = a.String()
			}
			args[i] = v
		}
		go fn(args...)
		return goja.Undefined()
	})
}

func (r *Runtime) compile(expression string) (*goja.Program, error) {
	if p, ok := r.programs[expression]; ok {
		return p, nil
	}
	p, err := goja.Compile("evaluate.js", "("+expression+"\n)", false)
	if err != nil {
		return nil, err
	}
	r.programs[expression] = p
	return p, nil
}

func (r *Runtime) evaluate(expression string, arg any, settle func(any, error)) {
	program, err := r.compile(expression)
	if err != nil {
		settle(nil, &script.EvaluationError{Message: errorMessage(err)})
		return
	}

	val, err := r.vm.RunProgram(program)
	if err != nil {
		settle(nil, &script.EvaluationError{Message: errorMessage(err)})
		return
	}

	if fn, ok := goja.AssertFunction(val); ok {
		argv, err := r.toValue(arg)
		if err != nil {
			settle(nil, fmt.Errorf("encode argument: %w", err))
			return
		}
		val, err = fn(goja.Undefined(), argv)
		if err != nil {
			settle(nil, &script.EvaluationError{Message: errorMessage(err)})
			return
		}
	}

	promise, ok := asPromise(val)
	if !ok {
		settle(r.toGo(val))
		return
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		settle(r.toGo(promise.Result()))
	case goja.PromiseStateRejected:
		settle(nil, &script.EvaluationError{Message: promise.Result().String()})
	default:
		r.awaitPromise(val, settle)
	}
}

func (r *Runtime) awaitPromise(val goja.Value, settle func(any, error)) {
	r.nextWaiter++
	wid := r.nextWaiter
	r.waiters[wid] = settle

	obj := val.ToObject(r.vm)
	then, _ := goja.AssertFunction(obj.Get("then"))
	onFulfilled := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		delete(r.waiters, wid)
		settle(r.toGo(call.Argument(0)))
		return goja.Undefined()
	})
	onRejected := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		delete(r.waiters, wid)
		settle(nil, &script.EvaluationError{Message: call.Argument(0).String()})
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		delete(r.waiters, wid)
		settle(nil, &script.EvaluationError{Message: errorMessage(err)})
	}
}

// toValue converts a Go value to a page value through JSON.
func (r *Runtime) toValue(v any) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	text, err := sonic.MarshalString(v)
	if err != nil {
		return nil, err
	}
	return r.parse(goja.Undefined(), r.vm.ToValue(text))
}

// toGo converts a page value to plain Go data through JSON. Values JSON
// cannot represent become nil.
func (r *Runtime) toGo(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	text, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, &script.EvaluationError{Message: errorMessage(err)}
	}
	if goja.IsUndefined(text) {
		return nil, nil
	}

	var out any
	if err := sonic.UnmarshalString(text.String(), &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

func asPromise(v goja.Value) (*goja.Promise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	p, ok := obj.Export().(*goja.Promise)
	return p, ok
}

func errorMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprint(interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) && exc.Value() != nil {
		return exc.Value().String()
	}
	return err.Error()
}
