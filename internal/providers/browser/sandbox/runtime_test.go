package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, mutate ...func(*Config)) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	rt, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimeEvaluate(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		arg  any
		want any
	}{
		{"expression", "1 + 1", nil, 2.0},
		{"function with argument", "function (n) { return n * 2; }", 21, 42.0},
		{"string argument", "function (s) { return s.toUpperCase(); }", "kiosk", "KIOSK"},
		{"object result", "function () { return { a: 1, b: [true, null] }; }", nil, map[string]any{"a": 1.0, "b": []any{true, nil}}},
		{"undefined result", "function () {}", nil, nil},
		{"function result", "function () { return function () {}; }", nil, nil},
		{"resolved promise", "function () { return Promise.resolve('ok'); }", nil, "ok"},
		{"async with timer", `async function () {
			await new Promise(function (resolve) { setTimeout(resolve, 10); });
			return "waited";
		}`, nil, "waited"},
		{"map argument", "function (o) { return o.x + o.y; }", map[string]int{"x": 2, "y": 3}, 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Evaluate(ctx, tt.expr, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAsPromise(t *testing.T) {
	vm := goja.New()

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"resolved promise", "Promise.resolve(1)", true},
		{"async call", "(async function () { return 1; })()", true},
		{"pending promise", "new Promise(function () {})", true},
		{"thenable", "({ then: function () {} })", false},
		{"plain object", "({ a: 1 })", false},
		{"number", "42", false},
		{"undefined", "undefined", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.RunString(tt.src)
			require.NoError(t, err)
			_, ok := asPromise(v)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestRuntimeEvaluateErrors(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		expr    string
		message string
	}{
		{"thrown error", "function () { throw new Error('boom'); }", "boom"},
		{"rejected promise", "function () { return Promise.reject(new Error('nope')); }", "nope"},
		{"async rejection after timer", `async function () {
			await new Promise(function (r) { setTimeout(r, 5); });
			throw new Error("late");
		}`, "late"},
		{"syntax error", "function ( {", ""},
		{"reference error", "function () { return missing.value; }", "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Evaluate(ctx, tt.expr, nil)
			require.Error(t, err)

			var evalErr *script.EvaluationError
			require.ErrorAs(t, err, &evalErr)
			assert.Contains(t, evalErr.Message, tt.message)
		})
	}
}

func TestRuntimeTimeout(t *testing.T) {
	rt := newRuntime(t, func(c *Config) { c.Timeout = 100 * time.Millisecond })
	ctx := context.Background()

	_, err := rt.Evaluate(ctx, "function () { while (true) {} }", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	// The loop survives an interrupted task.
	got, err := rt.Evaluate(ctx, "40 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestRuntimeContextCancel(t *testing.T) {
	rt := newRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rt.Evaluate(ctx, "function () { return new Promise(function () {}); }", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRuntimeTimers(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	got, err := rt.Evaluate(ctx, `function () {
		return new Promise(function (resolve) {
			var ticks = 0;
			var handle = setInterval(function () {
				ticks++;
				if (ticks === 3) {
					clearInterval(handle);
					resolve(ticks);
				}
			}, 5);
		});
	}`, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	_, err = rt.Evaluate(ctx, `function () {
		globalThis.fired = false;
		globalThis.pendingHandle = setTimeout(function () { globalThis.fired = true; }, 60000);
		setInterval(function () {}, 60000);
	}`, nil)
	require.NoError(t, err)

	n, err := rt.ActiveTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = rt.Evaluate(ctx, "function () { clearTimeout(globalThis.pendingHandle); }", nil)
	require.NoError(t, err)

	n, err = rt.ActiveTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRuntimeTimerArguments(t *testing.T) {
	rt := newRuntime(t)

	got, err := rt.Evaluate(context.Background(), `function () {
		return new Promise(function (resolve) {
			setTimeout(function (a, b) { resolve(a + b); }, 0, "x", "y");
		});
	}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "xy", got)
}

func TestRuntimeBind(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen [][]any
	)
	calls := make(chan struct{}, 8)
	err := rt.Bind(ctx, "report", func(args ...any) {
		mu.Lock()
		seen = append(seen, args)
		mu.Unlock()
		calls <- struct{}{}
	})
	require.NoError(t, err)

	_, err = rt.Evaluate(ctx, "function () { report({ n: 1 }, 'two'); }", nil)
	require.NoError(t, err)

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("binding was not called")
	}
	mu.Lock()
	assert.Equal(t, []any{map[string]any{"n": 1.0}, "two"}, seen[0])
	mu.Unlock()

	err = rt.Bind(ctx, "report", func(...any) {})
	assert.ErrorIs(t, err, script.ErrBindingExists)

	// Bindings outlive the document.
	require.NoError(t, rt.Navigate(ctx, "http://kiosk.local/next"))
	got, err := rt.Evaluate(ctx, "typeof report", nil)
	require.NoError(t, err)
	assert.Equal(t, "function", got)
}

func TestRuntimeNavigate(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Evaluate(ctx, `function () {
		globalThis.marker = 1;
		setInterval(function () {}, 1000);
	}`, nil)
	require.NoError(t, err)

	pending := make(chan error, 1)
	go func() {
		_, err := rt.Evaluate(ctx, "function () { globalThis.waiting = true; return new Promise(function () {}); }", nil)
		pending <- err
	}()

	require.Eventually(t, func() bool {
		v, err := rt.Evaluate(ctx, "globalThis.waiting === true", nil)
		return err == nil && v == true
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Navigate(ctx, "http://kiosk.local/"))
	assert.Equal(t, "http://kiosk.local/", rt.URL())

	select {
	case err := <-pending:
		assert.ErrorIs(t, err, script.ErrPageClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending evaluation was not failed")
	}

	got, err := rt.Evaluate(ctx, "typeof marker", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)

	n, err := rt.ActiveTimers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = rt.Evaluate(ctx, "location.href", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://kiosk.local/", got)
}

func TestRuntimeClose(t *testing.T) {
	rt := newRuntime(t)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	assert.True(t, rt.Closed())
	_, err := rt.Evaluate(context.Background(), "1", nil)
	assert.ErrorIs(t, err, script.ErrPageClosed)
}

func TestRuntimeMutationObserver(t *testing.T) {
	rt := newRuntime(t)

	got, err := rt.Evaluate(context.Background(), `function () {
		return new Promise(function (resolve) {
			var seen = [];
			var observer = new MutationObserver(function (records) {
				records.forEach(function (r) {
					seen.push(r.type + ":" + r.addedNodes.length);
				});
				observer.disconnect();
				resolve(seen);
			});
			observer.observe(document.body, { childList: true, subtree: true });
			var div = document.createElement("div");
			div.id = "status";
			document.body.appendChild(div);
		});
	}`, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"childList:1"}, got)
}

func TestRuntimeDOM(t *testing.T) {
	rt := newRuntime(t)

	got, err := rt.Evaluate(context.Background(), `function () {
		var list = document.createElement("ul");
		list.className = "items";
		for (var i = 0; i < 3; i++) {
			var li = document.createElement("li");
			li.textContent = "item " + i;
			list.appendChild(li);
		}
		document.body.appendChild(list);
		return {
			byClass: document.querySelector(".items") === list,
			byTag: document.querySelectorAll("li").length,
			text: list.lastChild.textContent,
		};
	}`, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"byClass": true, "byTag": 3.0, "text": "item 2"}, got)
}

func TestRuntimeSecurity(t *testing.T) {
	rt := newRuntime(t)

	for _, name := range []string{"require", "process", "module", "exports"} {
		t.Run(name, func(t *testing.T) {
			got, err := rt.Evaluate(context.Background(), "typeof "+name, nil)
			require.NoError(t, err)
			assert.Equal(t, "undefined", got)
		})
	}
}

func TestRuntimeConsoleCapture(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Evaluate(ctx, `function () {
		console.log("info message");
		console.warn("warning", 2);
		console.error("error message");
		setTimeout(function () { throw new Error("late failure"); }, 0);
	}`, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rt.Console()) == 4
	}, time.Second, 10*time.Millisecond)

	entries := rt.Console()
	levels := []string{"log", "warn", "error", "error"}
	for i, entry := range entries {
		assert.Equal(t, levels[i], entry.Level)
	}
	assert.Equal(t, "warning 2", entries[1].Message)
	assert.Contains(t, entries[3].Message, "late failure")
}

func TestRuntimeConsoleLimit(t *testing.T) {
	rt := newRuntime(t, func(c *Config) { c.ConsoleLimit = 2 })

	_, err := rt.Evaluate(context.Background(), `function () {
		console.log("a"); console.log("b"); console.log("c");
	}`, nil)
	require.NoError(t, err)

	entries := rt.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "c", entries[1].Message)
}
