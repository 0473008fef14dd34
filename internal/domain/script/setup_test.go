package script

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage records calls and fails the ones it is told to.
type fakePage struct {
	mu          sync.Mutex
	calls       []string
	failEval    map[string]error
	failBinding error
	bindings    map[string]BindingFunc
}

func newFakePage() *fakePage {
	return &fakePage{
		failEval: make(map[string]error),
		bindings: make(map[string]BindingFunc),
	}
}

func (f *fakePage) Evaluate(_ context.Context, expression string, _ any) (any, error) {
	name := exprName(expression)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err := f.failEval[name]; err != nil {
		return nil, err
	}
	switch name {
	case "install":
		return 1.0, nil
	case "cleanup":
		return true, nil
	case "probe":
		return true, nil
	}
	return nil, nil
}

func (f *fakePage) ExposeBinding(_ context.Context, name string, fn BindingFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "bind")
	if f.failBinding != nil {
		return f.failBinding
	}
	f.bindings[name] = fn
	return nil
}

func (f *fakePage) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func exprName(expression string) string {
	switch expression {
	case installExpr:
		return "install"
	case launchExpr:
		return "launch"
	case cleanupExpr:
		return "cleanup"
	case probeExpr:
		return "probe"
	case describeExpr:
		return "describe"
	case oneShotExpr:
		return "oneshot"
	}
	return "other"
}

func TestExecuteContinuousSetupFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		configure func(*fakePage)
		stage     string
		calls     []string
	}{
		{
			name:      "install",
			configure: func(f *fakePage) { f.failEval["install"] = boom },
			stage:     StageInstall,
			calls:     []string{"install"},
		},
		{
			name:      "bridge",
			configure: func(f *fakePage) { f.failBinding = ErrBindingExists },
			stage:     StageBridge,
			calls:     []string{"install", "bind", "cleanup"},
		},
		{
			name:      "launch",
			configure: func(f *fakePage) { f.failEval["launch"] = boom },
			stage:     StageLaunch,
			calls:     []string{"install", "bind", "launch", "cleanup"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			tt.configure(page)

			reg := prometheus.NewRegistry()
			metrics := monitoring.NewMetrics(reg)
			exec := NewExecutor(page, nil).WithMetrics(metrics)

			ch, err := exec.ExecuteContinuous(context.Background(), "sendResult(1)")
			require.Error(t, err)
			assert.Nil(t, ch)

			var setupErr *SetupError
			require.ErrorAs(t, err, &setupErr)
			assert.Equal(t, tt.stage, setupErr.Stage)
			assert.NotEmpty(t, setupErr.ScriptID)

			assert.Equal(t, tt.calls, page.history())
			assert.Zero(t, exec.Registry().Count())
			assert.Zero(t, exec.Interceptor().Active())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScriptSetupFailures.WithLabelValues(tt.stage)))
		})
	}
}

func TestReceiverMessages(t *testing.T) {
	page := newFakePage()
	exec := NewExecutor(page, nil)

	ch, err := exec.ExecuteContinuous(context.Background(), "sendResult(1)")
	require.NoError(t, err)

	bridge := page.bindings[BindingName(ch.ScriptID())]
	require.NotNil(t, bridge)

	// Malformed calls are dropped.
	bridge()
	bridge("not a message")
	bridge(map[string]any{"type": "data"})
	bridge(map[string]any{"type": "data", "seq": 0.5})
	bridge(map[string]any{"type": "bogus", "seq": 1.0})

	bridge(map[string]any{"type": "data", "seq": 2.0, "data": "second"})
	bridge(map[string]any{"type": "end", "seq": 3.0})
	bridge(map[string]any{"type": "data", "seq": 1.0, "data": "first"})

	assert.Equal(t, []any{"first", "second"}, collect(t, ch))
	assert.Equal(t, ReasonCompleted, ch.Reason())
	assert.Zero(t, exec.Registry().Count())
	assert.Contains(t, page.history(), "cleanup")
}

func TestHandleNavigation(t *testing.T) {
	tests := []struct {
		name  string
		probe error
		want  Reason
	}{
		{"shim still present", nil, ""},
		{"probe fails", ErrPageClosed, ReasonPageLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			exec := NewExecutor(page, nil)

			ch, err := exec.ExecuteContinuous(context.Background(), "setInterval(() => {}, 10)")
			require.NoError(t, err)

			if tt.probe != nil {
				page.mu.Lock()
				page.failEval["probe"] = tt.probe
				page.mu.Unlock()
			}
			exec.HandleNavigation(context.Background())

			if tt.want == "" {
				assert.False(t, ch.Closed())
				assert.Equal(t, 1, exec.Registry().Count())
				return
			}
			assert.True(t, ch.Closed())
			assert.Equal(t, tt.want, ch.Reason())
			assert.Zero(t, exec.Registry().Count())
		})
	}
}

func TestToSeq(t *testing.T) {
	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{1.0, 1, true},
		{42, 42, true},
		{int64(7), 7, true},
		{0.0, 0, false},
		{1.5, 0, false},
		{-1, 0, false},
		{"3", 0, false},
	}
	for _, tt := range tests {
		got, ok := toSeq(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
