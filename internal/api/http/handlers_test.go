package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser/sandbox"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router   *gin.Engine
	page     *sandbox.Page
	executor *script.Executor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	page := sandbox.NewPage(sandbox.DefaultConfig(), nil)
	require.NoError(t, page.Init(context.Background()))
	executor := script.NewExecutor(page, nil)

	router := gin.New()
	NewHandlers(page, executor, nil).Register(router)

	t.Cleanup(func() {
		executor.StopAll(context.Background())
		_ = page.Close()
	})
	return &fixture{router: router, page: page, executor: executor}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// sseData returns the data payloads of events named name.
func sseData(t *testing.T, body string, name string) []string {
	t.Helper()
	var (
		out   []string
		event string
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event == name {
				out = append(out, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		case line == "":
			event = ""
		}
	}
	return out
}

func TestRootAndHealth(t *testing.T) {
	f := setup(t)

	w := f.do("GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decode(t, w)["status"])

	w = f.do("GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "sandbox", body["browser"].(map[string]any)["driver"])
	assert.Contains(t, body, "scripts")
}

func TestExecute(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantResult any
		wantError  string
	}{
		{"expression", `{"script":"2+2"}`, http.StatusOK, 4.0, ""},
		{"function body", `{"script":"const a = 20; return a * 2"}`, http.StatusOK, 40.0, ""},
		{"dom", `{"script":"document.title = 'k'; return document.title"}`, http.StatusOK, "k", ""},
		{"missing script", `{}`, http.StatusBadRequest, nil, "invalid request"},
		{"blank script", `{"script":"   "}`, http.StatusBadRequest, nil, "script is empty"},
		{"malformed json", `{"script":`, http.StatusBadRequest, nil, "invalid request"},
		{"page exception", `{"script":"throw new Error('nope')"}`, http.StatusInternalServerError, nil, "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", "/api/execute", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.wantError != "" {
				assert.Equal(t, false, body["success"])
				assert.Contains(t, body["error"], tt.wantError)
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, tt.wantResult, body["result"])
		})
	}
}

func TestExecuteContinuousCompletes(t *testing.T) {
	f := setup(t)

	w := f.do("POST", "/api/execute/continuous", `{"script":"sendResult(1); sendResult({ n: 2 }); sendResult('three')"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	scriptID := w.Header().Get(ScriptIDHeader)
	require.NotEmpty(t, scriptID)

	messages := sseData(t, w.Body.String(), "message")
	require.Len(t, messages, 3)

	want := []any{1.0, map[string]any{"n": 2.0}, "three"}
	for i, raw := range messages {
		var frame map[string]any
		require.NoError(t, sonic.UnmarshalString(raw, &frame))
		assert.Equal(t, scriptID, frame["scriptId"])
		assert.Equal(t, want[i], frame["data"])
	}

	end := sseData(t, w.Body.String(), "end")
	require.Len(t, end, 1)
	assert.Contains(t, end[0], string(script.ReasonCompleted))
	assert.Zero(t, f.executor.Registry().Count())
}

func TestExecuteContinuousErrorItem(t *testing.T) {
	f := setup(t)

	w := f.do("POST", "/api/execute/continuous", `{"script":"throw new Error('kaboom')"}`)
	require.Equal(t, http.StatusOK, w.Code)

	messages := sseData(t, w.Body.String(), "message")
	require.Len(t, messages, 1)
	var frame map[string]any
	require.NoError(t, sonic.UnmarshalString(messages[0], &frame))
	assert.Equal(t, map[string]any{"error": "kaboom"}, frame["data"])
}

func TestExecuteContinuousValidation(t *testing.T) {
	f := setup(t)
	f.executor.WithMaxActive(1)

	w := f.do("POST", "/api/execute/continuous", `{"script":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ch, err := f.executor.ExecuteContinuous(context.Background(), "setInterval(() => {}, 1000)")
	require.NoError(t, err)
	defer ch.Close(script.ReasonStopped)

	w = f.do("POST", "/api/execute/continuous", `{"script":"sendResult(1)"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestExecuteContinuousClientDisconnect(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", srv.URL+"/api/execute/continuous",
		strings.NewReader(`{"script":"let n = 0; setInterval(() => sendResult(++n), 10)"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scriptID := resp.Header.Get(ScriptIDHeader)

	// Wait for the first item, then hang up.
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data:") {
			break
		}
	}
	_, running := f.executor.Registry().Get(scriptID)
	assert.True(t, running)
	cancel()

	require.Eventually(t, func() bool {
		_, running := f.executor.Registry().Get(scriptID)
		return !running
	}, 3*time.Second, 10*time.Millisecond)
}

func TestScriptsListAndStop(t *testing.T) {
	f := setup(t)

	ch, err := f.executor.ExecuteContinuous(context.Background(), "setInterval(() => sendResult(1), 20)")
	require.NoError(t, err)

	w := f.do("GET", "/api/scripts", "")
	require.Equal(t, http.StatusOK, w.Code)
	scripts := decode(t, w)["scripts"].([]any)
	require.Len(t, scripts, 1)
	assert.Equal(t, ch.ScriptID(), scripts[0].(map[string]any)["id"])

	tests := []struct {
		name        string
		method      string
		path        string
		wantStatus  int
		wantSuccess bool
	}{
		{"stop running", "POST", "/api/scripts/" + ch.ScriptID() + "/stop", http.StatusOK, true},
		{"stop again", "POST", "/api/scripts/" + ch.ScriptID() + "/stop", http.StatusOK, false},
		{"delete stopped", "DELETE", "/api/scripts/" + ch.ScriptID(), http.StatusOK, false},
		{"malformed id", "POST", "/api/scripts/nope/stop", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, "")
			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantSuccess, decode(t, w)["success"])
		})
	}

	assert.True(t, ch.Closed())
	assert.Equal(t, script.ReasonStopped, ch.Reason())
}

func TestDeleteScript(t *testing.T) {
	f := setup(t)

	ch, err := f.executor.ExecuteContinuous(context.Background(), "setInterval(() => {}, 20)")
	require.NoError(t, err)

	w := f.do("DELETE", "/api/scripts/"+ch.ScriptID(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
	assert.Zero(t, f.executor.Registry().Count())
}

func TestPageControl(t *testing.T) {
	f := setup(t)

	_, err := f.page.Evaluate(context.Background(), `function () {
		var input = document.createElement("input");
		input.id = "q";
		document.body.appendChild(input);
		var button = document.createElement("button");
		button.id = "go";
		button.addEventListener("click", function () { document.title = "clicked"; });
		document.body.appendChild(button);
	}`, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"type", "/api/type", `{"selector":"#q","text":"hello"}`, http.StatusOK},
		{"click", "/api/click", `{"selector":"#go"}`, http.StatusOK},
		{"click missing selector", "/api/click", `{}`, http.StatusBadRequest},
		{"click unknown element", "/api/click", `{"selector":"#absent"}`, http.StatusInternalServerError},
		{"goto relative", "/api/goto", `{"url":"/relative"}`, http.StatusBadRequest},
		{"screenshot bad format", "/api/screenshot", `{"format":"gif"}`, http.StatusBadRequest},
		{"screenshot unsupported", "/api/screenshot", "", http.StatusNotImplemented},
		{"show", "/api/browser/show", "", http.StatusOK},
		{"hide", "/api/browser/hide", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	result, err := f.page.Evaluate(context.Background(),
		"function () { return [document.getElementById('q').value, document.title]; }", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"hello", "clicked"}, result)
}

func TestGotoEndsScripts(t *testing.T) {
	f := setup(t)
	f.page.OnPageEvent(func(ev browser.PageEvent) {
		if ev == browser.PageNavigated {
			f.executor.HandleNavigation(context.Background())
		}
	})

	ch, err := f.executor.ExecuteContinuous(context.Background(), "setInterval(() => sendResult(1), 10)")
	require.NoError(t, err)

	w := f.do("POST", "/api/goto", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://example.com/", f.page.Status().URL)

	select {
	case <-ch.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("script survived navigation")
	}
	assert.Equal(t, script.ReasonPageLost, ch.Reason())
}

func TestCloseAndRecover(t *testing.T) {
	f := setup(t)

	w := f.do("POST", "/api/browser/close", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])

	// The next page operation brings the browser back.
	w = f.do("POST", "/api/execute", `{"script":"1 + 1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2.0, decode(t, w)["result"])

	w = f.do("POST", "/api/browser/restart", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{script.ErrEmptyScript, http.StatusBadRequest},
		{script.ErrTooManyScripts, http.StatusTooManyRequests},
		{fmt.Errorf("%w: %w", browser.ErrNotReady, script.ErrPageClosed), http.StatusServiceUnavailable},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{&script.SetupError{Stage: script.StageInstall, Err: script.ErrPageClosed}, http.StatusServiceUnavailable},
		{&script.SetupError{Stage: script.StageLaunch, Err: errors.New("x")}, http.StatusInternalServerError},
		{browser.ErrUnsupported, http.StatusNotImplemented},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&script.EvaluationError{Message: "x"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
