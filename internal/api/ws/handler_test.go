package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser/sandbox"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	url      string
	executor *script.Executor
	metrics  *monitoring.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	page := sandbox.NewPage(sandbox.DefaultConfig(), nil)
	require.NoError(t, page.Init(context.Background()))
	executor := script.NewExecutor(page, nil)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.GET("/stream", NewHandler(page, executor, nil).WithMetrics(metrics).HandleConnection)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		executor.StopAll(context.Background())
		_ = page.Close()
	})
	return &fixture{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		executor: executor,
		metrics:  metrics,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, TypeConnected, hello.Type)
	assert.NotEmpty(t, hello.ConnectionID)
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	payload, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func read(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ServerMessage
	require.NoError(t, sonic.Unmarshal(raw, &msg))
	return msg
}

func TestPing(t *testing.T) {
	f := setup(t)
	conn := dial(t, f.url)

	write(t, conn, ClientMessage{Type: TypePing, RequestID: "r1"})
	msg := read(t, conn)
	assert.Equal(t, TypePong, msg.Type)
	assert.Equal(t, "r1", msg.RequestID)
}

func TestExecuteStreamsUntilClosed(t *testing.T) {
	f := setup(t)
	conn := dial(t, f.url)

	write(t, conn, ClientMessage{Type: TypeExecute, Script: "sendResult('a'); sendResult(null); sendResult({ b: 1 })", RequestID: "r1"})

	started := read(t, conn)
	require.Equal(t, TypeStarted, started.Type)
	assert.Equal(t, "r1", started.RequestID)

	var data []any
	for {
		msg := read(t, conn)
		if msg.Type == TypeClosed {
			assert.Equal(t, started.ScriptID, msg.ScriptID)
			assert.Equal(t, script.ReasonCompleted, msg.Reason)
			break
		}
		require.Equal(t, TypeResult, msg.Type)
		assert.Equal(t, started.ScriptID, msg.ScriptID)
		data = append(data, msg.Data)
	}
	assert.Equal(t, []any{"a", nil, map[string]any{"b": 1.0}}, data)
}

func TestStop(t *testing.T) {
	f := setup(t)
	conn := dial(t, f.url)

	write(t, conn, ClientMessage{Type: TypeExecute, Script: "setInterval(() => sendResult(1), 20)"})
	started := read(t, conn)
	require.Equal(t, TypeStarted, started.Type)

	write(t, conn, ClientMessage{Type: TypeStop, ScriptID: started.ScriptID})

	var sawStopped, sawClosed bool
	for !(sawStopped && sawClosed) {
		msg := read(t, conn)
		switch msg.Type {
		case TypeStopped:
			require.NotNil(t, msg.Success)
			assert.True(t, *msg.Success)
			sawStopped = true
		case TypeClosed:
			assert.Equal(t, script.ReasonStopped, msg.Reason)
			sawClosed = true
		}
	}
	assert.Zero(t, f.executor.Registry().Count())
}

func TestSocketCloseStopsScripts(t *testing.T) {
	f := setup(t)
	conn := dial(t, f.url)

	for i := 0; i < 3; i++ {
		write(t, conn, ClientMessage{Type: TypeExecute, Script: "setInterval(() => sendResult(1), 50)"})
	}
	started := 0
	for started < 3 {
		if read(t, conn).Type == TypeStarted {
			started++
		}
	}
	assert.Equal(t, 3, f.executor.Registry().Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSConnections))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return f.executor.Registry().Count() == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WSConnections) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestErrors(t *testing.T) {
	f := setup(t)
	conn := dial(t, f.url)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"malformed", "{not json", "malformed message"},
		{"unknown type", `{"type":"launch"}`, "unknown message type"},
		{"empty script", `{"type":"execute","script":"  "}`, "script is empty"},
		{"stop without id", `{"type":"stop"}`, "stop requires scriptId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			msg := read(t, conn)
			assert.Equal(t, TypeError, msg.Type)
			assert.Contains(t, msg.Message, tt.want)
		})
	}

	write(t, conn, ClientMessage{Type: TypeStop, ScriptID: "script_01HZX3M8N4V9D6QKJ2R7T5W1YB"})
	msg := read(t, conn)
	require.Equal(t, TypeStopped, msg.Type)
	require.NotNil(t, msg.Success)
	assert.False(t, *msg.Success)
}
