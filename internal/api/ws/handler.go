package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/domain/script"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	readyTimeout   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Control panels are served from other origins
	},
}

// Handler manages WebSocket connections
type Handler struct {
	driver   browser.Driver
	executor *script.Executor
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(driver browser.Driver, executor *script.Executor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		driver:   driver,
		executor: executor,
		logger:   logger,
	}
}

// WithMetrics adds connection and message counters.
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		handler: h,
		scripts: make(map[string]*script.Channel),
		done:    make(chan struct{}),
	}
	s.logger = h.logger.With(zap.String("connection_id", s.id))

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	s.logger.Info("WebSocket connected", zap.String("client_ip", c.ClientIP()))

	s.run(context.WithoutCancel(c.Request.Context()))
}

// session is one socket. Scripts it starts live until they finish, are
// stopped, or the socket closes.
type session struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	logger  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	scripts map[string]*script.Channel
	wg      sync.WaitGroup
	done    chan struct{}
}

func (s *session) run(ctx context.Context) {
	defer s.shutdown()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.keepAlive()

	s.send(ServerMessage{Type: TypeConnected, ConnectionID: s.id})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			s.sendError("", "malformed message: "+err.Error())
			continue
		}
		s.record("in", msg.Type)

		switch msg.Type {
		case TypeExecute:
			s.execute(ctx, msg)
		case TypeStop:
			s.stop(ctx, msg)
		case TypePing:
			s.send(ServerMessage{Type: TypePong, RequestID: msg.RequestID})
		default:
			s.sendError(msg.RequestID, "unknown message type "+msg.Type)
		}
	}
}

func (s *session) execute(ctx context.Context, msg ClientMessage) {
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := s.handler.driver.EnsureReady(readyCtx)
	cancel()
	if err != nil {
		s.sendError(msg.RequestID, err.Error())
		return
	}

	ch, err := s.handler.executor.ExecuteContinuous(ctx, msg.Script)
	if err != nil {
		s.sendError(msg.RequestID, err.Error())
		return
	}

	scriptID := ch.ScriptID()
	s.mu.Lock()
	s.scripts[scriptID] = ch
	s.mu.Unlock()

	s.send(ServerMessage{Type: TypeStarted, ScriptID: scriptID, RequestID: msg.RequestID})

	s.wg.Add(1)
	go s.forward(ch)
}

// forward relays one script's events until its channel closes.
func (s *session) forward(ch *script.Channel) {
	defer s.wg.Done()
	scriptID := ch.ScriptID()

	for ev := range ch.Events() {
		s.send(ServerMessage{Type: TypeResult, ScriptID: scriptID, Data: ev.Data})
	}

	s.mu.Lock()
	delete(s.scripts, scriptID)
	s.mu.Unlock()

	s.send(ServerMessage{Type: TypeClosed, ScriptID: scriptID, Reason: ch.Reason()})
}

func (s *session) stop(ctx context.Context, msg ClientMessage) {
	if msg.ScriptID == "" {
		s.sendError(msg.RequestID, "stop requires scriptId")
		return
	}
	stopped := s.handler.executor.StopScript(ctx, msg.ScriptID)
	s.send(ServerMessage{
		Type:      TypeStopped,
		ScriptID:  msg.ScriptID,
		Success:   &stopped,
		RequestID: msg.RequestID,
	})
}

// shutdown ends every script this socket started and waits for their
// forwarders.
func (s *session) shutdown() {
	close(s.done)

	s.mu.Lock()
	channels := make([]*script.Channel, 0, len(s.scripts))
	for _, ch := range s.scripts {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Close(script.ReasonDisconnected)
	}
	s.wg.Wait()

	_ = s.conn.Close()
	s.logger.Info("WebSocket disconnected", zap.Int("scripts_closed", len(channels)))
}

func (s *session) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) send(msg ServerMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	payload, err := sonic.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug("WebSocket write failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	s.record("out", msg.Type)
}

func (s *session) sendError(requestID, message string) {
	s.send(ServerMessage{Type: TypeError, Message: message, RequestID: requestID})
}

func (s *session) record(direction, msgType string) {
	if s.handler.metrics != nil {
		s.handler.metrics.RecordWSMessage(direction, msgType)
	}
}
