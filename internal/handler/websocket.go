package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/monitor"
	"channel-watch-server/internal/protocol"
	"channel-watch-server/internal/session"
)

type WebSocketOptions struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// AllowedOrigins restricts browser origins. Empty or "*" allows any.
	AllowedOrigins []string
}

type WebSocketHandler struct {
	Sessions *session.Manager
	Monitors *monitor.Registry
	Hub      *hub.Hub
	Log      *zap.Logger
	Options  WebSocketOptions

	once     sync.Once
	upgrader websocket.Upgrader
}

type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWriter) Write(message []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WebSocketHandler) init() {
	h.once.Do(func() {
		if h.Log == nil {
			h.Log = zap.NewNop()
		}
		if h.Options.WriteTimeout <= 0 {
			h.Options.WriteTimeout = 10 * time.Second
		}
		if h.Options.PongWait <= 0 {
			h.Options.PongWait = 60 * time.Second
		}
		if h.Options.PingInterval <= 0 || h.Options.PingInterval >= h.Options.PongWait {
			h.Options.PingInterval = (h.Options.PongWait * 9) / 10
		}
		if h.Options.MaxMessageSize <= 0 {
			h.Options.MaxMessageSize = 1 << 20
		}
		h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(h.Options.AllowedOrigins)}
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[u.Scheme+"://"+u.Host]
	}
}

// Serve upgrades the request into the session's streaming channel. The
// session's watches keep running when the connection goes away.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	h.init()
	key := c.Param("session_key")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	writer := &wsWriter{conn: ws, timeout: h.Options.WriteTimeout}
	if !h.Sessions.IsAuthorized(key) {
		h.reject(writer, "Session is not authorized")
		return
	}

	h.Hub.Register(key, writer)
	defer func() {
		h.Hub.Unregister(key, writer)
		_ = ws.Close()
		h.Log.Info("streaming connection closed", zap.String("session", key))
	}()
	h.Log.Info("streaming connection opened", zap.String("session", key))

	if err := h.Hub.Send(key, writer, protocol.ConnectionEstablished(time.Now())); err != nil {
		return
	}

	ws.SetReadLimit(h.Options.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.Options.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.Options.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepalive(ws, done)

	ctx := c.Request.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			_ = h.Hub.Send(key, writer, protocol.Error("Malformed message", time.Now()))
			continue
		}

		switch msg.Type {
		case protocol.TypePing:
			_ = h.Hub.Send(key, writer, protocol.Pong(time.Now()))
		case protocol.TypeStartMonitoring:
			results := h.Monitors.Start(ctx, key, msg.Channels)
			_ = h.Hub.Send(key, writer, protocol.MonitoringStarted(msg.Channels, results, time.Now()))
		case protocol.TypeStopMonitoring:
			results := h.Monitors.Stop(ctx, key, msg.Channels)
			_ = h.Hub.Send(key, writer, protocol.MonitoringStopped(msg.Channels, results, time.Now()))
		default:
			_ = h.Hub.Send(key, writer, protocol.Error("Unknown message type: "+msg.Type, time.Now()))
		}
	}
}

// reject sends one error frame and closes the connection.
func (h *WebSocketHandler) reject(w *wsWriter, reason string) {
	defer w.Close()
	if data, err := json.Marshal(protocol.Error(reason, time.Now())); err == nil {
		_ = w.Write(data)
	}
	deadline := time.Now().Add(h.Options.WriteTimeout)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
}

func (h *WebSocketHandler) keepalive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.Options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.Options.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
