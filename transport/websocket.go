package transport

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexcodex/vision2ui/protocol"
)

// WebSocketConfig holds websocket channel settings.
type WebSocketConfig struct {
	WriteTimeout   time.Duration
	MaxMessageSize int64
	Logger         *log.Logger
}

// DefaultWebSocketConfig returns the defaults used by the bridge server.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4 << 20,
	}
}

// WebSocket carries one message per text frame.
type WebSocket struct {
	conn   *websocket.Conn
	config WebSocketConfig
	logger *log.Logger

	writeMu sync.Mutex
	recv    chan protocol.Message
	done    chan struct{}
	once    sync.Once
}

// NewUpgrader returns the upgrader used to accept panel connections.
// Browser origins must pass OriginChecker(allowedOrigins).
func NewUpgrader(allowedOrigins ...string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     OriginChecker(allowedOrigins),
	}
}

// OriginChecker rejects cross-site websocket requests. It accepts requests
// without an Origin header (non-browser clients), loopback origins, origins
// naming the request's own IP host, and origins listed in allowed ("*"
// allows all). Same-host matches on DNS names are not trusted since a
// rebound name can point at the loopback bridge.
func OriginChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[canonicalOrigin(origin)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set["*"] || set[canonicalOrigin(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		host := u.Hostname()
		if strings.EqualFold(host, "localhost") {
			return true
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback() || strings.EqualFold(u.Host, r.Host)
	}
}

func canonicalOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// NewWebSocket wraps an established connection and starts reading.
func NewWebSocket(conn *websocket.Conn, cfg WebSocketConfig) *WebSocket {
	defaults := DefaultWebSocketConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	conn.SetReadLimit(cfg.MaxMessageSize)
	ws := &WebSocket{
		conn:   conn,
		config: cfg,
		logger: logger,
		recv:   make(chan protocol.Message, recvBufferSize),
		done:   make(chan struct{}),
	}
	go ws.readLoop()
	return ws
}

// Dial connects to a bridge server's panel endpoint.
func Dial(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, cfg), nil
}

func (w *WebSocket) readLoop() {
	defer close(w.recv)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Printf("websocket read: %v", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			w.logger.Printf("websocket: dropping message: %v", err)
			continue
		}
		select {
		case w.recv <- msg:
		case <-w.done:
			return
		}
	}
}

// Send writes one text frame.
func (w *WebSocket) Send(ctx context.Context, msg protocol.Message) error {
	if w.closed() {
		return ErrClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(w.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv returns decoded inbound messages.
func (w *WebSocket) Recv() <-chan protocol.Message {
	return w.recv
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

func (w *WebSocket) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
