package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/empathic-go/pkg/version"
)

// HandshakeTimeout bounds the websocket upgrade.
const HandshakeTimeout = 10 * time.Second

// WebSocketChannel is a Channel over a gorilla websocket connection.
type WebSocketChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewWebSocketChannel wraps an established connection.
func NewWebSocketChannel(conn *websocket.Conn, logger *slog.Logger) *WebSocketChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketChannel{conn: conn, logger: logger}
}

// DialURL connects to rawURL.
func DialURL(ctx context.Context, rawURL string, logger *slog.Logger) (*WebSocketChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	logger.Debug("Connecting to WebSocket", slog.String("url", redact(u)))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = HandshakeTimeout

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger.Info("WebSocket connected", slog.String("host", u.Host), slog.String("path", u.Path))
	return NewWebSocketChannel(conn, logger), nil
}

func (c *WebSocketChannel) Send(ctx context.Context, v any) error {
	if c.IsClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.conn.WriteJSON(v); err != nil {
		if c.IsClosed() {
			return ErrClosed
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *WebSocketChannel) Receive() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			if c.IsClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Ping writes a websocket ping control frame.
func (c *WebSocketChannel) Ping(ctx context.Context) error {
	if c.IsClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// IsClosed reports whether Close has been called.
func (c *WebSocketChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("Closing WebSocket connection")

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// redact strips credentials from a URL for logging.
func redact(u *url.URL) string {
	q := u.Query()
	for _, key := range []string{"access_token", "api_key", "apikey"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	r := *u
	r.RawQuery = q.Encode()
	return r.String()
}
