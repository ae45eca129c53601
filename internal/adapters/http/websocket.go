package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/pkg/metrics"
)

const pingInterval = 30 * time.Second

// Server -> client message types.
const (
	msgSession = "session"
	msgSetData = "setData"
	msgError   = "error"
)

// serverMessage is every frame the server writes to a websocket client.
type serverMessage struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Source  string          `json:"source,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsWriter serializes writes from the read loop, refresh goroutines, and
// the keep-alive ticker onto one connection.
type wsWriter struct {
	mu   sync.Mutex
	conn frameWriter
}

func (w *wsWriter) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// keepAlive pings until done is closed or a write fails.
func (w *wsWriter) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// validSessionID reports whether id is a session id as issued by
// SurfaceHandler: a lowercase, hyphenated UUID.
func validSessionID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// RequireSessionID rejects a :session parameter that is not a session id
// before the websocket upgrade. The id becomes part of a NATS subject, so
// wildcards must never reach the subscriber.
func RequireSessionID(c *fiber.Ctx) error {
	if !validSessionID(c.Params("session")) {
		return errBadRequest(c, "session must be a UUID")
	}
	return c.Next()
}

// WatchHandler returns a handler that relays the overlay updates mirrored
// for one session to a read-only websocket client. The latest update per
// overlay is replayed on connect.
func WatchHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		session := c.Params("session")
		w := &wsWriter{conn: c}
		logger := slog.Default().With("session", session, "remote", c.RemoteAddr().String())

		if deps.Watcher == nil {
			_ = w.writeJSON(serverMessage{Type: msgError, Message: "overlay mirroring not configured"})
			return
		}

		stop, err := deps.Watcher.WatchSession(session, func(u *domain.OverlayUpdate) {
			err := w.writeJSON(serverMessage{
				Type:    msgSetData,
				Session: u.Session,
				Source:  u.Source,
				Seq:     u.Seq,
				Data:    json.RawMessage(u.Data),
			})
			if err != nil {
				logger.Debug("watch write failed", "error", err)
			}
		})
		if err != nil {
			logger.Warn("watch subscribe failed", "error", err)
			_ = w.writeJSON(serverMessage{Type: msgError, Message: err.Error()})
			return
		}
		defer stop()

		metrics.ActiveWatchers.Inc()
		defer metrics.ActiveWatchers.Dec()
		logger.Info("watcher connected")

		done := make(chan struct{})
		defer close(done)
		go w.keepAlive(done)

		// Watchers are read-only; the loop only detects the close.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		logger.Info("watcher disconnected")
	}
}
