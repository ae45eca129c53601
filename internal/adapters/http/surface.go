package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/core/usecases"
	"github.com/samirrijal/fgbview/internal/pkg/metrics"
)

// clientMessage is a surface event sent by the map client, carrying the
// camera state at the time of the event:
//
//	{"type":"moveend","center":{"lng":-97.7,"lat":40.2},"bounds":{...},"zoom":7}
type clientMessage struct {
	Type string `json:"type"`
	domain.Viewport
}

// wsSurface is a rendering surface living in a browser on the far end of a
// websocket. Viewports arrive with load and moveend events; overlay data is
// written back as setData frames.
type wsSurface struct {
	id string
	w  *wsWriter

	mu       sync.Mutex
	viewport domain.Viewport
	loaded   bool
	handlers map[domain.SurfaceEvent][]func()
}

var _ ports.Surface = (*wsSurface)(nil)

func newWSSurface(id string, conn frameWriter) *wsSurface {
	return &wsSurface{
		id:       id,
		w:        &wsWriter{conn: conn},
		handlers: make(map[domain.SurfaceEvent][]func()),
	}
}

func (s *wsSurface) ID() string { return s.id }

func (s *wsSurface) Viewport() domain.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *wsSurface) SetData(ctx context.Context, source string, seq uint64, fc *geojson.FeatureCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode %s overlay: %w", source, err)
	}
	return s.w.writeJSON(serverMessage{Type: msgSetData, Source: source, Seq: seq, Data: data})
}

func (s *wsSurface) On(event domain.SurfaceEvent, handler func()) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

// handleMessage applies one client frame: the viewport is stored before the
// event's handlers run so they observe it. A repeated load is treated as a
// moveend.
func (s *wsSurface) handleMessage(raw []byte) error {
	var m clientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	event := domain.SurfaceEvent(m.Type)
	if event != domain.EventLoad && event != domain.EventMoveEnd {
		return fmt.Errorf("unknown event type %q", m.Type)
	}

	s.mu.Lock()
	s.viewport = m.Viewport
	if event == domain.EventLoad {
		if s.loaded {
			event = domain.EventMoveEnd
		}
		s.loaded = true
	}
	hs := append([]func(){}, s.handlers[event]...)
	s.mu.Unlock()

	for _, h := range hs {
		h()
	}
	return nil
}

// SurfaceHandler returns a handler that upgrades to WebSocket and runs one
// loader per connection. The first frame sent is the session ID under which
// refreshes are recorded and mirrored.
func SurfaceHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		s := newWSSurface(uuid.NewString(), c)
		logger := slog.Default().With("session", s.id, "remote", c.RemoteAddr().String())

		loader := usecases.NewLoader(s, deps.Features, deps.Mirror, deps.Sessions, deps.Loader)
		loader.Attach()
		defer loader.Close()

		metrics.ActiveSurfaces.Inc()
		defer metrics.ActiveSurfaces.Dec()

		if err := s.w.writeJSON(serverMessage{Type: msgSession, Session: s.id}); err != nil {
			return
		}
		logger.Info("surface connected")

		done := make(chan struct{})
		defer close(done)
		go s.w.keepAlive(done)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			if err := s.handleMessage(msg); err != nil {
				_ = s.w.writeJSON(serverMessage{Type: msgError, Message: err.Error()})
			}
		}
		logger.Info("surface disconnected")
	}
}
