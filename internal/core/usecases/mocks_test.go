package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
)

// --- Mock FeatureIterator ---

type sliceIterator struct {
	features []*geojson.Feature
	failAt   int // yield this many features then fail; <0 never fails
	err      error
	i        int
	closed   bool
}

func newIterator(n int) *sliceIterator {
	fs := make([]*geojson.Feature, n)
	for i := range fs {
		f := geojson.NewFeature(orb.Point{float64(i), float64(i)})
		f.Properties["n"] = i
		fs[i] = f
	}
	return &sliceIterator{features: fs, failAt: -1}
}

func (it *sliceIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	if it.failAt >= 0 && it.i >= it.failAt {
		it.err = errors.New("connection reset")
		return false
	}
	if it.i >= len(it.features) {
		return false
	}
	it.i++
	return true
}

func (it *sliceIterator) Feature() *geojson.Feature { return it.features[it.i-1] }
func (it *sliceIterator) Err() error                { return it.err }
func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

// --- Mock FeatureSource ---

type mockSource struct {
	mu       sync.Mutex
	streamFn func(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error)
	boxes    []domain.QueryBox
}

func (m *mockSource) Stream(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
	m.mu.Lock()
	m.boxes = append(m.boxes, box)
	m.mu.Unlock()
	if m.streamFn != nil {
		return m.streamFn(ctx, box)
	}
	return newIterator(0), nil
}

func (m *mockSource) calls() []domain.QueryBox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.QueryBox(nil), m.boxes...)
}

// --- Mock Surface ---

type setCall struct {
	source string
	seq    uint64
	json   []byte
	count  int
}

type mockSurface struct {
	id string

	mu       sync.Mutex
	viewport domain.Viewport
	handlers map[domain.SurfaceEvent][]func()
	sets     []setCall
	setErr   error
}

func newSurface(vp domain.Viewport) *mockSurface {
	return &mockSurface{id: "s-1", viewport: vp, handlers: make(map[domain.SurfaceEvent][]func())}
}

func (m *mockSurface) ID() string { return m.id }

func (m *mockSurface) Viewport() domain.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

func (m *mockSurface) setViewport(vp domain.Viewport) {
	m.mu.Lock()
	m.viewport = vp
	m.mu.Unlock()
}

func (m *mockSurface) SetData(ctx context.Context, source string, seq uint64, fc *geojson.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, setCall{source: source, seq: seq, json: data, count: len(fc.Features)})
	return nil
}

func (m *mockSurface) On(event domain.SurfaceEvent, handler func()) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], handler)
	m.mu.Unlock()
}

func (m *mockSurface) emit(event domain.SurfaceEvent) {
	m.mu.Lock()
	hs := append([]func(){}, m.handlers[event]...)
	m.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

func (m *mockSurface) calls(source string) []setCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []setCall
	for _, c := range m.sets {
		if c.source == source {
			out = append(out, c)
		}
	}
	return out
}

// --- Mock EventPublisher ---

type mockMirror struct {
	mu      sync.Mutex
	updates []domain.OverlayUpdate
	err     error
}

func (m *mockMirror) PublishOverlay(ctx context.Context, u *domain.OverlayUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, *u)
	return m.err
}

// --- Mock SessionStore ---

type mockSessions struct {
	mu     sync.Mutex
	states []domain.SessionState
}

func (m *mockSessions) SaveSession(ctx context.Context, s *domain.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, *s)
	return nil
}

func (m *mockSessions) GetSession(ctx context.Context, id string) (*domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.states) - 1; i >= 0; i-- {
		if m.states[i].Session == id {
			s := m.states[i]
			return &s, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessions) last() (domain.SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return domain.SessionState{}, false
	}
	return m.states[len(m.states)-1], true
}

// waitFor polls cond in real time; mocked timers may fire on another goroutine.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func viewportAt(lng, lat, half float64) domain.Viewport {
	return domain.Viewport{
		Center: domain.LngLat{Lng: lng, Lat: lat},
		Bounds: domain.Bounds{
			SW: domain.LngLat{Lng: lng - half, Lat: lat - half},
			NE: domain.LngLat{Lng: lng + half, Lat: lat + half},
		},
		Zoom: 10,
	}
}
