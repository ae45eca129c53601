package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/samirrijal/fgbview/internal/core/usecases")

// LoaderConfig tunes a Loader.
type LoaderConfig struct {
	ThrottleWindow time.Duration
	ShrinkFactor   float64
	SessionTimeout time.Duration

	// Clock drives the throttle window; nil means the wall clock.
	Clock clock.Clock
}

// Loader keeps one rendering surface's feature overlay in sync with its
// viewport: viewport change -> query box -> throttled stream -> publish.
type Loader struct {
	surface    ports.Surface
	features   *FeatureService
	sessions   ports.SessionStore
	publisher  *OverlayPublisher
	controller *RefreshController
	cfg        LoaderConfig
	logger     *slog.Logger

	attachOnce sync.Once
}

// NewLoader creates a loader bound to surface. mirror and sessions may be nil.
func NewLoader(
	surface ports.Surface,
	features *FeatureService,
	mirror ports.EventPublisher,
	sessions ports.SessionStore,
	cfg LoaderConfig,
) *Loader {
	if cfg.ShrinkFactor <= 0 {
		cfg.ShrinkFactor = domain.ShrinkFactor
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 2 * time.Second
	}

	l := &Loader{
		surface:   surface,
		features:  features,
		sessions:  sessions,
		publisher: NewOverlayPublisher(surface, mirror),
		cfg:       cfg,
		logger:    slog.Default().With("session", surface.ID()),
	}

	opts := []ControllerOption{
		WithLogger(l.logger),
		WithErrorHandler(func(error) { metrics.Refreshes.WithLabelValues("error").Inc() }),
	}
	if cfg.Clock != nil {
		opts = append(opts, WithClock(cfg.Clock))
	}
	l.controller = NewRefreshController(cfg.ThrottleWindow, l.Refresh, opts...)
	return l
}

// Attach subscribes to the surface's load and moveend events. Only the first
// call registers handlers.
func (l *Loader) Attach() {
	l.attachOnce.Do(func() {
		l.surface.On(domain.EventLoad, l.onLoad)
		l.surface.On(domain.EventMoveEnd, l.onMoveEnd)
	})
}

// Controller exposes the refresh controller driving this loader.
func (l *Loader) Controller() *RefreshController {
	return l.controller
}

// QueryBox derives the box for the surface's current viewport.
func (l *Loader) QueryBox() domain.QueryBox {
	return domain.DeriveQueryBoxWithFactor(l.surface.Viewport(), l.cfg.ShrinkFactor)
}

// Close stops scheduled and running refreshes.
func (l *Loader) Close() {
	l.controller.Close()
}

func (l *Loader) onLoad() {
	ctx := context.Background()
	if err := l.publisher.Reset(ctx); err != nil {
		l.logger.Warn("reset overlays failed", "error", err)
	}
	l.publishOutline(ctx)
	l.controller.TriggerImmediate()
}

func (l *Loader) onMoveEnd() {
	l.publishOutline(context.Background())
	if !l.controller.RequestRefresh() {
		metrics.RefreshesCoalesced.Inc()
	}
}

// publishOutline runs on every settle, independent of the throttle, so the
// outline always shows the box the next refresh will query.
func (l *Loader) publishOutline(ctx context.Context) {
	if err := l.publisher.PublishQueryBox(ctx, l.QueryBox()); err != nil {
		l.logger.Warn("publish query box failed", "error", err)
	}
}

// Refresh snapshots the viewport, queries the source, and replaces the
// feature overlay. A failed stream publishes nothing.
func (l *Loader) Refresh(ctx context.Context) error {
	start := time.Now()
	vp := l.surface.Viewport()
	box := domain.DeriveQueryBoxWithFactor(vp, l.cfg.ShrinkFactor)

	ctx, span := tracer.Start(ctx, "loader.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", l.surface.ID()),
		attribute.Float64Slice("query_box", []float64{box.MinX, box.MinY, box.MaxX, box.MaxY}),
		attribute.Float64("zoom", vp.Zoom),
	)

	fc, stats, err := l.features.Query(ctx, box, 0)
	if err == nil {
		err = l.publisher.Publish(ctx, fc)
	}

	elapsed := time.Since(start)
	metrics.RefreshDuration.Observe(elapsed.Seconds())
	l.record(vp, box, stats, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	metrics.Refreshes.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("features", stats.Features))
	l.logger.Debug("overlay refreshed",
		"features", stats.Features,
		"truncated", stats.Truncated,
		"min_x", box.MinX, "min_y", box.MinY, "max_x", box.MaxX, "max_y", box.MaxY,
		"took", elapsed.String(),
	)
	return nil
}

func (l *Loader) record(vp domain.Viewport, box domain.QueryBox, stats AccumulateStats, took time.Duration, err error) {
	if l.sessions == nil {
		return
	}

	state := &domain.SessionState{
		Session:   l.surface.ID(),
		Viewport:  vp,
		QueryBox:  box,
		Features:  stats.Features,
		Truncated: stats.Truncated,
		Duration:  took.String(),
		UpdatedAt: time.Now().UTC(),
	}
	if err != nil {
		state.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SessionTimeout)
	defer cancel()
	if err := l.sessions.SaveSession(ctx, state); err != nil {
		l.logger.Warn("save session failed", "error", err)
	}
}
