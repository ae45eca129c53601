package ports

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// FeatureIterator is a lazy, finite, non-restartable sequence of features.
// Callers loop on Next, read Feature, and check Err once Next returns false.
type FeatureIterator interface {
	Next() bool
	Feature() *geojson.Feature
	Err() error
	Close() error
}

// FeatureSource opens streaming range queries against a spatial dataset.
type FeatureSource interface {
	// Stream opens a new stream of features intersecting box. Each call
	// opens a new network stream.
	Stream(ctx context.Context, box domain.QueryBox) (FeatureIterator, error)
}

// Surface is the rendering surface a loader reads viewports from and
// writes overlay data to.
type Surface interface {
	ID() string
	Viewport() domain.Viewport
	SetData(ctx context.Context, source string, seq uint64, fc *geojson.FeatureCollection) error
	On(event domain.SurfaceEvent, handler func())
}

// EventPublisher publishes overlay updates to a message broker.
type EventPublisher interface {
	PublishOverlay(ctx context.Context, update *domain.OverlayUpdate) error
}

// SessionStore records the latest refresh per surface session.
type SessionStore interface {
	SaveSession(ctx context.Context, state *domain.SessionState) error
	GetSession(ctx context.Context, id string) (*domain.SessionState, error)
}
