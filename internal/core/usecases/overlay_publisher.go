package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
)

// OverlayPublisher replaces overlay sources on a rendering surface.
// Every write is a full replace, so the last write wins. Each source
// numbers its writes independently, starting at 1.
type OverlayPublisher struct {
	surface ports.Surface
	mirror  ports.EventPublisher

	mu  sync.Mutex
	seq map[string]uint64
}

// NewOverlayPublisher creates a publisher for surface. mirror may be nil.
func NewOverlayPublisher(surface ports.Surface, mirror ports.EventPublisher) *OverlayPublisher {
	return &OverlayPublisher{surface: surface, mirror: mirror, seq: make(map[string]uint64)}
}

// Publish replaces the feature overlay with fc.
func (p *OverlayPublisher) Publish(ctx context.Context, fc *geojson.FeatureCollection) error {
	return p.set(ctx, domain.SourceFeatures, fc)
}

// PublishQueryBox draws the outline of box on the outline overlay.
func (p *OverlayPublisher) PublishQueryBox(ctx context.Context, box domain.QueryBox) error {
	return p.set(ctx, domain.SourceOutline, box.Outline())
}

// Reset publishes empty collections to both overlays.
func (p *OverlayPublisher) Reset(ctx context.Context) error {
	if err := p.set(ctx, domain.SourceFeatures, geojson.NewFeatureCollection()); err != nil {
		return err
	}
	return p.set(ctx, domain.SourceOutline, geojson.NewFeatureCollection())
}

func (p *OverlayPublisher) next(source string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[source]++
	return p.seq[source]
}

func (p *OverlayPublisher) set(ctx context.Context, source string, fc *geojson.FeatureCollection) error {
	seq := p.next(source)
	if err := p.surface.SetData(ctx, source, seq, fc); err != nil {
		return fmt.Errorf("set %s data: %w", source, err)
	}

	if p.mirror != nil {
		data, err := json.Marshal(fc)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", source, err)
		}
		update := &domain.OverlayUpdate{
			Session: p.surface.ID(),
			Source:  source,
			Seq:     seq,
			Data:    data,
		}
		if err := p.mirror.PublishOverlay(ctx, update); err != nil {
			slog.Warn("overlay mirror failed", "session", update.Session, "source", source, "error", err)
		}
	}
	return nil
}
