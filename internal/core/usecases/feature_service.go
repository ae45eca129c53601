package usecases

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/pkg/metrics"
)

// FeatureService runs one-shot range queries: stream then accumulate.
type FeatureService struct {
	source      ports.FeatureSource
	maxFeatures int
}

// NewFeatureService creates a new FeatureService. maxFeatures <= 0 means unlimited.
func NewFeatureService(source ports.FeatureSource, maxFeatures int) *FeatureService {
	return &FeatureService{source: source, maxFeatures: maxFeatures}
}

// Query returns the features intersecting box. limit narrows the service-wide
// cap when positive. An empty box yields an empty collection without
// touching the source.
func (s *FeatureService) Query(ctx context.Context, box domain.QueryBox, limit int) (*geojson.FeatureCollection, AccumulateStats, error) {
	if box.IsEmpty() {
		return geojson.NewFeatureCollection(), AccumulateStats{}, nil
	}

	if s.maxFeatures > 0 && (limit <= 0 || limit > s.maxFeatures) {
		limit = s.maxFeatures
	}

	it, err := s.source.Stream(ctx, box)
	if err != nil {
		return nil, AccumulateStats{}, fmt.Errorf("open stream: %w", err)
	}

	fc, stats, err := AccumulateLimit(ctx, it, limit)
	if err != nil {
		return nil, AccumulateStats{}, err
	}

	metrics.FeaturesStreamed.Add(float64(stats.Features))
	return fc, stats, nil
}
