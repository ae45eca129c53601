package usecases

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/ports"
)

// AccumulateStats describes one drained stream.
type AccumulateStats struct {
	Features  int
	Truncated bool
}

// Accumulate drains it into a feature collection, numbering features 0..k-1
// in arrival order. On a stream error the partial collection is discarded.
// The iterator is always closed.
func Accumulate(ctx context.Context, it ports.FeatureIterator) (*geojson.FeatureCollection, error) {
	fc, _, err := AccumulateLimit(ctx, it, 0)
	return fc, err
}

// AccumulateLimit is Accumulate with an upper bound on the number of features.
// limit <= 0 means unlimited. Reaching the limit stops reading and marks the
// result truncated.
func AccumulateLimit(ctx context.Context, it ports.FeatureIterator, limit int) (*geojson.FeatureCollection, AccumulateStats, error) {
	defer it.Close()

	var stats AccumulateStats
	fc := geojson.NewFeatureCollection()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, AccumulateStats{}, err
		}

		f := it.Feature()
		f.ID = len(fc.Features)
		fc.Append(f)

		if limit > 0 && len(fc.Features) >= limit {
			stats.Truncated = true
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, AccumulateStats{}, fmt.Errorf("stream features: %w", err)
	}

	stats.Features = len(fc.Features)
	return fc, stats, nil
}
