package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/core/usecases"
)

func TestFeatureService_Query(t *testing.T) {
	src := &mockSource{
		streamFn: func(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
			return newIterator(4), nil
		},
	}
	svc := usecases.NewFeatureService(src, 0)

	box := domain.QueryBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	fc, stats, err := svc.Query(context.Background(), box, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 4 || stats.Features != 4 {
		t.Errorf("expected 4 features, got %d", len(fc.Features))
	}
	if calls := src.calls(); len(calls) != 1 || calls[0] != box {
		t.Errorf("expected one stream for %+v, got %+v", box, calls)
	}
}

func TestFeatureService_EmptyBoxSkipsSource(t *testing.T) {
	src := &mockSource{}
	svc := usecases.NewFeatureService(src, 0)

	fc, _, err := svc.Query(context.Background(), domain.QueryBox{MinX: 1, MinY: 1, MaxX: 1, MaxY: 1}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Errorf("expected empty collection, got %d", len(fc.Features))
	}
	if len(src.calls()) != 0 {
		t.Error("expected no stream for an empty box")
	}
}

func TestFeatureService_ClampLimit(t *testing.T) {
	src := &mockSource{
		streamFn: func(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
			return newIterator(50), nil
		},
	}
	svc := usecases.NewFeatureService(src, 10)
	box := domain.QueryBox{MaxX: 1, MaxY: 1}

	_, stats, _ := svc.Query(context.Background(), box, 0)
	if stats.Features != 10 || !stats.Truncated {
		t.Errorf("expected service cap of 10, got %+v", stats)
	}

	_, stats, _ = svc.Query(context.Background(), box, 500)
	if stats.Features != 10 {
		t.Errorf("expected limit clamped to 10, got %d", stats.Features)
	}

	_, stats, _ = svc.Query(context.Background(), box, 3)
	if stats.Features != 3 {
		t.Errorf("expected caller limit 3, got %d", stats.Features)
	}
}

func TestFeatureService_OpenError(t *testing.T) {
	boom := errors.New("dns failure")
	src := &mockSource{
		streamFn: func(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
			return nil, boom
		},
	}
	svc := usecases.NewFeatureService(src, 0)

	_, _, err := svc.Query(context.Background(), domain.QueryBox{MaxX: 1, MaxY: 1}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
