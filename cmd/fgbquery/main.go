package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	flag "github.com/spf13/pflag"

	"github.com/samirrijal/fgbview/internal/adapters/flatgeobuf"
	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/usecases"
	"github.com/samirrijal/fgbview/internal/pkg/config"
	"github.com/samirrijal/fgbview/internal/pkg/logging"
)

func main() {
	// Config supplies defaults; flags override.
	cfg, err := config.Load("fgbview-cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var (
		url      = flag.String("url", cfg.Source.URL, "FlatGeobuf URL or local path")
		bbox     = flag.String("bbox", "", "query box as min_x,min_y,max_x,max_y (overrides the viewport flags)")
		lng      = flag.Float64("lng", -97.738, "viewport center longitude")
		lat      = flag.Float64("lat", 40.261, "viewport center latitude")
		dx       = flag.Float64("dx", 1, "east-west distance from center to the north-east corner")
		dy       = flag.Float64("dy", 1, "north-south distance from center to the north-east corner")
		radius   = flag.Float64("radius", 0, "query the box of this many meters around the center instead of the viewport")
		factor   = flag.Float64("factor", cfg.Loader.ShrinkFactor, "shrink factor applied to the smaller half-extent")
		limit    = flag.Int("limit", cfg.Loader.MaxFeatures, "maximum features to print (0 = unlimited)")
		timeout  = flag.Duration("timeout", cfg.Source.Timeout(), "overall query timeout")
		mergeGap = flag.Int("merge-gap", cfg.Source.MergeGap, "join range reads separated by fewer bytes than this")
		level    = flag.String("log-level", cfg.Log.Level, "log level (debug, info, warn, error)")
		pretty   = flag.Bool("pretty", false, "indent the GeoJSON output")
		fgbOut   = flag.String("fgb-out", "", "also write the matched geometries, without properties, to this FlatGeobuf file")
	)
	flag.Parse()

	// GeoJSON goes to stdout; logs go to stderr.
	logger := logging.New(os.Stderr, *level, "text")
	slog.SetDefault(logger)

	box := domain.DeriveQueryBoxWithFactor(domain.Viewport{
		Center: domain.LngLat{Lng: *lng, Lat: *lat},
		Bounds: domain.Bounds{
			SW: domain.LngLat{Lng: *lng - *dx, Lat: *lat - *dy},
			NE: domain.LngLat{Lng: *lng + *dx, Lat: *lat + *dy},
		},
	}, *factor)
	if *radius > 0 {
		b := geo.NewBoundAroundPoint(orb.Point{*lng, *lat}, *radius)
		box = domain.ParseQueryBox(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	}
	if *bbox != "" {
		box, err = parseBBox(*bbox)
		if err != nil {
			logger.Error("invalid bbox", "error", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	ranger, err := flatgeobuf.Open(*url, *timeout)
	if err != nil {
		logger.Error("open dataset", "error", err)
		os.Exit(1)
	}
	reader := flatgeobuf.NewReader(ranger, flatgeobuf.Options{
		MergeGap:       *mergeGap,
		HeaderPrefetch: cfg.Source.HeaderPrefetch,
	})
	defer reader.Close()

	start := time.Now()
	fc, stats, err := usecases.NewFeatureService(reader, 0).Query(ctx, box, *limit)
	if err != nil {
		logger.Error("query failed", "error", err)
		os.Exit(1)
	}
	logger.Info("query done",
		"min_x", box.MinX, "min_y", box.MinY, "max_x", box.MaxX, "max_y", box.MaxY,
		"features", stats.Features,
		"truncated", stats.Truncated,
		"took", time.Since(start).String(),
	)

	if *fgbOut != "" {
		if err := writeFGB(*fgbOut, fc); err != nil {
			logger.Error("write flatgeobuf", "path", *fgbOut, "error", err)
			os.Exit(1)
		}
		logger.Info("wrote flatgeobuf", "path", *fgbOut)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(fc); err != nil {
		logger.Error("write output", "error", err)
		os.Exit(1)
	}
}

func writeFGB(path string, fc *geojson.FeatureCollection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := flatgeobuf.Export(f, fc, "fgbquery"); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func parseBBox(s string) (domain.QueryBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.QueryBox{}, fmt.Errorf("expected 4 comma-separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.QueryBox{}, fmt.Errorf("invalid number %q", p)
		}
		v[i] = f
	}
	return domain.ParseQueryBox(v[0], v[1], v[2], v[3]), nil
}
