package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// maxFeatureLimit caps the limit query parameter of /v1/features.
const maxFeatureLimit = 100000

// QueryBoxResponse is the derived query region for a viewport.
type QueryBoxResponse struct {
	QueryBox domain.QueryBox            `json:"query_box"`
	Empty    bool                       `json:"empty"`
	WidthM   float64                    `json:"width_m"`
	HeightM  float64                    `json:"height_m"`
	Outline  *geojson.FeatureCollection `json:"outline"`
}

// parseFloats splits a comma-separated list of exactly n finite numbers.
func parseFloats(raw string, n int) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated numbers", n)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || !finite(v) {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// parseViewport reads center=lng,lat and bounds=west,south,east,north.
func parseViewport(c *fiber.Ctx) (domain.Viewport, error) {
	center, err := parseFloats(c.Query("center"), 2)
	if err != nil {
		return domain.Viewport{}, fmt.Errorf("center: %w", err)
	}
	bounds, err := parseFloats(c.Query("bounds"), 4)
	if err != nil {
		return domain.Viewport{}, fmt.Errorf("bounds: %w", err)
	}
	zoom := c.QueryFloat("zoom", 0)
	if !finite(zoom) {
		return domain.Viewport{}, errors.New("zoom: invalid number")
	}
	return domain.Viewport{
		Center: domain.LngLat{Lng: center[0], Lat: center[1]},
		Bounds: domain.Bounds{
			SW: domain.LngLat{Lng: bounds[0], Lat: bounds[1]},
			NE: domain.LngLat{Lng: bounds[2], Lat: bounds[3]},
		},
		Zoom: zoom,
	}, nil
}

// QueryBoxHandler derives the query box for a viewport without touching the
// dataset.
func QueryBoxHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vp, err := parseViewport(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		factor := c.QueryFloat("factor", deps.Loader.ShrinkFactor)
		if !(factor > 0 && factor <= 1) {
			return errBadRequest(c, "factor must be in (0, 1]")
		}

		box := domain.DeriveQueryBoxWithFactor(vp, factor)
		w, h := box.GroundSize()
		return c.JSON(QueryBoxResponse{
			QueryBox: box,
			Empty:    box.IsEmpty(),
			WidthM:   w,
			HeightM:  h,
			Outline:  box.Outline(),
		})
	}
}

// FeaturesHandler runs one range query and returns the accumulated
// FeatureCollection.
func FeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bbox, err := parseFloats(c.Query("bbox"), 4)
		if err != nil {
			return errBadRequest(c, "bbox: "+err.Error())
		}
		limit := c.QueryInt("limit", 0)
		if limit < 0 || limit > maxFeatureLimit {
			return errBadRequest(c, fmt.Sprintf("limit must be between 0 and %d", maxFeatureLimit))
		}

		ctx := c.UserContext()
		box := domain.ParseQueryBox(bbox[0], bbox[1], bbox[2], bbox[3])
		fc, stats, err := deps.Features.Query(ctx, box, limit)
		if err != nil {
			LoggerFromCtx(ctx).Error("feature query failed", "error", err, "bbox", c.Query("bbox"))
			if errors.Is(err, context.DeadlineExceeded) {
				return newError(c, fiber.StatusGatewayTimeout, "timeout", "feature query timed out")
			}
			return errUpstream(c, err.Error())
		}

		body, err := json.Marshal(fc)
		if err != nil {
			return errInternal(c, err.Error())
		}

		c.Set("X-Feature-Count", strconv.Itoa(stats.Features))
		c.Set("X-Truncated", strconv.FormatBool(stats.Truncated))
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	}
}

// SessionHandler returns the last refresh recorded for a surface session.
func SessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Sessions == nil {
			return errUnavailable(c, "session store not configured")
		}

		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "session id is required")
		}

		state, err := deps.Sessions.GetSession(c.UserContext(), id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return errNotFound(c, "session not found")
		}
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(state)
	}
}
