package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
)

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteTable validates a table name of the form [schema.]table and returns it
// quoted for interpolation into SQL.
func quoteTable(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func pgxIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// FeatureSource implements ports.FeatureSource over a PostGIS table with a
// geometry column "geom" (SRID 4326) and a jsonb column "properties".
type FeatureSource struct {
	db    *DB
	query string
}

var _ ports.FeatureSource = (*FeatureSource)(nil)

// NewFeatureSource creates a FeatureSource reading from table.
func NewFeatureSource(db *DB, table string) (*FeatureSource, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	return &FeatureSource{
		db: db,
		query: `
			SELECT ST_AsGeoJSON(geom), COALESCE(properties, '{}'::jsonb)
			FROM ` + quoted + `
			WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		`,
	}, nil
}

// Stream runs the bounding-box query; rows are decoded one per Next.
func (s *FeatureSource) Stream(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
	rows, err := s.db.Pool.Query(ctx, s.query, box.MinX, box.MinY, box.MaxX, box.MaxY)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	return &rowsIterator{rows: rows}, nil
}

type rowsIterator struct {
	rows pgx.Rows
	cur  *geojson.Feature
	err  error
}

func (it *rowsIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	var geomJSON []byte
	var props map[string]interface{}
	if err := it.rows.Scan(&geomJSON, &props); err != nil {
		it.err = fmt.Errorf("scan feature: %w", err)
		it.rows.Close()
		return false
	}

	g, err := geojson.UnmarshalGeometry(geomJSON)
	if err != nil {
		it.err = fmt.Errorf("decode geometry: %w", err)
		it.rows.Close()
		return false
	}

	f := geojson.NewFeature(g.Geometry())
	for k, v := range props {
		f.Properties[k] = v
	}
	it.cur = f
	return true
}

func (it *rowsIterator) Feature() *geojson.Feature { return it.cur }

func (it *rowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowsIterator) Close() error {
	it.rows.Close()
	return nil
}
