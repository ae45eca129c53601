package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/ports"
)

// DefaultImportBatch is the number of rows queued per round trip.
const DefaultImportBatch = 500

// ImportFeatures drains it into table in batches and returns the number of
// rows written. Features without geometry are skipped. The iterator is
// always closed.
func ImportFeatures(ctx context.Context, db *DB, table string, it ports.FeatureIterator, batchSize int) (int, error) {
	defer it.Close()

	quoted, err := quoteTable(table)
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultImportBatch
	}
	insert := `INSERT INTO ` + quoted + ` (geom, properties)
		VALUES (ST_SetSRID(ST_GeomFromGeoJSON($1), 4326), $2::jsonb)`

	batch := &pgx.Batch{}
	total := 0

	for it.Next() {
		f := it.Feature()
		if f.Geometry == nil {
			continue
		}
		geom, props, err := encodeRow(f)
		if err != nil {
			return total, err
		}
		batch.Queue(insert, geom, props)

		if batch.Len() >= batchSize {
			if err := flushBatch(ctx, db, batch); err != nil {
				return total, err
			}
			total += batch.Len()
			batch = &pgx.Batch{}
		}
	}
	if err := it.Err(); err != nil {
		return total, fmt.Errorf("read features: %w", err)
	}

	if batch.Len() > 0 {
		if err := flushBatch(ctx, db, batch); err != nil {
			return total, err
		}
		total += batch.Len()
	}
	return total, nil
}

func encodeRow(f *geojson.Feature) (string, string, error) {
	geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
	if err != nil {
		return "", "", fmt.Errorf("encode geometry: %w", err)
	}
	props := []byte("{}")
	if len(f.Properties) > 0 {
		if props, err = json.Marshal(f.Properties); err != nil {
			return "", "", fmt.Errorf("encode properties: %w", err)
		}
	}
	return string(geom), string(props), nil
}

func flushBatch(ctx context.Context, db *DB, batch *pgx.Batch) error {
	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}
