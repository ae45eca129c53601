package postgres

import (
	"context"
	"fmt"
	"strings"
)

// CreateFeatureTable creates the PostGIS extension, the feature table read by
// FeatureSource, and its GiST index. It is idempotent.
func CreateFeatureTable(ctx context.Context, db *DB, table string) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}
	index := pgxIdent(strings.ReplaceAll(table, ".", "_") + "_geom_idx")

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS ` + quoted + ` (
			id         bigserial PRIMARY KEY,
			geom       geometry(Geometry, 4326) NOT NULL,
			properties jsonb NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + quoted + ` USING gist (geom)`,
	}
	for _, s := range stmts {
		if _, err := db.Pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("create feature table %s: %w", table, err)
		}
	}
	return nil
}

// DropFeatureTable removes the feature table and its index.
func DropFeatureTable(ctx context.Context, db *DB, table string) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}
	if _, err := db.Pool.Exec(ctx, `DROP TABLE IF EXISTS `+quoted); err != nil {
		return fmt.Errorf("drop feature table %s: %w", table, err)
	}
	return nil
}
