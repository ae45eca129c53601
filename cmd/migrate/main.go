package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/fgbview/internal/adapters/postgres"
	"github.com/samirrijal/fgbview/internal/pkg/config"
)

// migrate prepares the PostGIS feature table used when source.kind is postgis.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("fgbview-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// postgres.New requires PostGIS, which "up" installs.
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	db := &postgres.DB{Pool: pool}

	table := cfg.Source.Table
	switch os.Args[1] {
	case "up":
		if err := postgres.CreateFeatureTable(ctx, db, table); err != nil {
			log.Fatalf("up: %v", err)
		}
		fmt.Printf("OK  create %s\n", table)
	case "down":
		if err := postgres.DropFeatureTable(ctx, db, table); err != nil {
			log.Fatalf("down: %v", err)
		}
		fmt.Printf("OK  drop %s\n", table)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}
