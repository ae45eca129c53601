package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fgbview/internal/adapters/postgres"
	"github.com/samirrijal/fgbview/internal/adapters/valkey"
	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/core/usecases"
)

// OverlayWatcher follows the overlay updates mirrored for one session.
type OverlayWatcher interface {
	WatchSession(session string, handler func(*domain.OverlayUpdate)) (stop func(), err error)
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Features *usecases.FeatureService
	Loader   usecases.LoaderConfig
	Source   string // dataset location or table, reported by /v1/ready

	// Optional collaborators; nil when disabled.
	Sessions ports.SessionStore
	Mirror   ports.EventPublisher
	Watcher  OverlayWatcher

	NATS  *nats.Conn
	DB    *postgres.DB
	Cache *valkey.SessionStore
}
