package natsadapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
)

const (
	overlayStream = "OVERLAYS"
	subjectPrefix = "overlay."

	// SeqHeader carries the per-source sequence number of an overlay update.
	SeqHeader = "Fgbview-Seq"
)

// OverlaySubject is the subject one overlay source of one session is
// mirrored on: overlay.<session>.<source>.
func OverlaySubject(session, source string) string {
	return subjectPrefix + session + "." + source
}

// SessionSubjects matches every overlay source of session.
func SessionSubjects(session string) string {
	return subjectPrefix + session + ".*"
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher connects to NATS and ensures the overlay stream exists.
// The stream keeps only the latest message per subject so a watcher that
// joins late still receives the current state of each overlay.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:              overlayStream,
		Subjects:          []string{subjectPrefix + ">"},
		Retention:         nats.LimitsPolicy,
		MaxMsgsPerSubject: 1,
		Discard:           nats.DiscardOld,
		MaxAge:            15 * time.Minute,
		Storage:           nats.MemoryStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishOverlay mirrors one overlay replacement. The payload is the GeoJSON
// feature collection; the sequence number travels in a header.
func (p *Publisher) PublishOverlay(ctx context.Context, u *domain.OverlayUpdate) error {
	msg := overlayMsg(u)
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func overlayMsg(u *domain.OverlayUpdate) *nats.Msg {
	msg := nats.NewMsg(OverlaySubject(u.Session, u.Source))
	msg.Data = u.Data
	msg.Header.Set(SeqHeader, strconv.FormatUint(u.Seq, 10))
	return msg
}

// Conn exposes the underlying connection for readiness checks and watchers.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection that keeps retrying.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("fgbview"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
