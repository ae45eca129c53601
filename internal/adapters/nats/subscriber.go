package natsadapter

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// ErrBadSubject is returned for messages outside the overlay subject space.
var ErrBadSubject = errors.New("not an overlay subject")

// Subscriber follows mirrored overlay updates.
type Subscriber struct {
	js nats.JetStreamContext
}

// NewSubscriber creates a subscriber on an existing connection.
func NewSubscriber(conn *nats.Conn) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{js: js}, nil
}

// WatchSession delivers the latest update of each overlay source of session,
// then every new one, until the returned stop function is called.
func (s *Subscriber) WatchSession(session string, handler func(*domain.OverlayUpdate)) (stop func(), err error) {
	if session == "" || strings.ContainsAny(session, ".*> ") {
		return nil, fmt.Errorf("%w: session %q", ErrBadSubject, session)
	}

	sub, err := s.js.Subscribe(SessionSubjects(session), func(msg *nats.Msg) {
		u, err := DecodeOverlay(msg)
		if err != nil {
			slog.Warn("dropping overlay message", "subject", msg.Subject, "error", err)
			return
		}
		handler(u)
	},
		nats.OrderedConsumer(),
		nats.DeliverLastPerSubject(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", session, err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// DecodeOverlay rebuilds an update from a mirrored message.
func DecodeOverlay(msg *nats.Msg) (*domain.OverlayUpdate, error) {
	parts := strings.Split(msg.Subject, ".")
	if len(parts) != 3 || parts[0]+"." != subjectPrefix || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: %s", ErrBadSubject, msg.Subject)
	}

	u := &domain.OverlayUpdate{Session: parts[1], Source: parts[2], Data: msg.Data}
	if msg.Header != nil {
		if raw := msg.Header.Get(SeqHeader); raw != "" {
			seq, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad %s header %q: %w", SeqHeader, raw, err)
			}
			u.Seq = seq
		}
	}
	return u, nil
}
