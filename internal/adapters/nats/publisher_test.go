package natsadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// fakeJetStream records published messages. Only PublishMsg is implemented.
type fakeJetStream struct {
	nats.JetStreamContext
	published []*nats.Msg
	err       error
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, m)
	return &nats.PubAck{Stream: overlayStream, Sequence: uint64(len(f.published))}, nil
}

func TestPublishOverlay(t *testing.T) {
	js := &fakeJetStream{}
	p := &Publisher{js: js}

	update := &domain.OverlayUpdate{
		Session: "4b0c",
		Source:  domain.SourceFeatures,
		Seq:     9,
		Data:    []byte(`{"type":"FeatureCollection","features":[]}`),
	}
	if err := p.PublishOverlay(context.Background(), update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(js.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(js.published))
	}
	msg := js.published[0]
	if msg.Subject != OverlaySubject("4b0c", domain.SourceFeatures) {
		t.Errorf("unexpected subject %s", msg.Subject)
	}
	if got := msg.Header.Get(SeqHeader); got != "9" {
		t.Errorf("expected %s header 9, got %q", SeqHeader, got)
	}

	decoded, err := DecodeOverlay(msg)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.Session != update.Session || decoded.Source != update.Source ||
		decoded.Seq != update.Seq || string(decoded.Data) != string(update.Data) {
		t.Errorf("expected round trip of %+v, got %+v", update, decoded)
	}
}

func TestOverlayMsg_ZeroSeq(t *testing.T) {
	msg := overlayMsg(&domain.OverlayUpdate{Session: "s", Source: domain.SourceOutline})
	if got := msg.Header.Get(SeqHeader); got != "0" {
		t.Errorf("expected %s header 0, got %q", SeqHeader, got)
	}
}

func TestPublishOverlay_Error(t *testing.T) {
	down := errors.New("no responders")
	p := &Publisher{js: &fakeJetStream{err: down}}

	err := p.PublishOverlay(context.Background(), &domain.OverlayUpdate{Session: "s", Source: domain.SourceFeatures, Seq: 1})
	if !errors.Is(err, down) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
