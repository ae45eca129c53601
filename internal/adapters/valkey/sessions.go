package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
)

const keyPrefix = "fgbview:session:"

// SessionKey is the key a session's state is stored under.
func SessionKey(id string) string {
	return keyPrefix + id
}

// SessionStore implements ports.SessionStore using Valkey (Redis-compatible).
// Entries expire ttl after the last refresh of their session.
type SessionStore struct {
	client valkey.Client
	ttl    time.Duration
}

var _ ports.SessionStore = (*SessionStore)(nil)

// New creates a new Valkey session store.
func New(addr string, ttl time.Duration) (*SessionStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client valkey.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{client: client, ttl: ttl}
}

// SaveSession stores the latest state of a session.
func (s *SessionStore) SaveSession(ctx context.Context, state *domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	cmd := s.client.B().Set().Key(SessionKey(state.Session)).Value(valkey.BinaryString(data)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("save session %s: %w", state.Session, err)
	}
	return nil
}

// GetSession returns the last recorded state, or domain.ErrSessionNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.SessionState, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(SessionKey(id)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &state, nil
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *SessionStore) Close() {
	s.client.Close()
}
