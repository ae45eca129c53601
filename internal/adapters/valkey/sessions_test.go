package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

const sessionID = "7d444840-9dc0-11d1-b245-5ffdce74fad2"

func TestSessionKey(t *testing.T) {
	if got := SessionKey(sessionID); got != "fgbview:session:"+sessionID {
		t.Errorf("unexpected key %s", got)
	}
}

func TestSaveSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, 90*time.Second)

	var stored []byte
	client.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			if len(cmd) != 5 || cmd[0] != "SET" || cmd[1] != SessionKey(sessionID) || cmd[3] != "EX" || cmd[4] != "90" {
				return false
			}
			stored = []byte(cmd[2])
			return true
		}, "SET <key> <state> EX 90")).
		Return(mock.Result(mock.ValkeyString("OK")))

	state := &domain.SessionState{Session: sessionID, Features: 12, Truncated: true}
	if err := store.SaveSession(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got domain.SessionState
	if err := json.Unmarshal(stored, &got); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if got.Session != sessionID || got.Features != 12 || !got.Truncated {
		t.Errorf("unexpected stored state %+v", got)
	}
}

func TestSaveSession_DefaultTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, 0)

	client.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return len(cmd) == 5 && cmd[3] == "EX" && cmd[4] == "3600"
		}, "SET <key> <state> EX 3600")).
		Return(mock.Result(mock.ValkeyString("OK")))

	if err := store.SaveSession(context.Background(), &domain.SessionState{Session: sessionID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveSession_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, time.Minute)

	down := errors.New("connection refused")
	client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(mock.ErrorResult(down))

	if err := store.SaveSession(context.Background(), &domain.SessionState{Session: sessionID}); !errors.Is(err, down) {
		t.Fatalf("expected wrapped connection error, got %v", err)
	}
}

func TestGetSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, time.Minute)

	data, _ := json.Marshal(&domain.SessionState{Session: sessionID, Features: 3, Duration: "12ms"})
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", SessionKey(sessionID))).
		Return(mock.Result(mock.ValkeyBlobString(string(data))))

	got, err := store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Session != sessionID || got.Features != 3 || got.Duration != "12ms" {
		t.Errorf("unexpected state %+v", got)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, time.Minute)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", SessionKey(sessionID))).
		Return(mock.Result(mock.ValkeyNil()))

	if _, err := store.GetSession(context.Background(), sessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetSession_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	store := NewWithClient(client, time.Minute)

	down := errors.New("connection refused")
	client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(mock.ErrorResult(down))
	_, err := store.GetSession(context.Background(), sessionID)
	if !errors.Is(err, down) || errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected wrapped connection error, got %v", err)
	}

	client.EXPECT().Do(gomock.Any(), gomock.Any()).Return(mock.Result(mock.ValkeyBlobString("{not json")))
	if _, err := store.GetSession(context.Background(), sessionID); err == nil {
		t.Error("expected decode error for a corrupt entry")
	}
}
