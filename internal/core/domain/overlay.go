package domain

import (
	"errors"
	"time"
)

// Overlay sources written by the loader.
const (
	SourceFeatures = "hex"
	SourceOutline  = "rectangle"
)

// SurfaceEvent names an event emitted by a rendering surface.
type SurfaceEvent string

const (
	// EventLoad fires once when the map is fully initialized.
	EventLoad SurfaceEvent = "load"
	// EventMoveEnd fires after every pan or zoom gesture settles.
	EventMoveEnd SurfaceEvent = "moveend"
)

// OverlayUpdate is one wholesale replacement of an overlay source.
type OverlayUpdate struct {
	Session string `json:"session"`
	Source  string `json:"source"`
	Seq     uint64 `json:"seq"`
	Data    []byte `json:"-"`
}

// ErrSessionNotFound is returned when no refresh was recorded for a session.
var ErrSessionNotFound = errors.New("session not found")

// SessionState is the last refresh recorded for a surface session.
type SessionState struct {
	Session   string    `json:"session"`
	Viewport  Viewport  `json:"viewport"`
	QueryBox  QueryBox  `json:"query_box"`
	Features  int       `json:"features"`
	Truncated bool      `json:"truncated"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
