package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// DefaultThrottleWindow bounds how often a refresh may start.
const DefaultThrottleWindow = time.Second

// ControllerState is the refresh controller's position in its state machine.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateScheduled
	StateRunning
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RefreshFunc performs one refresh. It must read whatever input it needs
// when called, not when the refresh was requested.
type RefreshFunc func(ctx context.Context) error

// ControllerOption configures a RefreshController.
type ControllerOption func(*RefreshController)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) ControllerOption {
	return func(rc *RefreshController) { rc.clock = c }
}

// WithLogger sets the logger used for failed refreshes.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(rc *RefreshController) { rc.logger = l }
}

// WithErrorHandler registers a callback invoked after every failed refresh.
func WithErrorHandler(fn func(error)) ControllerOption {
	return func(rc *RefreshController) { rc.onError = fn }
}

// RefreshController coalesces bursts of refresh requests so that at most one
// refresh starts per window, always on the trailing edge:
//
//	Idle --request--> Scheduled --window--> Running --done/error--> Idle
//
// Requests while Scheduled are dropped. Requests while Running mark the
// controller dirty; when the running refresh finishes it is rescheduled for
// the end of the current window.
type RefreshController struct {
	window  time.Duration
	refresh RefreshFunc
	clock   clock.Clock
	logger  *slog.Logger
	onError func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     ControllerState
	dirty     bool
	closed    bool
	gen       uint64
	timer     *clock.Timer
	lastStart time.Time
	hasRun    bool
}

// NewRefreshController creates an idle controller. A non-positive window
// falls back to DefaultThrottleWindow.
func NewRefreshController(window time.Duration, refresh RefreshFunc, opts ...ControllerOption) *RefreshController {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RefreshController{
		window:  window,
		refresh: refresh,
		clock:   clock.New(),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// State returns the current state.
func (rc *RefreshController) State() ControllerState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// RequestRefresh asks for a refresh on the trailing edge of the window.
// It reports whether the call scheduled a new execution; false means the
// request was coalesced into one already pending or running.
func (rc *RefreshController) RequestRefresh() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	switch rc.state {
	case StateIdle:
		rc.scheduleLocked(rc.window)
		return true
	case StateRunning:
		if rc.dirty {
			return false
		}
		rc.dirty = true
		return true
	default:
		return false
	}
}

// TriggerImmediate starts a refresh now instead of waiting for the window.
// It is meant for the first query at startup. If a refresh started less
// than one window ago, the request is scheduled for the end of that window
// instead.
func (rc *RefreshController) TriggerImmediate() {
	rc.mu.Lock()

	if rc.closed {
		rc.mu.Unlock()
		return
	}

	switch rc.state {
	case StateRunning:
		rc.dirty = true
		rc.mu.Unlock()
		return
	case StateScheduled:
		rc.stopTimerLocked()
	}

	if delay := rc.remainingLocked(); delay > 0 {
		rc.scheduleLocked(delay)
		rc.mu.Unlock()
		return
	}

	rc.startLocked()
	rc.mu.Unlock()

	go rc.run()
}

// Close cancels any scheduled refresh and the context passed to a running one.
// The controller ignores all requests afterwards.
func (rc *RefreshController) Close() {
	rc.mu.Lock()
	rc.closed = true
	rc.stopTimerLocked()
	if rc.state == StateScheduled {
		rc.state = StateIdle
	}
	rc.mu.Unlock()

	rc.cancel()
}

func (rc *RefreshController) scheduleLocked(delay time.Duration) {
	rc.state = StateScheduled
	rc.gen++
	gen := rc.gen
	rc.timer = rc.clock.AfterFunc(delay, func() { rc.fire(gen) })
}

func (rc *RefreshController) stopTimerLocked() {
	rc.gen++
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
}

func (rc *RefreshController) remainingLocked() time.Duration {
	if !rc.hasRun {
		return 0
	}
	return rc.lastStart.Add(rc.window).Sub(rc.clock.Now())
}

func (rc *RefreshController) startLocked() {
	rc.state = StateRunning
	rc.dirty = false
	rc.timer = nil
	rc.lastStart = rc.clock.Now()
	rc.hasRun = true
}

// fire runs when a scheduled timer elapses. Stale timers are ignored.
func (rc *RefreshController) fire(gen uint64) {
	rc.mu.Lock()
	if rc.closed || gen != rc.gen || rc.state != StateScheduled {
		rc.mu.Unlock()
		return
	}
	rc.startLocked()
	rc.mu.Unlock()

	rc.run()
}

func (rc *RefreshController) run() {
	for {
		err := rc.invoke()
		if !rc.finish(err) {
			return
		}
	}
}

func (rc *RefreshController) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return rc.refresh(rc.ctx)
}

// finish leaves the Running state on every exit path. It returns true when
// another execution was started immediately.
func (rc *RefreshController) finish(err error) bool {
	if err != nil {
		rc.logger.Warn("refresh failed", "error", err)
		if rc.onError != nil {
			rc.onError(err)
		}
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed || !rc.dirty {
		rc.state = StateIdle
		rc.dirty = false
		return false
	}

	if delay := rc.remainingLocked(); delay > 0 {
		rc.scheduleLocked(delay)
		return false
	}
	rc.startLocked()
	return true
}
