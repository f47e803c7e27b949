// Package camera defines the capability contract shared by all camera
// variants, the factory that builds them, and the registry that owns them.
package camera

import (
	"context"
	"sync"
	"time"
)

// ConnState represents a camera's connection lifecycle state
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateStreaming    ConnState = "streaming"
	StateError        ConnState = "error"
)

// Status is a point-in-time snapshot of a camera. Building one must never
// fail: vendor faults surface in LastError, not as a returned error.
type Status struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	State        ConnState  `json:"state"`
	Connected    bool       `json:"connected"`
	Streaming    bool       `json:"streaming"`
	Enabled      bool       `json:"enabled"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	PTZCapable   bool       `json:"ptz_capable"`
	LastError    string     `json:"last_error,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// Camera is the capability contract every device variant satisfies.
// Connect is idempotent when already connected; Disconnect always succeeds
// and clears the connected/streaming flags. StreamURL returns ("", nil)
// when the backend cannot produce a URL; absence is not an error.
type Camera interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() Status
	StreamURL(ctx context.Context) (string, error)
}

// PTZPosition is a pan/tilt/zoom vector. Pan and tilt are normalized to
// [-1, 1], zoom to [0, 1]. The same shape serves as a velocity for
// continuous moves and as an absolute target for goto operations.
type PTZPosition struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom float64 `json:"zoom"`
}

// Valid reports whether the vector is inside the normalized ranges.
func (p PTZPosition) Valid() bool {
	return p.Pan >= -1 && p.Pan <= 1 &&
		p.Tilt >= -1 && p.Tilt <= 1 &&
		p.Zoom >= 0 && p.Zoom <= 1
}

// PTZPreset is an opaque vendor preset reference. The hub stores and
// forwards tokens without interpreting them.
type PTZPreset struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// PTZCapable is the optional PTZ extension of the contract. Callers probe
// for it with a type assertion; variants without mechanical control simply
// do not implement it.
//
// Move sets a velocity that runs until Stop or a vendor-side timeout.
// Position returns (nil, nil) when the vendor exposes no feedback; callers
// must treat nil as unknown, never as the origin.
type PTZCapable interface {
	Move(ctx context.Context, v PTZPosition) error
	Stop(ctx context.Context) error
	Presets(ctx context.Context) ([]PTZPreset, error)
	GoToPreset(ctx context.Context, token string) error
	Position(ctx context.Context) (*PTZPosition, error)
	GoToPosition(ctx context.Context, p PTZPosition) error
}

// Notification is one raw vendor event message, normalized just enough for
// the motion service to inspect it. Fields the vendor omitted stay empty.
type Notification struct {
	Topic string
	State string
	Data  map[string]string
	Time  time.Time
}

// MotionPuller is an active vendor event subscription. Pull blocks for at
// most wait on the vendor side and returns up to limit notifications.
// Backends without a long-poll primitive ignore wait and return whatever
// is pending.
type MotionPuller interface {
	Pull(ctx context.Context, wait time.Duration, limit int) ([]Notification, error)
	Close(ctx context.Context) error
}

// MotionCapable marks variants that can attempt a vendor event
// subscription. The attempt itself may legitimately fail on hardware that
// advertises the feature without implementing it.
type MotionCapable interface {
	SubscribeMotion(ctx context.Context) (MotionPuller, error)
}

// Lifecycle tracks the connection state machine for one camera. Variants
// embed it so the transition rules live in one place.
type Lifecycle struct {
	mu       sync.RWMutex
	state    ConnState
	lastErr  string
	lastSeen *time.Time
}

// NewLifecycle returns a tracker in the disconnected state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateDisconnected}
}

// State returns the current connection state.
func (l *Lifecycle) State() ConnState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Connected reports whether the camera is connected or streaming.
func (l *Lifecycle) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateConnected || l.state == StateStreaming
}

// Streaming reports whether the camera is in the streaming sub-state.
func (l *Lifecycle) Streaming() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStreaming
}

// LastError returns the most recent fault message, if any.
func (l *Lifecycle) LastError() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// LastSeen returns when the camera last responded, if ever.
func (l *Lifecycle) LastSeen() *time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeen
}

// BeginConnect marks an in-flight connection attempt. It reports false
// when the camera is already connected, letting Connect stay idempotent.
func (l *Lifecycle) BeginConnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnected || l.state == StateStreaming {
		return false
	}
	l.state = StateConnecting
	return true
}

// ConnectOK records a successful connection.
func (l *Lifecycle) ConnectOK() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.state = StateConnected
	l.lastErr = ""
	l.lastSeen = &now
}

// ConnectFailed records a failed connection attempt. The camera stays in
// place and retryable; retry policy belongs to the caller.
func (l *Lifecycle) ConnectFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateError
	if err != nil {
		l.lastErr = err.Error()
	}
}

// SetStreaming toggles the streaming sub-state. Entering it requires a
// connected camera; leaving it falls back to connected.
func (l *Lifecycle) SetStreaming(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case on && l.state == StateConnected:
		l.state = StateStreaming
	case !on && l.state == StateStreaming:
		l.state = StateConnected
	}
}

// RecordFault captures an internal fault without changing state. Used by
// status paths that must never raise.
func (l *Lifecycle) RecordFault(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = err.Error()
}

// Touch updates the last-seen timestamp after a successful vendor call.
func (l *Lifecycle) Touch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastSeen = &now
}

// Reset transitions to disconnected from any state, clearing flags.
// Disconnect always succeeds.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateDisconnected
	l.lastErr = ""
}
