// Package motion maintains vendor event subscriptions per camera,
// normalizes the notifications into motion and ring events, and fans them
// out to subscribers with a bounded in-memory history.
package motion

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
)

// SubState is a camera's subscription lifecycle state.
type SubState string

const (
	SubUnsubscribed SubState = "unsubscribed"
	SubSubscribing  SubState = "subscribing"
	SubSubscribed   SubState = "subscribed"
)

// maxPullFailures is how many consecutive pull errors are tolerated before
// the service tears the subscription down and tries to rebuild it.
const maxPullFailures = 5

// Service owns one poll loop per subscribed camera.
type Service struct {
	registry *camera.Registry
	cfg      config.MotionConfig
	logger   *slog.Logger

	mu        sync.Mutex
	subs      map[string]*subscription
	lastEvent map[string]time.Time
	callbacks []func(Event)

	buffer *ringBuffer
}

type subscription struct {
	state  SubState
	cancel context.CancelFunc
	done   chan struct{}
}

// SubStatus is a camera's subscription state plus when its last event
// arrived. LastEvent is nil until the first event.
type SubStatus struct {
	State     SubState   `json:"state"`
	LastEvent *time.Time `json:"last_event,omitempty"`
}

// NewService creates the motion service and wires a registry remove hook
// so a camera's poll loop is stopped and awaited before the camera goes
// away.
func NewService(registry *camera.Registry, cfg config.MotionConfig) *Service {
	s := &Service{
		registry:  registry,
		cfg:       cfg,
		logger:    slog.Default().With("component", "motion"),
		subs:      make(map[string]*subscription),
		lastEvent: make(map[string]time.Time),
		buffer:    newRingBuffer(cfg.BufferSize),
	}
	registry.OnRemove(func(ctx context.Context, name string) {
		s.Unsubscribe(ctx, name)
	})
	return s
}

// OnEvent registers a delivery callback. Callbacks run on the poll
// goroutine; a panicking callback is recovered and logged, and never takes
// down the loop or its neighbors.
func (s *Service) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Subscribe attempts a vendor event subscription for the named camera.
// The boolean reports whether a subscription is now active. False with a
// nil error is the normal outcome for cameras without an event channel and
// for hardware that advertises one but refuses it; only a missing camera
// is an error.
func (s *Service) Subscribe(ctx context.Context, name string) (bool, error) {
	cam, ok := s.registry.Get(name)
	if !ok {
		return false, camera.ErrNotFound
	}

	mc, ok := cam.(camera.MotionCapable)
	if !ok {
		s.logger.Info("Camera has no event channel", "camera", name, "type", cam.Type())
		return false, nil
	}

	s.mu.Lock()
	if sub, exists := s.subs[name]; exists && sub.state != SubUnsubscribed {
		s.mu.Unlock()
		return true, nil
	}
	s.subs[name] = &subscription{state: SubSubscribing}
	s.mu.Unlock()

	puller, err := mc.SubscribeMotion(ctx)
	if err != nil {
		s.mu.Lock()
		delete(s.subs, name)
		s.mu.Unlock()
		s.logger.Warn("Vendor refused event subscription", "camera", name, "error", err)
		return false, nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.subs[name] = &subscription{state: SubSubscribed, cancel: cancel, done: done}
	s.mu.Unlock()

	go s.pollLoop(loopCtx, name, mc, puller, done)

	s.logger.Info("Subscribed to camera events", "camera", name)
	return true, nil
}

// Unsubscribe stops the camera's poll loop and awaits it. Unsubscribing a
// camera with no active subscription is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, name string) {
	s.mu.Lock()
	sub, ok := s.subs[name]
	if ok {
		delete(s.subs, name)
		delete(s.lastEvent, name)
	}
	s.mu.Unlock()

	if !ok || sub.cancel == nil {
		return
	}

	sub.cancel()
	select {
	case <-sub.done:
	case <-ctx.Done():
		s.logger.Warn("Gave up waiting for poll loop", "camera", name)
	}
	s.logger.Info("Unsubscribed from camera events", "camera", name)
}

// State returns the camera's subscription state.
func (s *Service) State(name string) SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[name]; ok {
		return sub.state
	}
	return SubUnsubscribed
}

// States snapshots the subscription status of every camera with one.
func (s *Service) States() map[string]SubStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SubStatus, len(s.subs))
	for name, sub := range s.subs {
		st := SubStatus{State: sub.state}
		if last, ok := s.lastEvent[name]; ok {
			t := last
			st.LastEvent = &t
		}
		out[name] = st
	}
	return out
}

// Events returns up to limit buffered events, newest first. An empty
// camera name matches all cameras.
func (s *Service) Events(cameraName string, limit int) []Event {
	return s.buffer.recent(cameraName, limit)
}

// Shutdown stops every poll loop and awaits them.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.subs))
	for name := range s.subs {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.Unsubscribe(ctx, name)
	}
}

// pollLoop pulls event batches until cancelled. Transient vendor errors
// are logged and tolerated; after maxPullFailures in a row the loop
// rebuilds the subscription once, and exits if the rebuild fails too.
func (s *Service) pollLoop(ctx context.Context, name string, mc camera.MotionCapable, puller camera.MotionPuller, done chan struct{}) {
	defer close(done)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := puller.Close(closeCtx); err != nil {
			s.logger.Debug("Subscription teardown failed", "camera", name, "error", err)
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pullCtx, cancel := context.WithTimeout(ctx, s.cfg.PullWait+5*time.Second)
		batch, err := puller.Pull(pullCtx, s.cfg.PullWait, s.cfg.BatchLimit)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Warn("Event pull failed", "camera", name, "failures", failures, "error", err)
			if failures < maxPullFailures {
				continue
			}

			next, rerr := s.resubscribe(ctx, name, mc, puller)
			if rerr != nil {
				s.logger.Error("Subscription lost", "camera", name, "error", rerr)
				s.mu.Lock()
				delete(s.subs, name)
				s.mu.Unlock()
				return
			}
			puller = next
			failures = 0
			continue
		}

		failures = 0
		for _, n := range batch {
			s.ingest(name, n)
		}
	}
}

// resubscribe closes the stale puller and opens a fresh subscription.
func (s *Service) resubscribe(ctx context.Context, name string, mc camera.MotionCapable, stale camera.MotionPuller) (camera.MotionPuller, error) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := stale.Close(closeCtx); err != nil {
		s.logger.Debug("Stale subscription close failed", "camera", name, "error", err)
	}
	cancel()

	s.logger.Info("Rebuilding event subscription", "camera", name)
	return mc.SubscribeMotion(ctx)
}

// ingest classifies one raw notification and delivers it. Notifications
// that are neither motion nor ring, and motion notifications whose state
// says the motion window ended, are dropped.
func (s *Service) ingest(name string, n camera.Notification) {
	kind, ok := classify(n.Topic)
	if !ok {
		return
	}
	if kind == KindMotion && inactiveState(n.State) {
		return
	}

	when := n.Time
	if when.IsZero() {
		when = time.Now()
	}

	ev := Event{
		ID:     uuid.New().String(),
		Camera: name,
		Kind:   kind,
		Topic:  n.Topic,
		State:  n.State,
		Data:   n.Data,
		Time:   when,
	}

	s.buffer.add(ev)

	s.mu.Lock()
	s.lastEvent[name] = ev.Time
	callbacks := s.callbacks
	s.mu.Unlock()

	for _, fn := range callbacks {
		s.deliver(fn, ev)
	}

	s.logger.Debug("Event delivered", "camera", name, "kind", kind, "topic", n.Topic)
}

func (s *Service) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event callback panicked", "camera", ev.Camera, "panic", r)
		}
	}()
	fn(ev)
}

// classify matches the vendor topic by fragment. Vendors disagree on
// exact topic strings, so matching is case-insensitive and substring
// based.
func classify(topic string) (EventKind, bool) {
	t := strings.ToLower(topic)
	switch {
	case strings.Contains(t, "ring") || strings.Contains(t, "doorbell"):
		return KindRing, true
	case strings.Contains(t, "motion") ||
		strings.Contains(t, "person") ||
		strings.Contains(t, "people") ||
		strings.Contains(t, "pet") ||
		strings.Contains(t, "vehicle"):
		return KindMotion, true
	}
	return "", false
}

// inactiveState reports whether the state value marks the end of a motion
// window. Unknown and empty values count as active; dropping real motion
// is worse than an occasional duplicate.
func inactiveState(state string) bool {
	switch strings.ToLower(state) {
	case "false", "0", "off", "inactive":
		return true
	}
	return false
}
