package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
)

// plainCam has no event channel.
type plainCam struct {
	name string
}

func (c *plainCam) Name() string                                  { return c.name }
func (c *plainCam) Type() string                                  { return "plain" }
func (c *plainCam) Connect(ctx context.Context) error             { return nil }
func (c *plainCam) Disconnect(ctx context.Context) error          { return nil }
func (c *plainCam) Status() camera.Status                         { return camera.Status{Name: c.name} }
func (c *plainCam) StreamURL(ctx context.Context) (string, error) { return "", nil }

// eventCam feeds canned notification batches through a channel.
type eventCam struct {
	plainCam
	refuse bool

	mu        sync.Mutex
	batches   chan []camera.Notification
	closed    int
	lastWait  time.Duration
	lastLimit int
}

func newEventCam(name string) *eventCam {
	return &eventCam{
		plainCam: plainCam{name: name},
		batches:  make(chan []camera.Notification, 16),
	}
}

func (c *eventCam) SubscribeMotion(ctx context.Context) (camera.MotionPuller, error) {
	if c.refuse {
		return nil, errors.New("events not supported on this firmware")
	}
	return &fakePuller{cam: c}, nil
}

type fakePuller struct {
	cam *eventCam
}

func (p *fakePuller) Pull(ctx context.Context, wait time.Duration, limit int) ([]camera.Notification, error) {
	p.cam.mu.Lock()
	p.cam.lastWait = wait
	p.cam.lastLimit = limit
	p.cam.mu.Unlock()

	select {
	case batch := <-p.cam.batches:
		return batch, nil
	default:
		return nil, nil
	}
}

func (p *fakePuller) Close(ctx context.Context) error {
	p.cam.mu.Lock()
	defer p.cam.mu.Unlock()
	p.cam.closed++
	return nil
}

func testSetup(t *testing.T) (*Service, *camera.Registry, *eventCam) {
	t.Helper()

	cam := newEventCam("porch")
	factory := camera.NewFactory()
	factory.Register("events", func(cfg config.CameraConfig) (camera.Camera, error) {
		return cam, nil
	})
	factory.Register("plain", func(cfg config.CameraConfig) (camera.Camera, error) {
		return &plainCam{name: cfg.Name}, nil
	})

	registry := camera.NewRegistry(factory)
	registry.Add(config.CameraConfig{Name: "porch", Type: "events"})
	registry.Add(config.CameraConfig{Name: "wall", Type: "plain"})

	svc := NewService(registry, config.MotionConfig{
		PollInterval: 5 * time.Millisecond,
		PullWait:     50 * time.Millisecond,
		BatchLimit:   10,
		BufferSize:   32,
	})
	t.Cleanup(func() {
		svc.Shutdown(context.Background())
	})

	return svc, registry, cam
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestSubscribeUnknownCamera(t *testing.T) {
	svc, _, _ := testSetup(t)

	_, err := svc.Subscribe(context.Background(), "ghost")
	if !errors.Is(err, camera.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeNotCapable(t *testing.T) {
	svc, _, _ := testSetup(t)

	ok, err := svc.Subscribe(context.Background(), "wall")
	if err != nil {
		t.Fatalf("Subscribe should not error for incapable camera: %v", err)
	}
	if ok {
		t.Error("Camera without an event channel should report false")
	}
	if svc.State("wall") != SubUnsubscribed {
		t.Errorf("Expected unsubscribed, got %s", svc.State("wall"))
	}
}

func TestSubscribeVendorRefusal(t *testing.T) {
	svc, _, cam := testSetup(t)
	cam.refuse = true

	ok, err := svc.Subscribe(context.Background(), "porch")
	if err != nil {
		t.Fatalf("Vendor refusal should not be an error: %v", err)
	}
	if ok {
		t.Error("Refused subscription should report false")
	}
	if svc.State("porch") != SubUnsubscribed {
		t.Errorf("Expected unsubscribed after refusal, got %s", svc.State("porch"))
	}
}

func TestSubscribeAndDeliver(t *testing.T) {
	svc, _, cam := testSetup(t)

	var mu sync.Mutex
	var delivered []Event
	svc.OnEvent(func(ev Event) {
		mu.Lock()
		delivered = append(delivered, ev)
		mu.Unlock()
	})

	ok, err := svc.Subscribe(context.Background(), "porch")
	if err != nil || !ok {
		t.Fatalf("Subscribe failed: ok=%v err=%v", ok, err)
	}
	if svc.State("porch") != SubSubscribed {
		t.Errorf("Expected subscribed, got %s", svc.State("porch"))
	}

	cam.batches <- []camera.Notification{
		{Topic: "tns1:RuleEngine/CellMotionDetector/Motion", State: "true", Time: time.Now()},
		{Topic: "tns1:Device/Trigger/Relay", State: "true"},  // not motion, dropped
		{Topic: "doorbell/press", State: "pressed"},          // ring
		{Topic: "VideoSource/MotionAlarm", State: "false"},   // inactive, dropped
	}

	if !waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) >= 2
	}) {
		t.Fatal("Events were not delivered in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("Expected 2 delivered events, got %d", len(delivered))
	}
	if delivered[0].Kind != KindMotion {
		t.Errorf("First event should be motion, got %s", delivered[0].Kind)
	}
	if delivered[1].Kind != KindRing {
		t.Errorf("Second event should be ring, got %s", delivered[1].Kind)
	}
	for _, ev := range delivered {
		if ev.Camera != "porch" {
			t.Errorf("Event should carry the camera name, got %q", ev.Camera)
		}
		if ev.ID == "" {
			t.Error("Event should have an ID")
		}
	}

	status := svc.States()["porch"]
	if status.State != SubSubscribed {
		t.Errorf("Status should report subscribed, got %s", status.State)
	}
	if status.LastEvent == nil {
		t.Error("Status should carry the last event time after delivery")
	}
}

func TestConfiguredBoundsReachPuller(t *testing.T) {
	svc, _, cam := testSetup(t)

	if ok, err := svc.Subscribe(context.Background(), "porch"); !ok || err != nil {
		t.Fatalf("Subscribe failed: ok=%v err=%v", ok, err)
	}

	if !waitFor(t, time.Second, func() bool {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.lastLimit != 0
	}) {
		t.Fatal("Poll loop never pulled")
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()
	if cam.lastWait != 50*time.Millisecond {
		t.Errorf("Configured pull wait should reach the puller, got %v", cam.lastWait)
	}
	if cam.lastLimit != 10 {
		t.Errorf("Configured batch limit should reach the puller, got %d", cam.lastLimit)
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	svc, _, _ := testSetup(t)

	if ok, _ := svc.Subscribe(context.Background(), "porch"); !ok {
		t.Fatal("First subscribe should succeed")
	}
	if ok, err := svc.Subscribe(context.Background(), "porch"); !ok || err != nil {
		t.Errorf("Repeated subscribe should report true, got ok=%v err=%v", ok, err)
	}
}

func TestEventsBuffered(t *testing.T) {
	svc, _, cam := testSetup(t)
	svc.Subscribe(context.Background(), "porch")

	cam.batches <- []camera.Notification{
		{Topic: "motion", State: "true", Time: time.Now()},
	}

	if !waitFor(t, time.Second, func() bool {
		return len(svc.Events("porch", 0)) == 1
	}) {
		t.Fatal("Event did not reach the buffer")
	}

	if got := svc.Events("other", 0); len(got) != 0 {
		t.Errorf("Camera filter should exclude other cameras, got %v", got)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	svc, _, cam := testSetup(t)

	var mu sync.Mutex
	received := 0
	svc.OnEvent(func(ev Event) {
		panic("bad consumer")
	})
	svc.OnEvent(func(ev Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	svc.Subscribe(context.Background(), "porch")
	cam.batches <- []camera.Notification{
		{Topic: "motion", State: "true"},
	}

	if !waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 1
	}) {
		t.Error("A panicking callback must not block later callbacks")
	}

	// Loop survived, a second event still flows
	cam.batches <- []camera.Notification{
		{Topic: "motion", State: "true"},
	}
	if !waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 2
	}) {
		t.Error("Poll loop should survive a panicking callback")
	}
}

func TestUnsubscribe(t *testing.T) {
	svc, _, cam := testSetup(t)
	svc.Subscribe(context.Background(), "porch")

	svc.Unsubscribe(context.Background(), "porch")
	if svc.State("porch") != SubUnsubscribed {
		t.Errorf("Expected unsubscribed, got %s", svc.State("porch"))
	}

	cam.mu.Lock()
	closed := cam.closed
	cam.mu.Unlock()
	if closed != 1 {
		t.Errorf("Unsubscribe should close the vendor subscription, got %d closes", closed)
	}

	// Idempotent
	svc.Unsubscribe(context.Background(), "porch")
}

func TestRegistryRemoveStopsSubscription(t *testing.T) {
	svc, registry, cam := testSetup(t)
	svc.Subscribe(context.Background(), "porch")

	registry.Remove(context.Background(), "porch")

	if svc.State("porch") != SubUnsubscribed {
		t.Error("Removing the camera should stop its subscription")
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if cam.closed != 1 {
		t.Errorf("Removal should close the vendor subscription, got %d closes", cam.closed)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		topic string
		kind  EventKind
		ok    bool
	}{
		{"tns1:RuleEngine/CellMotionDetector/Motion", KindMotion, true},
		{"VideoSource/MotionAlarm", KindMotion, true},
		{"smart/person_detected", KindMotion, true},
		{"doorbell/press", KindRing, true},
		{"device/ring", KindRing, true},
		{"tns1:Device/Trigger/Relay", "", false},
		{"", "", false},
	}

	for _, c := range cases {
		kind, ok := classify(c.topic)
		if ok != c.ok || kind != c.kind {
			t.Errorf("classify(%q) = (%s, %v), want (%s, %v)", c.topic, kind, ok, c.kind, c.ok)
		}
	}
}
