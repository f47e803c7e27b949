// Package cloudcam implements the camera contract for cloud-managed
// cameras reached through a vendor account API. PTZ is continuous-only
// with no position feedback, and motion events arrive by polling the
// cloud event list.
package cloudcam

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
)

// TypeTag is the factory registration tag for this variant.
const TypeTag = "cloud"

// DefaultBaseURL is the production cloud endpoint. Overridable per camera
// for staging accounts and tests.
const DefaultBaseURL = "https://api.camvendor.example.com"

// Register adds the variant to the factory.
func Register(f *camera.Factory) {
	f.Register(TypeTag, New)
}

// Cloud is a camera managed entirely through a vendor cloud account.
type Cloud struct {
	name    string
	enabled bool
	mac     string
	client  *Client
	logger  *slog.Logger

	life *camera.Lifecycle

	mu    sync.RWMutex
	model string
}

// New builds the variant from its config. Required params: mac, email,
// password. Optional: api_key, base_url. No I/O happens here.
func New(cfg config.CameraConfig) (camera.Camera, error) {
	mac := cfg.Param("mac")
	if mac == "" {
		return nil, fmt.Errorf("camera %q: missing required param mac", cfg.Name)
	}
	email := cfg.Param("email")
	password := cfg.Param("password")
	if email == "" || password == "" {
		return nil, fmt.Errorf("camera %q: missing required params email, password", cfg.Name)
	}
	baseURL := cfg.Param("base_url")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Cloud{
		name:    cfg.Name,
		enabled: cfg.Enabled,
		mac:     mac,
		client:  NewClient(baseURL, email, password, cfg.Param("api_key")),
		logger:  slog.Default().With("component", "cloud-camera", "camera", cfg.Name),
		life:    camera.NewLifecycle(),
	}, nil
}

func (c *Cloud) Name() string { return c.name }
func (c *Cloud) Type() string { return TypeTag }

// Connect logs in to the cloud account and verifies the device exists and
// is online. Calling it while already connected is a no-op.
func (c *Cloud) Connect(ctx context.Context) error {
	if !c.life.BeginConnect() {
		return nil
	}

	if err := c.client.Login(ctx); err != nil {
		c.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: c.name, Err: err}
	}

	dev, err := c.client.GetDevice(ctx, c.mac)
	if err != nil {
		c.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: c.name, Err: err}
	}
	if !dev.IsOnline {
		err := fmt.Errorf("device %s is offline", c.mac)
		c.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: c.name, Err: err}
	}

	c.mu.Lock()
	c.model = dev.ProductModel
	c.mu.Unlock()

	c.life.ConnectOK()
	c.logger.Info("Connected", "model", dev.ProductModel)
	return nil
}

// Disconnect drops the session. The cloud token simply expires; there is
// no logout call worth making.
func (c *Cloud) Disconnect(ctx context.Context) error {
	c.life.Reset()
	c.logger.Info("Disconnected")
	return nil
}

// Status reports a snapshot without touching the network.
func (c *Cloud) Status() camera.Status {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()

	return camera.Status{
		Name:       c.name,
		Type:       TypeTag,
		State:      c.life.State(),
		Connected:  c.life.Connected(),
		Streaming:  c.life.Streaming(),
		Enabled:    c.enabled,
		Model:      model,
		PTZCapable: true,
		LastError:  c.life.LastError(),
		LastSeen:   c.life.LastSeen(),
	}
}

// StreamURL asks the cloud for a brokered stream URL. Accounts without
// direct streaming get ("", nil); absence is not an error.
func (c *Cloud) StreamURL(ctx context.Context) (string, error) {
	if !c.life.Connected() {
		return "", fmt.Errorf("camera %q is not connected", c.name)
	}

	info, err := c.client.GetStreamInfo(ctx, c.mac)
	if err != nil {
		c.life.RecordFault(err)
		return "", fmt.Errorf("camera %q: stream info: %w", c.name, err)
	}
	c.life.Touch()

	if info.URL == "" {
		return "", nil
	}
	c.life.SetStreaming(true)
	return info.URL, nil
}

// Move starts a continuous move by mapping the velocity onto the cloud's
// directional rotary actions.
func (c *Cloud) Move(ctx context.Context, v camera.PTZPosition) error {
	if !c.life.Connected() {
		return fmt.Errorf("camera %q is not connected", c.name)
	}

	err := c.client.RunAction(ctx, c.mac, "rotary_move", map[string]string{
		"horizontal": strconv.FormatFloat(v.Pan, 'f', 2, 64),
		"vertical":   strconv.FormatFloat(v.Tilt, 'f', 2, 64),
	})
	if err != nil {
		c.life.RecordFault(err)
		return fmt.Errorf("camera %q: move: %w", c.name, err)
	}
	c.life.Touch()
	return nil
}

// Stop halts movement.
func (c *Cloud) Stop(ctx context.Context) error {
	if !c.life.Connected() {
		return fmt.Errorf("camera %q is not connected", c.name)
	}
	if err := c.client.RunAction(ctx, c.mac, "rotary_stop", nil); err != nil {
		c.life.RecordFault(err)
		return fmt.Errorf("camera %q: stop: %w", c.name, err)
	}
	c.life.Touch()
	return nil
}

// Presets is empty for this vendor; the cloud API exposes no preset list.
func (c *Cloud) Presets(ctx context.Context) ([]camera.PTZPreset, error) {
	return nil, nil
}

// GoToPreset always fails; there are no vendor presets to go to.
func (c *Cloud) GoToPreset(ctx context.Context, token string) error {
	return fmt.Errorf("camera %q: vendor presets: %w", c.name, camera.ErrNotSupported)
}

// Position returns (nil, nil): the cloud exposes no position feedback, and
// unknown must never be reported as the origin.
func (c *Cloud) Position(ctx context.Context) (*camera.PTZPosition, error) {
	return nil, nil
}

// GoToPosition fails with ErrNotSupported; the vendor has no absolute
// positioning.
func (c *Cloud) GoToPosition(ctx context.Context, p camera.PTZPosition) error {
	return fmt.Errorf("camera %q: absolute move: %w", c.name, camera.ErrNotSupported)
}

// SubscribeMotion returns a puller that polls the cloud event list.
func (c *Cloud) SubscribeMotion(ctx context.Context) (camera.MotionPuller, error) {
	if !c.life.Connected() {
		return nil, fmt.Errorf("camera %q is not connected", c.name)
	}
	return &eventPoller{cam: c, since: time.Now()}, nil
}

// eventPoller adapts the cloud event list to the pull interface. It keeps
// a high-water mark so each event is delivered once.
type eventPoller struct {
	cam   *Cloud
	since time.Time
}

// Pull lists events newer than the high-water mark. The cloud API has no
// long poll, so wait is ignored.
func (p *eventPoller) Pull(ctx context.Context, wait time.Duration, limit int) ([]camera.Notification, error) {
	events, err := p.cam.client.GetEvents(ctx, p.cam.mac, p.since, limit)
	if err != nil {
		return nil, err
	}
	p.cam.life.Touch()

	out := make([]camera.Notification, 0, len(events))
	for _, ev := range events {
		if ev.Category == "" {
			continue
		}
		t := time.UnixMilli(ev.TimestampMs)
		if t.After(p.since) {
			p.since = t
		}
		out = append(out, camera.Notification{
			Topic: ev.Category,
			State: ev.Value,
			Data:  map[string]string{"event_id": ev.ID},
			Time:  t,
		})
	}
	return out, nil
}

func (p *eventPoller) Close(ctx context.Context) error {
	return nil
}
