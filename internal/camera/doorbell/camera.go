// Package doorbell implements the camera contract for cloud-managed video
// doorbells. Doorbells share the cloud account API with regular cloud
// cameras but are fixed-mount: no PTZ at all. Their event channel carries
// both motion and ring events.
package doorbell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/camera/cloudcam"
	"github.com/camhub-project/camhub/internal/config"
)

// TypeTag is the factory registration tag for this variant.
const TypeTag = "doorbell"

// Register adds the variant to the factory.
func Register(f *camera.Factory) {
	f.Register(TypeTag, New)
}

// Doorbell is a fixed-mount cloud doorbell.
type Doorbell struct {
	name    string
	enabled bool
	mac     string
	client  *cloudcam.Client
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
		baseURL = cloudcam.DefaultBaseURL
	}

	return &Doorbell{
		name:    cfg.Name,
		enabled: cfg.Enabled,
		mac:     mac,
		client:  cloudcam.NewClient(baseURL, email, password, cfg.Param("api_key")),
		logger:  slog.Default().With("component", "doorbell-camera", "camera", cfg.Name),
		life:    camera.NewLifecycle(),
	}, nil
}

func (d *Doorbell) Name() string { return d.name }
func (d *Doorbell) Type() string { return TypeTag }

// Connect logs in to the cloud account and verifies the doorbell is
// registered and online. Calling it while already connected is a no-op.
func (d *Doorbell) Connect(ctx context.Context) error {
	if !d.life.BeginConnect() {
		return nil
	}

	if err := d.client.Login(ctx); err != nil {
		d.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: d.name, Err: err}
	}

	dev, err := d.client.GetDevice(ctx, d.mac)
	if err != nil {
		d.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: d.name, Err: err}
	}
	if !dev.IsOnline {
		err := fmt.Errorf("device %s is offline", d.mac)
		d.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: d.name, Err: err}
	}

	d.mu.Lock()
	d.model = dev.ProductModel
	d.mu.Unlock()

	d.life.ConnectOK()
	d.logger.Info("Connected", "model", dev.ProductModel)
	return nil
}

// Disconnect drops the session. It always succeeds.
func (d *Doorbell) Disconnect(ctx context.Context) error {
	d.life.Reset()
	d.logger.Info("Disconnected")
	return nil
}

// Status reports a snapshot without touching the network.
func (d *Doorbell) Status() camera.Status {
	d.mu.RLock()
	model := d.model
	d.mu.RUnlock()

	return camera.Status{
		Name:      d.name,
		Type:      TypeTag,
		State:     d.life.State(),
		Connected: d.life.Connected(),
		Streaming: d.life.Streaming(),
		Enabled:   d.enabled,
		Model:     model,
		LastError: d.life.LastError(),
		LastSeen:  d.life.LastSeen(),
	}
}

// StreamURL asks the cloud for a brokered stream URL. Doorbells on plans
// without live view get ("", nil).
func (d *Doorbell) StreamURL(ctx context.Context) (string, error) {
	if !d.life.Connected() {
		return "", fmt.Errorf("camera %q is not connected", d.name)
	}

	info, err := d.client.GetStreamInfo(ctx, d.mac)
	if err != nil {
		d.life.RecordFault(err)
		return "", fmt.Errorf("camera %q: stream info: %w", d.name, err)
	}
	d.life.Touch()

	if info.URL == "" {
		return "", nil
	}
	d.life.SetStreaming(true)
	return info.URL, nil
}

// SubscribeMotion returns a puller over the cloud event list. Ring events
// ride the same channel as motion; the topic distinguishes them.
func (d *Doorbell) SubscribeMotion(ctx context.Context) (camera.MotionPuller, error) {
	if !d.life.Connected() {
		return nil, fmt.Errorf("camera %q is not connected", d.name)
	}
	return &eventPoller{bell: d, since: time.Now()}, nil
}

type eventPoller struct {
	bell  *Doorbell
	since time.Time
}

// Pull lists events newer than the high-water mark. The cloud API has no
// long poll, so wait is ignored.
func (p *eventPoller) Pull(ctx context.Context, wait time.Duration, limit int) ([]camera.Notification, error) {
	events, err := p.bell.client.GetEvents(ctx, p.bell.mac, p.since, limit)
	if err != nil {
		return nil, err
	}
	p.bell.life.Touch()

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
