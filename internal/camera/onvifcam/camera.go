// Package onvifcam implements the camera contract for local-network ONVIF
// devices: full PTZ with position feedback, RTSP streaming, and pull-point
// motion events.
package onvifcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
)

// TypeTag is the factory registration tag for this variant.
const TypeTag = "onvif"

// Register adds the variant to the factory.
func Register(f *camera.Factory) {
	f.Register(TypeTag, New)
}

// Onvif is a network camera speaking the ONVIF SOAP services.
type Onvif struct {
	name    string
	enabled bool
	client  *Client
	logger  *slog.Logger

	life *camera.Lifecycle

	mu           sync.RWMutex
	profile      string
	manufacturer string
	model        string
}

// New builds the variant from its config. Required params: host. Optional:
// port (default 80), username, password. No I/O happens here.
func New(cfg config.CameraConfig) (camera.Camera, error) {
	host := cfg.Param("host")
	if host == "" {
		return nil, fmt.Errorf("camera %q: missing required param host", cfg.Name)
	}
	port := cfg.ParamInt("port", 80)

	return &Onvif{
		name:    cfg.Name,
		enabled: cfg.Enabled,
		client:  NewClient(host, port, cfg.Param("username"), cfg.Param("password")),
		logger:  slog.Default().With("component", "onvif-camera", "camera", cfg.Name),
		life:    camera.NewLifecycle(),
	}, nil
}

func (o *Onvif) Name() string { return o.name }
func (o *Onvif) Type() string { return TypeTag }

// Connect probes the device and caches identity plus the media profile
// token. Calling it while already connected is a no-op.
func (o *Onvif) Connect(ctx context.Context) error {
	if !o.life.BeginConnect() {
		return nil
	}

	info, err := o.client.GetDeviceInformation(ctx)
	if err != nil {
		o.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: o.name, Err: err}
	}

	profile, err := o.client.GetProfileToken(ctx)
	if err != nil {
		o.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: o.name, Err: err}
	}

	o.mu.Lock()
	o.manufacturer = info.Manufacturer
	o.model = info.Model
	o.profile = profile
	o.mu.Unlock()

	o.life.ConnectOK()
	o.logger.Info("Connected", "manufacturer", info.Manufacturer, "model", info.Model)
	return nil
}

// Disconnect drops the session state. It always succeeds; there is no
// vendor-side teardown for the device services.
func (o *Onvif) Disconnect(ctx context.Context) error {
	o.life.Reset()
	o.logger.Info("Disconnected")
	return nil
}

// Status reports a snapshot without touching the network.
func (o *Onvif) Status() camera.Status {
	o.mu.RLock()
	manufacturer, model := o.manufacturer, o.model
	o.mu.RUnlock()

	return camera.Status{
		Name:         o.name,
		Type:         TypeTag,
		State:        o.life.State(),
		Connected:    o.life.Connected(),
		Streaming:    o.life.Streaming(),
		Enabled:      o.enabled,
		Manufacturer: manufacturer,
		Model:        model,
		PTZCapable:   true,
		LastError:    o.life.LastError(),
		LastSeen:     o.life.LastSeen(),
	}
}

// StreamURL resolves the RTSP URI for the cached media profile and marks
// the camera streaming on success.
func (o *Onvif) StreamURL(ctx context.Context) (string, error) {
	profile, err := o.profileToken()
	if err != nil {
		return "", err
	}

	uri, err := o.client.GetStreamURI(ctx, profile)
	if err != nil {
		o.life.RecordFault(err)
		return "", fmt.Errorf("camera %q: stream uri: %w", o.name, err)
	}

	o.life.Touch()
	o.life.SetStreaming(true)
	return uri, nil
}

func (o *Onvif) profileToken() (string, error) {
	if !o.life.Connected() {
		return "", fmt.Errorf("camera %q is not connected", o.name)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.profile, nil
}

// Move starts a continuous velocity move.
func (o *Onvif) Move(ctx context.Context, v camera.PTZPosition) error {
	profile, err := o.profileToken()
	if err != nil {
		return err
	}
	if err := o.client.ContinuousMove(ctx, profile, v.Pan, v.Tilt, v.Zoom); err != nil {
		o.life.RecordFault(err)
		return fmt.Errorf("camera %q: move: %w", o.name, err)
	}
	o.life.Touch()
	return nil
}

// Stop halts all axes.
func (o *Onvif) Stop(ctx context.Context) error {
	profile, err := o.profileToken()
	if err != nil {
		return err
	}
	if err := o.client.Stop(ctx, profile); err != nil {
		o.life.RecordFault(err)
		return fmt.Errorf("camera %q: stop: %w", o.name, err)
	}
	o.life.Touch()
	return nil
}

// Presets lists the device-stored presets.
func (o *Onvif) Presets(ctx context.Context) ([]camera.PTZPreset, error) {
	profile, err := o.profileToken()
	if err != nil {
		return nil, err
	}
	raw, err := o.client.GetPresets(ctx, profile)
	if err != nil {
		o.life.RecordFault(err)
		return nil, fmt.Errorf("camera %q: presets: %w", o.name, err)
	}
	o.life.Touch()

	presets := make([]camera.PTZPreset, 0, len(raw))
	for _, p := range raw {
		presets = append(presets, camera.PTZPreset{Token: p.Token, Name: p.Name})
	}
	return presets, nil
}

// GoToPreset moves to a device-stored preset.
func (o *Onvif) GoToPreset(ctx context.Context, token string) error {
	profile, err := o.profileToken()
	if err != nil {
		return err
	}
	if err := o.client.GotoPreset(ctx, profile, token); err != nil {
		o.life.RecordFault(err)
		return fmt.Errorf("camera %q: goto preset: %w", o.name, err)
	}
	o.life.Touch()
	return nil
}

// Position reads the device's position feedback. A device that reports no
// position yields (nil, nil).
func (o *Onvif) Position(ctx context.Context) (*camera.PTZPosition, error) {
	profile, err := o.profileToken()
	if err != nil {
		return nil, err
	}
	pos, err := o.client.GetStatus(ctx, profile)
	if err != nil {
		o.life.RecordFault(err)
		return nil, fmt.Errorf("camera %q: position: %w", o.name, err)
	}
	o.life.Touch()
	if pos == nil {
		return nil, nil
	}
	return &camera.PTZPosition{Pan: pos.Pan, Tilt: pos.Tilt, Zoom: pos.Zoom}, nil
}

// GoToPosition issues an absolute move to p.
func (o *Onvif) GoToPosition(ctx context.Context, p camera.PTZPosition) error {
	profile, err := o.profileToken()
	if err != nil {
		return err
	}
	if err := o.client.AbsoluteMove(ctx, profile, p.Pan, p.Tilt, p.Zoom); err != nil {
		o.life.RecordFault(err)
		return fmt.Errorf("camera %q: absolute move: %w", o.name, err)
	}
	o.life.Touch()
	return nil
}

// SubscribeMotion creates a pull-point subscription. Failure is a normal
// outcome on hardware that advertises events without implementing them.
func (o *Onvif) SubscribeMotion(ctx context.Context) (camera.MotionPuller, error) {
	if !o.life.Connected() {
		return nil, fmt.Errorf("camera %q is not connected", o.name)
	}
	address, err := o.client.CreatePullPoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("camera %q: create pull point: %w", o.name, err)
	}
	o.life.Touch()
	o.logger.Debug("Pull-point subscription created", "address", address)
	return &pullPoint{cam: o, address: address}, nil
}

// pullPoint is one live event subscription.
type pullPoint struct {
	cam     *Onvif
	address string
}

func (p *pullPoint) Pull(ctx context.Context, wait time.Duration, limit int) ([]camera.Notification, error) {
	msgs, err := p.cam.client.PullMessages(ctx, p.address, wait, limit)
	if err != nil {
		return nil, err
	}
	p.cam.life.Touch()

	out := make([]camera.Notification, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, camera.Notification{
			Topic: m.Topic,
			State: m.State,
			Data:  m.Data,
			Time:  m.Time,
		})
	}
	return out, nil
}

func (p *pullPoint) Close(ctx context.Context) error {
	return p.cam.client.Unsubscribe(ctx, p.address)
}
