// Package usbcam implements the camera contract for locally attached
// video devices. Connecting verifies the device node exists; streaming is
// served by a local restreamer. There is no PTZ and no vendor event
// channel.
package usbcam

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
)

// TypeTag is the factory registration tag for this variant.
const TypeTag = "usb"

// Register adds the variant to the factory.
func Register(f *camera.Factory) {
	f.Register(TypeTag, New)
}

// USB is a directly attached capture device.
type USB struct {
	name      string
	enabled   bool
	device    string
	streamURL string
	logger    *slog.Logger

	life *camera.Lifecycle
}

// New builds the variant from its config. Required params: device (the
// node path, e.g. /dev/video0). Optional: stream_url for a local
// restreamer endpoint. No I/O happens here.
func New(cfg config.CameraConfig) (camera.Camera, error) {
	device := cfg.Param("device")
	if device == "" {
		return nil, fmt.Errorf("camera %q: missing required param device", cfg.Name)
	}

	return &USB{
		name:      cfg.Name,
		enabled:   cfg.Enabled,
		device:    device,
		streamURL: cfg.Param("stream_url"),
		logger:    slog.Default().With("component", "usb-camera", "camera", cfg.Name),
		life:      camera.NewLifecycle(),
	}, nil
}

func (u *USB) Name() string { return u.name }
func (u *USB) Type() string { return TypeTag }

// Connect verifies the device node is present. Calling it while already
// connected is a no-op.
func (u *USB) Connect(ctx context.Context) error {
	if !u.life.BeginConnect() {
		return nil
	}

	if _, err := os.Stat(u.device); err != nil {
		err = fmt.Errorf("device node %s: %w", u.device, err)
		u.life.ConnectFailed(err)
		return &camera.ConnectError{Camera: u.name, Err: err}
	}

	u.life.ConnectOK()
	u.logger.Info("Connected", "device", u.device)
	return nil
}

// Disconnect releases the device. It always succeeds.
func (u *USB) Disconnect(ctx context.Context) error {
	u.life.Reset()
	u.logger.Info("Disconnected")
	return nil
}

// Status reports a snapshot without touching the device.
func (u *USB) Status() camera.Status {
	return camera.Status{
		Name:      u.name,
		Type:      TypeTag,
		State:     u.life.State(),
		Connected: u.life.Connected(),
		Streaming: u.life.Streaming(),
		Enabled:   u.enabled,
		LastError: u.life.LastError(),
		LastSeen:  u.life.LastSeen(),
	}
}

// StreamURL returns the local restreamer URL when one is configured, or
// ("", nil) when this device is capture-only.
func (u *USB) StreamURL(ctx context.Context) (string, error) {
	if !u.life.Connected() {
		return "", fmt.Errorf("camera %q is not connected", u.name)
	}
	if u.streamURL == "" {
		return "", nil
	}
	u.life.SetStreaming(true)
	return u.streamURL, nil
}
