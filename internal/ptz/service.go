package ptz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/worker"
)

// Service dispatches PTZ commands to registry cameras and manages the
// hub-side preset store. Every vendor call is gated through the worker
// pool so a stuck device cannot pile up goroutines.
type Service struct {
	registry *camera.Registry
	store    *Store
	pool     *worker.Pool
	logger   *slog.Logger
}

// NewService creates the PTZ service and wires a registry remove hook so
// a removed camera's stored presets are forgotten with it.
func NewService(registry *camera.Registry, store *Store, pool *worker.Pool) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		pool:     pool,
		logger:   slog.Default().With("component", "ptz"),
	}
	registry.OnRemove(func(ctx context.Context, name string) {
		if err := store.Forget(name); err != nil {
			s.logger.Warn("Failed to drop presets for removed camera", "camera", name, "error", err)
		}
	})
	return s
}

// capable resolves a camera name to its PTZ extension. Cameras without
// mechanical control fail with ErrNotSupported; the capability check is an
// interface probe, never a type switch on concrete variants.
func (s *Service) capable(name string) (camera.PTZCapable, error) {
	cam, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", camera.ErrNotFound, name)
	}
	ptz, ok := cam.(camera.PTZCapable)
	if !ok {
		return nil, fmt.Errorf("camera %q: ptz: %w", name, camera.ErrNotSupported)
	}
	return ptz, nil
}

// Move starts a continuous move at velocity v.
func (s *Service) Move(ctx context.Context, name string, v camera.PTZPosition) error {
	if !v.Valid() {
		return fmt.Errorf("%w: pan=%g tilt=%g zoom=%g", camera.ErrInvalidPosition, v.Pan, v.Tilt, v.Zoom)
	}
	ptz, err := s.capable(name)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return ptz.Move(ctx, v)
	})
}

// Stop halts all movement. A stop cancels whatever move is in flight, no
// matter which caller started it.
func (s *Service) Stop(ctx context.Context, name string) error {
	ptz, err := s.capable(name)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return ptz.Stop(ctx)
	})
}

// VendorPresets lists the presets stored on the device itself.
func (s *Service) VendorPresets(ctx context.Context, name string) ([]camera.PTZPreset, error) {
	ptz, err := s.capable(name)
	if err != nil {
		return nil, err
	}
	var presets []camera.PTZPreset
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var perr error
		presets, perr = ptz.Presets(ctx)
		return perr
	})
	return presets, err
}

// GoToVendorPreset moves to a device-stored preset by its opaque token.
func (s *Service) GoToVendorPreset(ctx context.Context, name, token string) error {
	ptz, err := s.capable(name)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return ptz.GoToPreset(ctx, token)
	})
}

// Position reads the camera's position feedback. (nil, nil) means the
// device exposes none.
func (s *Service) Position(ctx context.Context, name string) (*camera.PTZPosition, error) {
	ptz, err := s.capable(name)
	if err != nil {
		return nil, err
	}
	var pos *camera.PTZPosition
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var perr error
		pos, perr = ptz.Position(ctx)
		return perr
	})
	return pos, err
}

// SavePreset captures the camera's current position under preset. Cameras
// without position feedback cannot have hub presets captured; that fails
// loudly rather than storing a guessed origin.
func (s *Service) SavePreset(ctx context.Context, name, preset, description string) error {
	if preset == "" {
		return fmt.Errorf("preset name must not be empty")
	}
	pos, err := s.Position(ctx, name)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("camera %q reports no position feedback, cannot capture preset: %w",
			name, camera.ErrNotSupported)
	}
	if err := s.store.Save(name, preset, Preset{Position: *pos, Description: description}); err != nil {
		return err
	}
	s.logger.Info("Preset saved", "camera", name, "preset", preset,
		"pan", pos.Pan, "tilt", pos.Tilt, "zoom", pos.Zoom)
	return nil
}

// GoToPreset moves to a hub-stored preset via an absolute move. On
// continuous-only hardware this fails with ErrNotSupported; the hub never
// fakes an absolute move out of timed velocity commands.
func (s *Service) GoToPreset(ctx context.Context, name, preset string) error {
	p, ok := s.store.Get(name, preset)
	if !ok {
		return fmt.Errorf("%w: %q for camera %q", ErrPresetNotFound, preset, name)
	}
	ptz, err := s.capable(name)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return ptz.GoToPosition(ctx, p.Position)
	})
}

// ListPresets returns the hub-stored preset names for a camera.
func (s *Service) ListPresets(name string) []string {
	return s.store.List(name)
}

// RenamePreset renames a hub-stored preset.
func (s *Service) RenamePreset(name, oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("preset name must not be empty")
	}
	return s.store.Rename(name, oldName, newName)
}

// DeletePreset removes a hub-stored preset.
func (s *Service) DeletePreset(name, preset string) error {
	return s.store.Delete(name, preset)
}
