package camera

import (
	"context"
	"log/slog"
	"sync"

	"github.com/camhub-project/camhub/internal/config"
)

// Registry owns the name-to-camera map. Map mutation is serialized under
// one coarse mutex; status reads across entries run concurrently because
// each camera owns only its own state.
type Registry struct {
	factory *Factory
	logger  *slog.Logger

	mu      sync.Mutex
	cameras map[string]Camera

	// Called with a camera's name before it is removed and during
	// Shutdown, so collaborators (the motion service) can cancel and
	// await per-camera background tasks.
	removeHooks []func(ctx context.Context, name string)
}

// NewRegistry creates a registry backed by the given factory.
func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		factory: factory,
		logger:  slog.Default().With("component", "camera-registry"),
		cameras: make(map[string]Camera),
	}
}

// OnRemove registers a hook invoked before a camera leaves the registry.
func (r *Registry) OnRemove(fn func(ctx context.Context, name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeHooks = append(r.removeHooks, fn)
}

// Add validates name uniqueness and builds the camera via the factory.
// It never auto-connects; connection policy lives with the caller. A
// duplicate name returns (false, nil) so re-applying config at startup is
// idempotent. An unknown type tag is a configuration mistake and surfaces
// as an error.
func (r *Registry) Add(cfg config.CameraConfig) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cameras[cfg.Name]; exists {
		r.logger.Debug("Camera already registered", "camera", cfg.Name)
		return false, nil
	}

	cam, err := r.factory.New(cfg)
	if err != nil {
		return false, err
	}

	r.cameras[cfg.Name] = cam
	r.logger.Info("Camera registered", "camera", cfg.Name, "type", cfg.Type)
	return true, nil
}

// Get returns the camera registered under name.
func (r *Registry) Get(name string) (Camera, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[name]
	return cam, ok
}

// Remove disconnects the camera if connected, then deletes it. Returns
// false when no camera is registered under name.
func (r *Registry) Remove(ctx context.Context, name string) bool {
	r.mu.Lock()
	cam, ok := r.cameras[name]
	if ok {
		delete(r.cameras, name)
	}
	hooks := r.removeHooks
	r.mu.Unlock()

	if !ok {
		return false
	}

	for _, fn := range hooks {
		fn(ctx, name)
	}

	if cam.Status().Connected {
		if err := cam.Disconnect(ctx); err != nil {
			r.logger.Warn("Disconnect during removal failed", "camera", name, "error", err)
		}
	}

	r.logger.Info("Camera removed", "camera", name)
	return true
}

// List snapshots every camera's status. One entry's internal fault never
// aborts the listing: Status is contractually non-failing, and a panic in
// a misbehaving variant is isolated per entry.
func (r *Registry) List() []Status {
	r.mu.Lock()
	cams := make([]Camera, 0, len(r.cameras))
	for _, cam := range r.cameras {
		cams = append(cams, cam)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(cams))
	for _, cam := range cams {
		statuses = append(statuses, r.safeStatus(cam))
	}
	return statuses
}

func (r *Registry) safeStatus(cam Camera) (st Status) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Status panicked", "camera", cam.Name(), "panic", rec)
			st = Status{Name: cam.Name(), Type: cam.Type(), State: StateError}
		}
	}()
	return cam.Status()
}

// Names returns the registered camera names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.cameras))
	for name := range r.cameras {
		names = append(names, name)
	}
	return names
}

// Shutdown cancels per-camera background tasks via the remove hooks,
// awaits them, and disconnects every camera before returning.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	cams := make(map[string]Camera, len(r.cameras))
	for name, cam := range r.cameras {
		cams[name] = cam
	}
	hooks := r.removeHooks
	r.mu.Unlock()

	for name := range cams {
		for _, fn := range hooks {
			fn(ctx, name)
		}
	}

	for name, cam := range cams {
		if cam.Status().Connected {
			if err := cam.Disconnect(ctx); err != nil {
				r.logger.Warn("Disconnect during shutdown failed", "camera", name, "error", err)
			}
		}
	}

	r.logger.Info("Registry shut down", "cameras", len(cams))
}
