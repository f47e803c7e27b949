package camera

import (
	"fmt"
	"sort"
	"sync"

	"github.com/camhub-project/camhub/internal/config"
)

// Constructor builds a camera variant from its declarative config.
// Construction validates parameters but performs no I/O; connecting is a
// separate, explicit step.
type Constructor func(cfg config.CameraConfig) (Camera, error)

// Factory maps type tags to variant constructors. It is the single
// polymorphism point: new device families register here and the registry,
// PTZ, and motion code never branch on concrete types.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register binds a type tag to a constructor. Registering the same tag
// twice replaces the previous constructor.
func (f *Factory) Register(typeTag string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[typeTag] = ctor
}

// Types returns the registered type tags, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds a camera for cfg. Unknown type tags fail with ErrUnknownType.
func (f *Factory) New(cfg config.CameraConfig) (Camera, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	return ctor(cfg)
}
