// Package ptz provides PTZ command dispatch and hub-side preset storage
// layered over the camera capability contract.
package ptz

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/camhub-project/camhub/internal/camera"
)

// ErrPresetNotFound means the named hub preset does not exist for that
// camera.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is one stored hub preset: the captured position plus an optional
// operator note.
type Preset struct {
	Position    camera.PTZPosition `yaml:"position" json:"position"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
}

// Store persists hub-side presets in a YAML file keyed by camera name and
// preset name. Hub presets are positions captured by the hub itself and
// are independent of any vendor preset table. Every mutation rewrites the
// file atomically.
type Store struct {
	mu      sync.Mutex
	path    string
	presets map[string]map[string]Preset
}

// NewStore opens the store at path, loading existing presets. A missing
// file is an empty store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		presets: make(map[string]map[string]Preset),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preset store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.presets); err != nil {
		return nil, fmt.Errorf("failed to parse preset store: %w", err)
	}
	if s.presets == nil {
		s.presets = make(map[string]map[string]Preset)
	}
	return s, nil
}

// saveUnlocked rewrites the file. Caller must hold the lock.
func (s *Store) saveUnlocked() error {
	data, err := yaml.Marshal(s.presets)
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}

	header := "# Camera Hub PTZ presets\n# Keyed by camera name, then preset name\n\n"
	data = append([]byte(header), data...)

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write preset store: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}

// List returns the preset names stored for a camera, sorted.
func (s *Store) List(cameraName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.presets[cameraName]))
	for name := range s.presets[cameraName] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a stored preset.
func (s *Store) Get(cameraName, name string) (Preset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presets[cameraName][name]
	return p, ok
}

// Save stores a preset, silently overwriting an existing one of the same
// name.
func (s *Store) Save(cameraName, name string, p Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.presets[cameraName] == nil {
		s.presets[cameraName] = make(map[string]Preset)
	}
	s.presets[cameraName][name] = p
	return s.saveUnlocked()
}

// Rename moves a preset to a new name. The rename is atomic: on any
// failure the old name remains intact.
func (s *Store) Rename(cameraName, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cams := s.presets[cameraName]
	pos, ok := cams[oldName]
	if !ok {
		return fmt.Errorf("%w: %q for camera %q", ErrPresetNotFound, oldName, cameraName)
	}
	if _, exists := cams[newName]; exists {
		return fmt.Errorf("preset %q already exists for camera %q", newName, cameraName)
	}

	cams[newName] = pos
	delete(cams, oldName)
	if err := s.saveUnlocked(); err != nil {
		cams[oldName] = pos
		delete(cams, newName)
		return err
	}
	return nil
}

// Delete removes a preset. Deleting a missing preset is an error so typos
// surface to the caller.
func (s *Store) Delete(cameraName, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[cameraName][preset]; !ok {
		return fmt.Errorf("%w: %q for camera %q", ErrPresetNotFound, preset, cameraName)
	}
	delete(s.presets[cameraName], preset)
	if len(s.presets[cameraName]) == 0 {
		delete(s.presets, cameraName)
	}
	return s.saveUnlocked()
}

// Forget drops all presets for a camera. Used when the camera leaves the
// registry. Forgetting an unknown camera is a no-op.
func (s *Store) Forget(cameraName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[cameraName]; !ok {
		return nil
	}
	delete(s.presets, cameraName)
	return s.saveUnlocked()
}
