// Package config provides configuration management for the camera hub
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main hub configuration
type Config struct {
	Version string         `yaml:"version"`
	System  SystemConfig   `yaml:"system"`
	API     APIConfig      `yaml:"api"`
	Bus     BusConfig      `yaml:"bus"`
	Motion  MotionConfig   `yaml:"motion"`
	Presets PresetsConfig  `yaml:"presets"`
	Cameras []CameraConfig `yaml:"cameras"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name    string        `yaml:"name"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// BusConfig holds embedded event bus settings
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MotionConfig holds motion subscription settings
type MotionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PullWait     time.Duration `yaml:"pull_wait"`
	BatchLimit   int           `yaml:"batch_limit"`
	BufferSize   int           `yaml:"buffer_size"`
}

// PresetsConfig holds custom PTZ preset storage settings
type PresetsConfig struct {
	Path string `yaml:"path"`
}

// CameraConfig holds the declarative definition of a single camera.
// Params is an opaque connection-parameter map; each variant constructor
// pulls out the keys it understands.
type CameraConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Params  map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Param returns a connection parameter, or "" when absent.
func (c CameraConfig) Param(key string) string {
	return c.Params[key]
}

// ParamInt returns an integer connection parameter, or def when absent or
// unparseable.
func (c CameraConfig) ParamInt(key string, def int) int {
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Default returns a configuration with all defaults applied, bound to
// path for saving. Used on first start when no config file exists yet.
func Default(path string) *Config {
	cfg := &Config{path: path}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	return &cfg, nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	// Create a copy for saving (without mutex)
	cfgCopy := &Config{
		Version: c.Version,
		System:  c.System,
		API:     c.API,
		Bus:     c.Bus,
		Motion:  c.Motion,
		Presets: c.Presets,
		Cameras: c.Cameras,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Camera Hub Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.API = newCfg.API
	c.Bus = newCfg.Bus
	c.Motion = newCfg.Motion
	c.Presets = newCfg.Presets
	c.Cameras = newCfg.Cameras
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetCamera returns a camera definition by name
func (c *Config) GetCamera(name string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].Name == name {
			return &c.Cameras[i]
		}
	}
	return nil
}

// UpsertCamera adds or updates a camera definition
func (c *Config) UpsertCamera(cam CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].Name == cam.Name {
			c.Cameras[i] = cam
			return c.saveUnlocked()
		}
	}

	c.Cameras = append(c.Cameras, cam)
	return c.saveUnlocked()
}

// RemoveCamera removes a camera definition by name
func (c *Config) RemoveCamera(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].Name == name {
			c.Cameras = append(c.Cameras[:i], c.Cameras[i+1:]...)
			return c.saveUnlocked()
		}
	}

	return fmt.Errorf("camera not found: %s", name)
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "camhub"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12101
	}
	if c.Motion.PollInterval == 0 {
		c.Motion.PollInterval = time.Second
	}
	if c.Motion.PullWait == 0 {
		c.Motion.PullWait = 5 * time.Second
	}
	if c.Motion.BatchLimit == 0 {
		c.Motion.BatchLimit = 10
	}
	if c.Motion.BufferSize == 0 {
		c.Motion.BufferSize = 100
	}
	if c.Presets.Path == "" {
		c.Presets.Path = "presets.yaml"
	}
}
