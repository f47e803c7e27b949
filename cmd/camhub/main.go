// Package main provides the camera hub entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camhub-project/camhub/internal/api"
	"github.com/camhub-project/camhub/internal/bus"
	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/camera/cloudcam"
	"github.com/camhub-project/camhub/internal/camera/doorbell"
	"github.com/camhub-project/camhub/internal/camera/onvifcam"
	"github.com/camhub-project/camhub/internal/camera/usbcam"
	"github.com/camhub-project/camhub/internal/config"
	"github.com/camhub-project/camhub/internal/motion"
	"github.com/camhub-project/camhub/internal/ptz"
	"github.com/camhub-project/camhub/internal/worker"
)

const version = "0.3.0"

// vendorPoolSize bounds concurrent vendor I/O across all cameras.
const vendorPoolSize = 8

func main() {
	configPath := flag.String("config", "camhub.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)
	slog.Info("Starting camera hub", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedded event bus for external automations
	var eventBus *bus.Bus
	if cfg.Bus.Enabled {
		eventBus, err = bus.Start(cfg.Bus)
		if err != nil {
			slog.Error("Failed to start event bus", "error", err)
			os.Exit(1)
		}
		defer eventBus.Stop()
	}

	// Camera variants register with the factory; nothing else in the hub
	// knows concrete device types.
	factory := camera.NewFactory()
	onvifcam.Register(factory)
	cloudcam.Register(factory)
	usbcam.Register(factory)
	doorbell.Register(factory)

	registry := camera.NewRegistry(factory)

	presetStore, err := ptz.NewStore(cfg.Presets.Path)
	if err != nil {
		slog.Error("Failed to open preset store", "path", cfg.Presets.Path, "error", err)
		os.Exit(1)
	}

	pool := worker.NewPool(vendorPoolSize)
	ptzService := ptz.NewService(registry, presetStore, pool)
	motionService := motion.NewService(registry, cfg.Motion)

	if eventBus != nil {
		motionService.OnEvent(func(ev motion.Event) {
			eventBus.Publish(bus.SubjectMotion, ev)
		})
	}

	syncCameras(ctx, cfg, registry)
	connectEnabled(ctx, cfg, registry)

	cfg.OnChange(func(updated *config.Config) {
		syncCameras(ctx, updated, registry)
		if eventBus != nil {
			eventBus.Publish(bus.SubjectConfigChanged, map[string]string{"path": *configPath})
		}
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config hot-reload unavailable", "error", err)
	}

	server := api.NewServer(cfg, registry, factory, ptzService, motionService)
	if eventBus != nil {
		server.OnLifecycle(func(event string, status camera.Status) {
			eventBus.Publish(bus.SubjectLifecycle(event), status)
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Warn("API server shutdown failed", "error", err)
	}
	motionService.Shutdown(shutdownCtx)
	registry.Shutdown(shutdownCtx)

	slog.Info("Camera hub stopped")
}

// loadConfig reads the config file, writing a default one on first start.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = config.Default(path)
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	slog.Info("Wrote default configuration", "path", path)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.System.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.System.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// syncCameras reconciles the registry against the declarative camera list:
// configured cameras are added, cameras no longer configured are removed.
func syncCameras(ctx context.Context, cfg *config.Config, registry *camera.Registry) {
	configured := make(map[string]bool, len(cfg.Cameras))
	for _, camCfg := range cfg.Cameras {
		configured[camCfg.Name] = true
		if _, err := registry.Add(camCfg); err != nil {
			slog.Error("Failed to add camera", "camera", camCfg.Name, "error", err)
		}
	}

	for _, name := range registry.Names() {
		if !configured[name] {
			registry.Remove(ctx, name)
		}
	}
}

// connectEnabled connects enabled cameras in the background. A camera that
// fails to connect stays registered and retryable through the API.
func connectEnabled(ctx context.Context, cfg *config.Config, registry *camera.Registry) {
	for _, camCfg := range cfg.Cameras {
		if !camCfg.Enabled {
			continue
		}
		cam, ok := registry.Get(camCfg.Name)
		if !ok {
			continue
		}
		go func(cam camera.Camera) {
			connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := cam.Connect(connectCtx); err != nil {
				slog.Warn("Initial connect failed", "camera", cam.Name(), "error", err)
			}
		}(cam)
	}
}
