package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
	"github.com/camhub-project/camhub/internal/motion"
	"github.com/camhub-project/camhub/internal/ptz"
)

// Server hosts the REST API and the WebSocket event stream.
type Server struct {
	cfg      *config.Config
	registry *camera.Registry
	factory  *camera.Factory
	ptz      *ptz.Service
	motion   *motion.Service
	hub      *Hub
	logger   *slog.Logger

	onLifecycle func(event string, status camera.Status)

	httpServer *http.Server
}

// NewServer wires the API over the hub's services. The WebSocket hub is
// started here; motion events reach connected clients through it.
func NewServer(cfg *config.Config, registry *camera.Registry, factory *camera.Factory, ptzSvc *ptz.Service, motionSvc *motion.Service) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		ptz:      ptzSvc,
		motion:   motionSvc,
		hub:      NewHub(),
		logger:   slog.Default().With("component", "api"),
	}
	go s.hub.Run()

	motionSvc.OnEvent(func(ev motion.Event) {
		s.hub.BroadcastToCamera(ev.Camera, Message{
			Type: MessageTypeMotion,
			Data: ev,
		})
	})

	return s
}

// OnLifecycle registers a callback for camera lifecycle changes driven
// through the API (added, removed, connected, disconnected).
func (s *Server) OnLifecycle(fn func(event string, status camera.Status)) {
	s.onLifecycle = fn
}

// notifyLifecycle broadcasts the change to every WebSocket client and the
// registered callback. Lifecycle changes go to all clients, not just the
// camera's subscribers: a removed camera no longer has any.
func (s *Server) notifyLifecycle(event string, status camera.Status) {
	s.hub.Broadcast(Message{
		Type: MessageTypeCameraState,
		Data: map[string]interface{}{"event": event, "status": status},
	})
	if s.onLifecycle != nil {
		s.onLifecycle(event, status)
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/types", s.handleTypes)

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)
			r.Post("/", s.handleAddCamera)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetCamera)
				r.Delete("/", s.handleRemoveCamera)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Get("/stream", s.handleStreamURL)

				r.Route("/ptz", func(r chi.Router) {
					r.Post("/move", s.handlePTZMove)
					r.Post("/stop", s.handlePTZStop)
					r.Get("/position", s.handlePTZPosition)
					r.Get("/presets", s.handleVendorPresets)
					r.Post("/presets/{token}/goto", s.handleGoToVendorPreset)
				})

				r.Route("/presets", func(r chi.Router) {
					r.Get("/", s.handleListPresets)
					r.Put("/{preset}", s.handleSavePreset)
					r.Post("/{preset}/goto", s.handleGoToPreset)
					r.Post("/{preset}/rename", s.handleRenamePreset)
					r.Delete("/{preset}", s.handleDeletePreset)
				})

				r.Route("/motion", func(r chi.Router) {
					r.Post("/subscribe", s.handleSubscribe)
					r.Post("/unsubscribe", s.handleUnsubscribe)
				})
			})
		})

		r.Get("/motion/status", s.handleMotionStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.hub.HandleWebSocket)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.API.CORSOrigins) > 0 {
		return s.cfg.API.CORSOrigins
	}
	return []string{"*"}
}

// Start begins serving. It returns once the listener fails or Stop is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Host, s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
