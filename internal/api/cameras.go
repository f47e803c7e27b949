package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camhub-project/camhub/internal/camera"
	"github.com/camhub-project/camhub/internal/config"
	"github.com/camhub-project/camhub/internal/ptz"
)

// writeErr maps service errors onto the envelope. Unknown errors are
// reported as internal without leaking detail beyond the message.
func writeErr(w http.ResponseWriter, err error) {
	var connErr *camera.ConnectError
	switch {
	case errors.Is(err, camera.ErrNotFound), errors.Is(err, ptz.ErrPresetNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, camera.ErrNotSupported):
		NotSupported(w, err.Error())
	case errors.Is(err, camera.ErrInvalidPosition), errors.Is(err, camera.ErrUnknownType):
		BadRequest(w, err.Error())
	case errors.As(err, &connErr):
		BadGateway(w, err.Error())
	default:
		InternalError(w, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]interface{}{
		"status":  "ok",
		"cameras": len(s.registry.Names()),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	OK(w, s.factory.Types())
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	OK(w, s.registry.List())
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var cfg config.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if cfg.Name == "" || cfg.Type == "" {
		BadRequest(w, "name and type are required")
		return
	}

	added, err := s.registry.Add(cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !added {
		Conflict(w, "camera already exists: "+cfg.Name)
		return
	}

	if err := s.cfg.UpsertCamera(cfg); err != nil {
		s.logger.Error("Failed to persist camera", "camera", cfg.Name, "error", err)
	}

	cam, _ := s.registry.Get(cfg.Name)
	st := cam.Status()
	s.notifyLifecycle("added", st)
	Created(w, st)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cam, ok := s.registry.Get(name)
	if !ok {
		NotFound(w, "camera not found: "+name)
		return
	}
	OK(w, cam.Status())
}

func (s *Server) handleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.registry.Remove(r.Context(), name) {
		NotFound(w, "camera not found: "+name)
		return
	}
	if err := s.cfg.RemoveCamera(name); err != nil {
		s.logger.Debug("Camera was not persisted", "camera", name, "error", err)
	}
	s.notifyLifecycle("removed", camera.Status{Name: name})
	OK(w, map[string]string{"removed": name})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cam, ok := s.registry.Get(name)
	if !ok {
		NotFound(w, "camera not found: "+name)
		return
	}
	if err := cam.Connect(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	st := cam.Status()
	s.notifyLifecycle("connected", st)
	OK(w, st)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cam, ok := s.registry.Get(name)
	if !ok {
		NotFound(w, "camera not found: "+name)
		return
	}
	if err := cam.Disconnect(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	st := cam.Status()
	s.notifyLifecycle("disconnected", st)
	OK(w, st)
}

func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cam, ok := s.registry.Get(name)
	if !ok {
		NotFound(w, "camera not found: "+name)
		return
	}
	url, err := cam.StreamURL(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]interface{}{
		"url":       url,
		"available": url != "",
	})
}
