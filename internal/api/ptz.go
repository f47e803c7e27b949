package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camhub-project/camhub/internal/camera"
)

func (s *Server) handlePTZMove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var v camera.PTZPosition
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := s.ptz.Move(r.Context(), name, v); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"status": "moving"})
}

func (s *Server) handlePTZStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.ptz.Stop(r.Context(), name); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"status": "stopped"})
}

func (s *Server) handlePTZPosition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pos, err := s.ptz.Position(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]interface{}{
		"position": pos,
		"known":    pos != nil,
	})
}

func (s *Server) handleVendorPresets(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	presets, err := s.ptz.VendorPresets(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	OK(w, presets)
}

func (s *Server) handleGoToVendorPreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	token := chi.URLParam(r, "token")
	if err := s.ptz.GoToVendorPreset(r.Context(), name, token); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"status": "moving"})
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	OK(w, s.ptz.ListPresets(name))
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	preset := chi.URLParam(r, "preset")

	// Body is optional; a bare PUT saves the preset without a description.
	var body struct {
		Description string `json:"description"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.ptz.SavePreset(r.Context(), name, preset, body.Description); err != nil {
		writeErr(w, err)
		return
	}
	Created(w, map[string]string{"preset": preset})
}

func (s *Server) handleGoToPreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	preset := chi.URLParam(r, "preset")
	if err := s.ptz.GoToPreset(r.Context(), name, preset); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"status": "moving"})
}

func (s *Server) handleRenamePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	preset := chi.URLParam(r, "preset")

	var body struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewName == "" {
		BadRequest(w, "new_name is required")
		return
	}

	if err := s.ptz.RenamePreset(name, preset, body.NewName); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"preset": body.NewName})
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	preset := chi.URLParam(r, "preset")
	if err := s.ptz.DeletePreset(name, preset); err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]string{"deleted": preset})
}
