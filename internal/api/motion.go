package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	subscribed, err := s.motion.Subscribe(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	OK(w, map[string]interface{}{
		"camera":     name,
		"subscribed": subscribed,
		"state":      s.motion.State(name),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.motion.Unsubscribe(r.Context(), name)
	OK(w, map[string]interface{}{
		"camera": name,
		"state":  s.motion.State(name),
	})
}

func (s *Server) handleMotionStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.motion.States())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cameraName := r.URL.Query().Get("camera")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	OK(w, s.motion.Events(cameraName, limit))
}
