package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratumbio/teskit/internal/provision"
	"github.com/stratumbio/teskit/internal/store"
)

// initializeProvisionResponse is the JSON body returned by
// POST /v1/provision/initialize.
type initializeProvisionResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleInitializeProvision(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The payload may name a backend kind; otherwise the configured default
	// backend is provisioned.
	var envelope struct {
		Backend string `json:"backend"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := envelope.Backend
	if kind == "" {
		kind = s.defaultBackend
	}

	guid, err := s.provisioner.Initialize(r.Context(), kind, payload)
	if err != nil {
		var verr *provision.ErrValidation
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("initialize provisioning", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to initialize provisioning")
		return
	}

	s.writeJSON(w, http.StatusAccepted, initializeProvisionResponse{ID: guid})
}

func (s *Server) handleQueryProvision(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	req, err := s.provisioner.Query(r.Context(), guid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "provisioning request not found")
		return
	}
	if err != nil {
		s.logger.Error("query provisioning", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query provisioning")
		return
	}

	s.writeJSON(w, http.StatusOK, req)
}
