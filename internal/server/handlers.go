package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/policy"
	"github.com/meridian-data/meridian/pkg/records"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// entityView is the read model for one declared entity type.
type entityView struct {
	Keys     []string   `json:"keys"`
	Policies policy.Set `json:"policies,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCanonize handles POST /v1/canonize.
func (s *Server) handleCanonize(w http.ResponseWriter, r *http.Request) {
	var request records.Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, errors.NewValidationError("decode", "invalid request body", err))
		return
	}
	if request.Fragment.EntityType == "" {
		s.writeError(w, errors.NewValidationError("decode", "fragment entity type is required", nil))
		return
	}

	result, err := s.engine.Canonize(r.Context(), &request)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("entity_type", request.Fragment.EntityType).
			Str("correlation_id", request.CorrelationID).
			Msg("Canonization failed")
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == records.OutcomeCreated {
		status = http.StatusCreated
	}
	if result.Outcome == records.OutcomeParked || result.Outcome == records.OutcomeRequiresReview {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, result)
}

// handleEntities handles GET /v1/entities.
func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	views := make(map[string]entityView)
	for entityType, definition := range s.engine.Entities() {
		views[entityType] = entityView{Keys: definition.Keys, Policies: definition.Policies}
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleRecord handles GET /v1/records/{id}, following superseded redirects
// to the surviving record.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := records.CanonicalID(chi.URLParam(r, "id"))
	record, err := s.engine.Record(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleParked handles GET /v1/staging/{correlationID}.
func (s *Server) handleParked(w http.ResponseWriter, r *http.Request) {
	parked, err := s.engine.Parked(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, parked)
}

// handleReplay handles GET /v1/replay/{entityType}, streaming the retained
// history as NDJSON, oldest first. Optional from and to query parameters are
// RFC 3339 bounds.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	encoder := json.NewEncoder(w)
	for event := range s.engine.Replay(chi.URLParam(r, "entityType"), from, to) {
		if err := encoder.Encode(event); err != nil {
			s.logger.Error().Err(err).Msg("Replay stream write failed")
			return
		}
	}
}

// parseTimeParam parses an optional RFC 3339 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.NewValidationError("replay", "invalid "+name+" bound: "+value, err)
	}
	return t, nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Response write failed")
	}
}

// writeError maps domain errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrUnknownEntityType):
		status = http.StatusNotFound
	case errors.IsValidation(err), errors.IsConfiguration(err):
		status = http.StatusBadRequest
	case errors.IsIdentity(err):
		status = http.StatusUnprocessableEntity
	case errors.IsCASConflict(err):
		status = http.StatusConflict
	case errors.IsAuditWrite(err):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
