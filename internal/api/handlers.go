package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/infra/export"
	"github.com/vietddude/apiwatch/internal/mapping"
)

const (
	maxBodyBytes            = 4 << 20
	defaultObservationLimit = 100
)

type errorResponse struct {
	Error       string              `json:"error"`
	Field       string              `json:"field,omitempty"`
	Kind        domain.ErrorKind    `json:"kind,omitempty"`
	Observation *domain.Observation `json:"observation,omitempty"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("", "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		probeErr *domain.ProbeError
		valErr   *domain.ValidationError
	)
	switch {
	case errors.As(err, &probeErr):
		status := http.StatusBadGateway
		if probeErr.Kind == domain.ErrorKindTimeout {
			status = http.StatusGatewayTimeout
		}
		obs := probeErr.Observation
		writeJSON(w, status, errorResponse{Error: probeErr.Message, Kind: probeErr.Kind, Observation: &obs})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: valErr.Reason, Field: valErr.Field})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, export.ErrDisabled):
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// =============================================================================
// Connections
// =============================================================================

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var spec domain.ConnectionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.deps.Registry.Add(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConnectionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.deps.Registry.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	obs, err := s.deps.Poller.TestNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Registry.Get(id); err != nil {
		writeError(w, err)
		return
	}

	limit := defaultObservationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, domain.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	obs, err := s.deps.Observations.Window(r.Context(), id, limit, time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := s.deps.Registry.Transitions(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleOverall(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Overall())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.SnapshotAll())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.deps.Health.Snapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshot for " + id})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// Alerts
// =============================================================================

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, http.StatusOK, s.deps.Alerts.All())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":      s.deps.Alerts.Active(),
		"activeCount": s.deps.Alerts.ActiveCount(),
	})
}

func (s *Server) handleAlertRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Alerts.Rules())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := s.deps.Alerts.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	alert, err := s.deps.Alerts.Dismiss(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// =============================================================================
// Rate limits
// =============================================================================

type rateLimitResponse struct {
	domain.RateLimitState
	PercentUsed float64 `json:"percentUsed"`
	Prediction  any     `json:"prediction,omitempty"`
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	states := s.deps.RateLimits.All()
	out := make([]rateLimitResponse, 0, len(states))
	for _, st := range states {
		out = append(out, rateLimitResponse{RateLimitState: st, PercentUsed: st.PercentUsed()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.deps.RateLimits.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no rate limit configured for " + id})
		return
	}
	writeJSON(w, http.StatusOK, rateLimitResponse{
		RateLimitState: st,
		PercentUsed:    st.PercentUsed(),
		Prediction:     s.deps.RateLimits.Prediction(id),
	})
}

// =============================================================================
// Field mapping
// =============================================================================

type pathResponse struct {
	mapping.PathEntry
	Widgets []mapping.WidgetKind `json:"widgets"`
}

func describePaths(doc any) []pathResponse {
	out := []pathResponse{}
	for e := range mapping.EnumeratePaths(doc) {
		out = append(out, pathResponse{PathEntry: e, Widgets: mapping.SuggestWidgets(e.Type)})
	}
	return out
}

func readDocument(r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewValidationError("", "read body: %v", err)
	}
	doc, err := mapping.ParseDocument(body)
	if err != nil {
		return nil, domain.NewValidationError("", "%v", err)
	}
	return doc, nil
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	doc, err := readDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describePaths(doc))
}

func (s *Server) handleWidgets(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("type")
	if t == "" {
		writeJSON(w, http.StatusOK, mapping.Catalog())
		return
	}
	writeJSON(w, http.StatusOK, mapping.SuggestWidgets(domain.ValueType(t)))
}

// studio returns the mapping studio of an existing connection.
func (s *Server) studio(r *http.Request) (*mapping.Studio, error) {
	apiID := chi.URLParam(r, "apiId")
	if _, err := s.deps.Registry.Get(apiID); err != nil {
		return nil, err
	}
	return s.deps.Mappings.Studio(apiID), nil
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apiId":    st.APIID(),
		"mappings": st.List(),
		"values":   st.RenderAll(),
	})
}

func (s *Server) handleStudioPaths(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc := st.Document()
	if doc == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no response observed yet for " + st.APIID()})
		return
	}
	writeJSON(w, http.StatusOK, describePaths(doc))
}

type bindRequest struct {
	WidgetTypeID string              `json:"widgetTypeId"`
	SourcePath   string              `json:"sourceFieldPath"`
	Config       domain.WidgetConfig `json:"config"`
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req bindRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := st.Bind(mapping.WidgetKind(req.WidgetTypeID), req.SourcePath, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUnbind(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	if !st.Remove(mapping.WidgetKind(q.Get("widget")), q.Get("path")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "mapping not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := st.ExportAll()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="mappings-`+st.APIID()+`.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeError(w, export.ErrDisabled)
		return
	}
	name, err := s.deps.Reporter.ExportMappings(r.Context(), chi.URLParam(r, "apiId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, domain.NewValidationError("", "read body: %v", err))
		return
	}
	if err := st.ImportAll(data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.List())
}

// =============================================================================
// Reports
// =============================================================================

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeError(w, export.ErrDisabled)
		return
	}
	name, err := s.deps.Reporter.ExportReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}
