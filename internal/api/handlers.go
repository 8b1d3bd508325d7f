// Package api exposes HTTP handlers for the exercise log service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/ptlog/internal/auth"
	"example.com/ptlog/internal/domain"
	"example.com/ptlog/internal/observability"
	"example.com/ptlog/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", h.logs)
	mux.HandleFunc("/v1/logs/batch", h.ingestBatch)
	mux.HandleFunc("/v1/logs/", h.logByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.ingestLog(w, r)
	case http.MethodGet:
		h.listLogs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) logByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/logs/")
	if id == "" || id == "batch" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing log id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getLog(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) ingestLog(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.writeClaims(w, r)
	if !ok {
		return
	}

	var req LogRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	record, ok := h.resolveRecord(w, claims, req)
	if !ok {
		return
	}

	result, err := h.service.IngestLog(r.Context(), claims.Subject, record)
	observability.RecordIngestOutcome(string(result.Outcome))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, "validation_failed", result.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", result.Reason)
		return
	}

	if result.Outcome == domain.OutcomeDuplicate {
		writeJSON(w, http.StatusConflict, IngestResponse{
			LogID:            result.LogID,
			ClientMutationID: record.ClientMutationID,
			Outcome:          string(result.Outcome),
		})
		return
	}

	persisted, err := h.service.GetLog(r.Context(), record.PatientID, result.LogID)
	if err != nil {
		// The insert committed; report success with the ids we have.
		writeJSON(w, http.StatusCreated, IngestResponse{
			LogID:            result.LogID,
			ClientMutationID: record.ClientMutationID,
			Outcome:          string(result.Outcome),
		})
		return
	}
	writeJSON(w, http.StatusCreated, IngestResponse{
		LogID:            result.LogID,
		ClientMutationID: record.ClientMutationID,
		Outcome:          string(result.Outcome),
		Log:              toLogView(persisted),
	})
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.writeClaims(w, r)
	if !ok {
		return
	}

	var req BatchIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "records must not be empty")
		return
	}

	// Records are independent: one failure never aborts the others.
	results := make([]BatchItemResult, 0, len(req.Records))
	failed := 0
	for _, item := range req.Records {
		record, err := h.buildRecord(claims, item)
		if err != nil {
			results = append(results, BatchItemResult{
				ClientMutationID: item.ClientMutationID,
				Outcome:          string(domain.OutcomeFailed),
				Error:            err.Error(),
			})
			observability.RecordIngestOutcome(string(domain.OutcomeFailed))
			failed++
			continue
		}

		result, err := h.service.IngestLog(r.Context(), claims.Subject, record)
		observability.RecordIngestOutcome(string(result.Outcome))
		entry := BatchItemResult{
			ClientMutationID: record.ClientMutationID,
			Outcome:          string(result.Outcome),
			LogID:            result.LogID,
		}
		if err != nil {
			entry.Error = result.Reason
			failed++
		}
		results = append(results, entry)
	}

	writeJSON(w, http.StatusOK, BatchIngestResponse{
		Results:   results,
		Processed: len(results) - failed,
		Failed:    failed,
	})
}

// writeClaims authorizes a write request and returns the caller claims.
func (h *Handler) writeClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope logs:write required")
		return nil, false
	}
	return claims, true
}

// resolveRecord builds the domain record and enforces delegate submission
// rules, writing the error response itself on failure.
func (h *Handler) resolveRecord(w http.ResponseWriter, claims *auth.Claims, req LogRecordRequest) (domain.ExerciseLog, bool) {
	record, err := h.buildRecord(claims, req)
	if err != nil {
		if errors.Is(err, errDelegateScope) {
			writeError(w, http.StatusForbidden, "forbidden", err.Error())
			return domain.ExerciseLog{}, false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return domain.ExerciseLog{}, false
	}
	return record, true
}

var errDelegateScope = errors.New("scope logs:delegate required to submit for another patient")

func (h *Handler) buildRecord(claims *auth.Claims, req LogRecordRequest) (domain.ExerciseLog, error) {
	patientID := req.PatientID
	if patientID == "" {
		patientID = claims.Subject
	}
	if patientID != claims.Subject && !claims.HasScope(auth.ScopeLogsDelegate) {
		return domain.ExerciseLog{}, errDelegateScope
	}

	sets := make([]domain.Set, 0, len(req.Sets))
	for _, set := range req.Sets {
		entry := domain.Set{
			SetNumber:  set.SetNumber,
			Reps:       set.Reps,
			Seconds:    set.Seconds,
			Distance:   set.Distance,
			Side:       set.Side,
			ManualLog:  set.ManualLog,
			PartialRep: set.PartialRep,
		}
		if set.PerformedAt != nil {
			entry.PerformedAt = *set.PerformedAt
		}
		for _, param := range set.FormData {
			entry.FormData = append(entry.FormData, domain.Parameter{
				Name:  param.Name,
				Value: param.Value,
				Unit:  param.Unit,
			})
		}
		sets = append(sets, entry)
	}

	return domain.ExerciseLog{
		PatientID:        patientID,
		ExerciseID:       req.ExerciseID,
		ExerciseName:     req.ExerciseName,
		ActivityType:     domain.ActivityType(req.ActivityType),
		Notes:            req.Notes,
		PerformedAt:      req.PerformedAt,
		ClientMutationID: req.ClientMutationID,
		Sets:             sets,
	}, nil
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeLogsRead) && !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope logs:read required")
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		patientID = claims.Subject
	}
	if patientID != claims.Subject && !claims.HasScope(auth.ScopeLogsDelegate) && !claims.HasScope(auth.ScopeLogsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "not permitted for this patient")
		return
	}

	record, err := h.service.GetLog(r.Context(), patientID, id)
	if err != nil {
		if errors.Is(err, domain.ErrLogNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "exercise log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toLogView(record))
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeLogsRead) && !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope logs:read required")
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		patientID = claims.Subject
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursorToken := r.URL.Query().Get("cursor")
	cursor, err := persistence.DecodeCursor(cursorToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	summaries, next, err := h.service.ListLogs(r.Context(), patientID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]LogSummaryView, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, LogSummaryView{
			LogID:        summary.ID,
			PatientID:    summary.PatientID,
			ExerciseName: summary.ExerciseName,
			ActivityType: string(summary.ActivityType),
			PerformedAt:  summary.PerformedAt,
			CreatedAt:    summary.CreatedAt,
			SetCount:     summary.SetCount,
		})
	}

	writeJSON(w, http.StatusOK, ListLogsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// LogRecordRequest is the wire shape of one mutation record.
type LogRecordRequest struct {
	PatientID        string       `json:"patient_id,omitempty"`
	ExerciseID       *string      `json:"exercise_id,omitempty"`
	ExerciseName     string       `json:"exercise_name"`
	ActivityType     string       `json:"activity_type"`
	Notes            string       `json:"notes,omitempty"`
	PerformedAt      time.Time    `json:"performed_at"`
	ClientMutationID string       `json:"client_mutation_id"`
	Sets             []SetRequest `json:"sets"`
}

// SetRequest is the wire shape of one set within a record.
type SetRequest struct {
	SetNumber   int                `json:"set_number"`
	Reps        *int               `json:"reps,omitempty"`
	Seconds     *float64           `json:"seconds,omitempty"`
	Distance    *float64           `json:"distance,omitempty"`
	Side        string             `json:"side,omitempty"`
	ManualLog   bool               `json:"manual_log,omitempty"`
	PartialRep  bool               `json:"partial_rep,omitempty"`
	PerformedAt *time.Time         `json:"performed_at,omitempty"`
	FormData    []ParameterRequest `json:"form_data,omitempty"`
}

// ParameterRequest is the wire shape of one free-form parameter.
type ParameterRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// BatchIngestRequest is the payload for POST /v1/logs/batch.
type BatchIngestRequest struct {
	Records []LogRecordRequest `json:"records"`
}

// IngestResponse describes the response body for a single ingest.
type IngestResponse struct {
	LogID            string   `json:"log_id"`
	ClientMutationID string   `json:"client_mutation_id"`
	Outcome          string   `json:"outcome"`
	Log              *LogView `json:"log,omitempty"`
}

// BatchItemResult is the per-record outcome within a batch response.
type BatchItemResult struct {
	ClientMutationID string `json:"client_mutation_id"`
	Outcome          string `json:"outcome"`
	LogID            string `json:"log_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BatchIngestResponse packages batch results with summary counts.
type BatchIngestResponse struct {
	Results   []BatchItemResult `json:"results"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
}

// LogView exposes a persisted log including generated identifiers.
type LogView struct {
	LogID            string    `json:"log_id"`
	PatientID        string    `json:"patient_id"`
	ExerciseID       *string   `json:"exercise_id,omitempty"`
	ExerciseName     string    `json:"exercise_name"`
	ActivityType     string    `json:"activity_type"`
	Notes            string    `json:"notes,omitempty"`
	PerformedAt      time.Time `json:"performed_at"`
	ClientMutationID string    `json:"client_mutation_id"`
	CreatedAt        time.Time `json:"created_at"`
	Sets             []SetView `json:"sets"`
}

// SetView exposes a persisted set.
type SetView struct {
	SetID       string          `json:"set_id"`
	SetNumber   int             `json:"set_number"`
	Reps        *int            `json:"reps,omitempty"`
	Seconds     *float64        `json:"seconds,omitempty"`
	Distance    *float64        `json:"distance,omitempty"`
	Side        string          `json:"side,omitempty"`
	ManualLog   bool            `json:"manual_log"`
	PartialRep  bool            `json:"partial_rep"`
	PerformedAt time.Time       `json:"performed_at"`
	FormData    []ParameterView `json:"form_data,omitempty"`
}

// ParameterView exposes a persisted parameter.
type ParameterView struct {
	ParameterID string `json:"parameter_id"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Unit        string `json:"unit,omitempty"`
}

// LogSummaryView is the list-view projection.
type LogSummaryView struct {
	LogID        string    `json:"log_id"`
	PatientID    string    `json:"patient_id"`
	ExerciseName string    `json:"exercise_name"`
	ActivityType string    `json:"activity_type"`
	PerformedAt  time.Time `json:"performed_at"`
	CreatedAt    time.Time `json:"created_at"`
	SetCount     int       `json:"set_count"`
}

// ListLogsResponse packages list results.
type ListLogsResponse struct {
	Items      []LogSummaryView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toLogView(record *domain.ExerciseLog) *LogView {
	view := &LogView{
		LogID:            record.ID,
		PatientID:        record.PatientID,
		ExerciseID:       record.ExerciseID,
		ExerciseName:     record.ExerciseName,
		ActivityType:     string(record.ActivityType),
		Notes:            record.Notes,
		PerformedAt:      record.PerformedAt,
		ClientMutationID: record.ClientMutationID,
		CreatedAt:        record.CreatedAt,
		Sets:             make([]SetView, 0, len(record.Sets)),
	}
	for _, set := range record.Sets {
		setView := SetView{
			SetID:       set.ID,
			SetNumber:   set.SetNumber,
			Reps:        set.Reps,
			Seconds:     set.Seconds,
			Distance:    set.Distance,
			Side:        set.Side,
			ManualLog:   set.ManualLog,
			PartialRep:  set.PartialRep,
			PerformedAt: set.PerformedAt,
		}
		for _, param := range set.FormData {
			setView.FormData = append(setView.FormData, ParameterView{
				ParameterID: param.ID,
				Name:        param.Name,
				Value:       param.Value,
				Unit:        param.Unit,
			})
		}
		view.Sets = append(view.Sets, setView)
	}
	return view
}
