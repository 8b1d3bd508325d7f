package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/ptlog/internal/auth"
	"example.com/ptlog/internal/domain"
)

type stubRepo struct {
	byMutation map[string]string
	logs       map[string]domain.ExerciseLog
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byMutation: make(map[string]string),
		logs:       make(map[string]domain.ExerciseLog),
	}
}

func (s *stubRepo) Ingest(ctx context.Context, record domain.ExerciseLog) (string, bool, error) {
	key := record.PatientID + "|" + record.ClientMutationID
	if existing, ok := s.byMutation[key]; ok {
		return existing, true, nil
	}
	s.byMutation[key] = record.ID
	s.logs[record.ID] = record
	return record.ID, false, nil
}

func (s *stubRepo) Get(ctx context.Context, patientID, logID string) (*domain.ExerciseLog, error) {
	record, ok := s.logs[logID]
	if !ok || record.PatientID != patientID {
		return nil, nil
	}
	return &record, nil
}

func (s *stubRepo) ListByPatient(ctx context.Context, patientID string, cursor *domain.Cursor, limit int) ([]domain.LogSummary, *domain.Cursor, error) {
	summaries := make([]domain.LogSummary, 0)
	for _, record := range s.logs {
		if record.PatientID == patientID {
			summaries = append(summaries, domain.LogSummary{
				ID:           record.ID,
				PatientID:    record.PatientID,
				ExerciseName: record.ExerciseName,
				ActivityType: record.ActivityType,
				PerformedAt:  record.PerformedAt,
				SetCount:     len(record.Sets),
			})
		}
	}
	return summaries, nil, nil
}

func newTestHandler() (*Handler, *stubRepo) {
	repo := newStubRepo()
	return NewHandler(domain.NewService(repo, nil, nil)), repo
}

func patientClaims(subject string, scopes ...string) *auth.Claims {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	return &auth.Claims{
		Subject:   subject,
		Role:      "patient",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func holdRecordBody() map[string]interface{} {
	return map[string]interface{}{
		"exercise_name":      "Plank Hold",
		"activity_type":      "hold",
		"performed_at":       "2026-03-04T09:30:00Z",
		"client_mutation_id": "abc-1",
		"sets": []map[string]interface{}{
			{
				"set_number": 1,
				"reps":       3,
				"seconds":    10,
				"form_data":  []map[string]string{{"name": "band_color", "value": "blue"}},
			},
			{
				"set_number": 2,
				"reps":       3,
				"seconds":    12,
			},
		},
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, claims *auth.Claims, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}

	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestIngestLogPersists(t *testing.T) {
	handler, _ := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsWrite)

	rr := postJSON(t, handler.ingestLog, "/v1/logs", claims, holdRecordBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "persisted", resp.Outcome)
	require.Equal(t, "abc-1", resp.ClientMutationID)
	require.NotEmpty(t, resp.LogID)
	require.NotNil(t, resp.Log)
	require.Len(t, resp.Log.Sets, 2)

	// The parameter stays bound to set 1, where it was captured.
	require.Len(t, resp.Log.Sets[0].FormData, 1)
	require.Equal(t, "band_color", resp.Log.Sets[0].FormData[0].Name)
	require.Empty(t, resp.Log.Sets[1].FormData)
}

func TestIngestLogDuplicateReturnsConflict(t *testing.T) {
	handler, repo := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsWrite)

	first := postJSON(t, handler.ingestLog, "/v1/logs", claims, holdRecordBody())
	require.Equal(t, http.StatusCreated, first.Code)

	second := postJSON(t, handler.ingestLog, "/v1/logs", claims, holdRecordBody())
	require.Equal(t, http.StatusConflict, second.Code, second.Body.String())

	var firstResp, secondResp IngestResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	require.Equal(t, "duplicate", secondResp.Outcome)
	require.Equal(t, firstResp.LogID, secondResp.LogID)
	require.Len(t, repo.logs, 1)
}

func TestIngestLogValidationFailure(t *testing.T) {
	handler, repo := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsWrite)

	body := holdRecordBody()
	body["sets"] = []map[string]interface{}{}

	rr := postJSON(t, handler.ingestLog, "/v1/logs", claims, body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "sets must not be empty")
	require.Empty(t, repo.logs)
}

func TestIngestLogRequiresWriteScope(t *testing.T) {
	handler, _ := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsRead)

	rr := postJSON(t, handler.ingestLog, "/v1/logs", claims, holdRecordBody())
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestIngestLogDelegateScope(t *testing.T) {
	handler, _ := newTestHandler()

	body := holdRecordBody()
	body["patient_id"] = "patient-2"

	// A therapist without the delegate scope may not submit for another patient.
	rr := postJSON(t, handler.ingestLog, "/v1/logs", patientClaims("therapist-1", auth.ScopeLogsWrite), body)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "logs:delegate")

	rr = postJSON(t, handler.ingestLog, "/v1/logs", patientClaims("therapist-1", auth.ScopeLogsWrite, auth.ScopeLogsDelegate), body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "patient-2", resp.Log.PatientID)
}

func TestIngestBatchProcessesItemsIndependently(t *testing.T) {
	handler, repo := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsWrite)

	good := holdRecordBody()
	bad := holdRecordBody()
	bad["client_mutation_id"] = "abc-2"
	bad["activity_type"] = "unknown"
	dup := holdRecordBody()

	rr := postJSON(t, handler.ingestBatch, "/v1/logs/batch", claims, map[string]interface{}{
		"records": []map[string]interface{}{good, bad, dup},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp BatchIngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	require.Equal(t, 2, resp.Processed)
	require.Equal(t, 1, resp.Failed)

	require.Equal(t, "persisted", resp.Results[0].Outcome)
	require.Equal(t, "failed", resp.Results[1].Outcome)
	require.Contains(t, resp.Results[1].Error, "activity_type")
	require.Equal(t, "duplicate", resp.Results[2].Outcome)
	require.Equal(t, resp.Results[0].LogID, resp.Results[2].LogID)

	require.Len(t, repo.logs, 1)
}

func TestGetLogNotFound(t *testing.T) {
	handler, _ := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsRead)

	req := httptest.NewRequest(http.MethodGet, "/v1/logs/"+uuid.NewString(), nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))

	rr := httptest.NewRecorder()
	handler.logByID(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListLogsRejectsInvalidCursor(t *testing.T) {
	handler, _ := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsRead)

	req := httptest.NewRequest(http.MethodGet, "/v1/logs?cursor=%25bad%25", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))

	rr := httptest.NewRecorder()
	handler.listLogs(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid cursor")
}

func TestListLogsReturnsSummaries(t *testing.T) {
	handler, _ := newTestHandler()
	claims := patientClaims("patient-1", auth.ScopeLogsWrite)

	rr := postJSON(t, handler.ingestLog, "/v1/logs", claims, holdRecordBody())
	require.Equal(t, http.StatusCreated, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/logs", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))

	list := httptest.NewRecorder()
	handler.listLogs(list, req)
	require.Equal(t, http.StatusOK, list.Code)

	var resp ListLogsResponse
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, 2, resp.Items[0].SetCount)
}
