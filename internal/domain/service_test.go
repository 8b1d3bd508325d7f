package domain

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	byMutation map[string]string // (patient|mutation) -> log id
	ingested   []ExerciseLog
	err        error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byMutation: make(map[string]string)}
}

func (f *fakeRepo) Ingest(ctx context.Context, record ExerciseLog) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	key := record.PatientID + "|" + record.ClientMutationID
	if existing, ok := f.byMutation[key]; ok {
		return existing, true, nil
	}
	f.byMutation[key] = record.ID
	f.ingested = append(f.ingested, record)
	return record.ID, false, nil
}

func (f *fakeRepo) Get(ctx context.Context, patientID, logID string) (*ExerciseLog, error) {
	for i := range f.ingested {
		if f.ingested[i].ID == logID && f.ingested[i].PatientID == patientID {
			return &f.ingested[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListByPatient(ctx context.Context, patientID string, cursor *Cursor, limit int) ([]LogSummary, *Cursor, error) {
	return nil, nil, nil
}

type recordingAudit struct {
	entries []AuditEntry
	err     error
}

func (a *recordingAudit) Record(ctx context.Context, entry AuditEntry) error {
	a.entries = append(a.entries, entry)
	return a.err
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestIngestLogPersistsAndAssignsIdentifiers(t *testing.T) {
	repo := newFakeRepo()
	audit := &recordingAudit{}
	service := NewService(repo, audit, quietLogger())

	record := validRecord()
	record.Sets[0].FormData = []Parameter{{Name: "band_color", Value: "blue"}}

	result, err := service.IngestLog(context.Background(), "patient-1", record)
	require.NoError(t, err)
	require.Equal(t, OutcomePersisted, result.Outcome)
	require.NotEmpty(t, result.LogID)

	require.Len(t, repo.ingested, 1)
	stored := repo.ingested[0]
	require.Equal(t, result.LogID, stored.ID)
	for _, set := range stored.Sets {
		require.NotEmpty(t, set.ID)
		for _, param := range set.FormData {
			require.NotEmpty(t, param.ID)
		}
	}
}

func TestIngestLogResolvesDuplicate(t *testing.T) {
	repo := newFakeRepo()
	service := NewService(repo, nil, quietLogger())

	first, err := service.IngestLog(context.Background(), "patient-1", validRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomePersisted, first.Outcome)

	second, err := service.IngestLog(context.Background(), "patient-1", validRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, second.Outcome)
	require.Equal(t, first.LogID, second.LogID)
	require.Len(t, repo.ingested, 1)
}

func TestIngestLogRejectsInvalidBeforePersistence(t *testing.T) {
	repo := newFakeRepo()
	audit := &recordingAudit{}
	service := NewService(repo, audit, quietLogger())

	record := validRecord()
	record.Sets = nil

	result, err := service.IngestLog(context.Background(), "patient-1", record)
	require.ErrorIs(t, err, ErrInvalidRecord)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Empty(t, repo.ingested)

	// Failed attempts still reach the ledger.
	require.Len(t, audit.entries, 1)
	require.Equal(t, OutcomeFailed, audit.entries[0].Outcome)
	require.NotEmpty(t, audit.entries[0].Error)
}

func TestIngestLogDefaultsSetPerformedAt(t *testing.T) {
	repo := newFakeRepo()
	service := NewService(repo, nil, quietLogger())

	record := validRecord()
	explicit := record.PerformedAt.Add(-10 * time.Minute)
	record.Sets[0].PerformedAt = explicit

	_, err := service.IngestLog(context.Background(), "patient-1", record)
	require.NoError(t, err)

	stored := repo.ingested[0]
	require.Equal(t, explicit, stored.Sets[0].PerformedAt)
	require.Equal(t, record.PerformedAt, stored.Sets[1].PerformedAt)
}

func TestIngestLogAuditFailureDoesNotChangeOutcome(t *testing.T) {
	repo := newFakeRepo()
	audit := &recordingAudit{err: errors.New("ledger unavailable")}
	service := NewService(repo, audit, quietLogger())

	result, err := service.IngestLog(context.Background(), "patient-1", validRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomePersisted, result.Outcome)
	require.Len(t, audit.entries, 1)
}

func TestIngestLogRepositoryFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("connection reset")
	audit := &recordingAudit{}
	service := NewService(repo, audit, quietLogger())

	result, err := service.IngestLog(context.Background(), "patient-1", validRecord())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidRecord)
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Equal(t, "connection reset", result.Reason)

	require.Len(t, audit.entries, 1)
	require.Equal(t, OutcomeFailed, audit.entries[0].Outcome)
}

func TestGetLogNotFound(t *testing.T) {
	service := NewService(newFakeRepo(), nil, quietLogger())
	_, err := service.GetLog(context.Background(), "patient-1", "missing")
	require.ErrorIs(t, err, ErrLogNotFound)
}
