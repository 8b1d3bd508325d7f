// Package domain defines the business logic for the exercise log service.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLogNotFound is returned when a log cannot be located.
	ErrLogNotFound = errors.New("exercise log not found")
)

// Outcome classifies the result of one ingestion attempt.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Cursor models the keyset pagination token for history listings.
type Cursor struct {
	PerformedAt time.Time
	ID          string
}

// LogRepository captures persistence operations. Ingest performs the
// idempotency check and the multi-row insert as one atomic unit.
type LogRepository interface {
	// Ingest persists the log, its sets, and each set's parameters inside a
	// single transaction. When the (patient_id, client_mutation_id) pair has
	// already resolved, it returns the existing log id and duplicate=true
	// without writing anything.
	Ingest(ctx context.Context, record ExerciseLog) (logID string, duplicate bool, err error)
	Get(ctx context.Context, patientID, logID string) (*ExerciseLog, error)
	ListByPatient(ctx context.Context, patientID string, cursor *Cursor, limit int) ([]LogSummary, *Cursor, error)
}

// AuditEntry is one row of the append-only ingestion attempt ledger.
type AuditEntry struct {
	Actor            string
	PatientID        string
	ClientMutationID string
	Payload          json.RawMessage
	Outcome          Outcome
	Error            string
	RecordedAt       time.Time
}

// AuditRecorder appends ingestion attempts to the ledger. Implementations
// are best-effort; the service swallows their errors.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Service orchestrates exercise log ingestion and history reads.
type Service struct {
	repo   LogRepository
	audit  AuditRecorder
	logger *log.Logger
}

// NewService constructs a Service. audit may be nil when no ledger is wired.
func NewService(repo LogRepository, audit AuditRecorder, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// IngestResult reports the terminal state of one ingestion attempt.
type IngestResult struct {
	LogID   string
	Outcome Outcome
	Reason  string
}

// IngestLog validates the record, assigns server-side identifiers, and runs
// the atomic persistence operation. Every attempt, whatever its outcome, is
// appended to the audit ledger; a ledger failure never changes the result.
func (s *Service) IngestLog(ctx context.Context, actor string, record ExerciseLog) (IngestResult, error) {
	result, err := s.ingest(ctx, record)
	s.appendAudit(ctx, actor, record, result)
	return result, err
}

func (s *Service) ingest(ctx context.Context, record ExerciseLog) (IngestResult, error) {
	if err := record.Validate(); err != nil {
		return IngestResult{Outcome: OutcomeFailed, Reason: err.Error()}, err
	}

	now := time.Now().UTC()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	for i := range record.Sets {
		record.Sets[i].ID = uuid.NewString()
		if record.Sets[i].PerformedAt.IsZero() {
			record.Sets[i].PerformedAt = record.PerformedAt
		}
		for j := range record.Sets[i].FormData {
			record.Sets[i].FormData[j].ID = uuid.NewString()
		}
	}

	logID, duplicate, err := s.repo.Ingest(ctx, record)
	if err != nil {
		return IngestResult{Outcome: OutcomeFailed, Reason: err.Error()}, err
	}
	if duplicate {
		return IngestResult{LogID: logID, Outcome: OutcomeDuplicate}, nil
	}
	return IngestResult{LogID: logID, Outcome: OutcomePersisted}, nil
}

func (s *Service) appendAudit(ctx context.Context, actor string, record ExerciseLog, result IngestResult) {
	if s.audit == nil {
		return
	}

	payload, err := json.Marshal(auditPayload(record))
	if err != nil {
		s.logger.Printf("audit: payload marshal failed (mutation=%s): %v", record.ClientMutationID, err)
		payload = nil
	}

	entry := AuditEntry{
		Actor:            actor,
		PatientID:        record.PatientID,
		ClientMutationID: record.ClientMutationID,
		Payload:          payload,
		Outcome:          result.Outcome,
		Error:            result.Reason,
		RecordedAt:       time.Now().UTC(),
	}

	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Printf("audit: ledger append failed (mutation=%s): %v", record.ClientMutationID, err)
	}
}

// auditPayload flattens the record into the shape stored in the ledger's
// payload column.
func auditPayload(record ExerciseLog) map[string]interface{} {
	sets := make([]map[string]interface{}, 0, len(record.Sets))
	for _, set := range record.Sets {
		entry := map[string]interface{}{
			"set_number":  set.SetNumber,
			"manual_log":  set.ManualLog,
			"partial_rep": set.PartialRep,
		}
		if set.Reps != nil {
			entry["reps"] = *set.Reps
		}
		if set.Seconds != nil {
			entry["seconds"] = *set.Seconds
		}
		if set.Distance != nil {
			entry["distance"] = *set.Distance
		}
		if set.Side != "" {
			entry["side"] = set.Side
		}
		if len(set.FormData) > 0 {
			params := make([]map[string]string, 0, len(set.FormData))
			for _, p := range set.FormData {
				params = append(params, map[string]string{"name": p.Name, "value": p.Value, "unit": p.Unit})
			}
			entry["form_data"] = params
		}
		sets = append(sets, entry)
	}

	return map[string]interface{}{
		"patient_id":         record.PatientID,
		"exercise_name":      record.ExerciseName,
		"activity_type":      record.ActivityType,
		"performed_at":       record.PerformedAt,
		"client_mutation_id": record.ClientMutationID,
		"sets":               sets,
	}
}

// GetLog fetches a log with its sets and parameters.
func (s *Service) GetLog(ctx context.Context, patientID, logID string) (*ExerciseLog, error) {
	record, err := s.repo.Get(ctx, patientID, logID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrLogNotFound
	}
	return record, nil
}

// ListLogs fetches history entries with cursor pagination.
func (s *Service) ListLogs(ctx context.Context, patientID string, cursor *Cursor, limit int) ([]LogSummary, *Cursor, error) {
	return s.repo.ListByPatient(ctx, patientID, cursor, limit)
}
