// Package audit appends ingestion attempts to the mutation audit ledger.
// The ledger is an operational side channel: it is never read on the hot
// path and its failures must never change the primary ingestion outcome.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ptlog/internal/domain"
	"example.com/ptlog/internal/observability"
)

const writeTimeout = 5 * time.Second

// Ledger writes attempt rows to the ingestion_audit table.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger constructs a Ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Record appends one attempt row. The write runs on a context detached from
// the request so a cancelled request cannot abort the append. Errors are
// returned for the caller to log and discard.
func (l *Ledger) Record(ctx context.Context, entry domain.AuditEntry) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	const stmt = `INSERT INTO ingestion_audit (actor, patient_id, client_mutation_id, payload, outcome, error, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := l.pool.Exec(writeCtx, stmt,
		entry.Actor,
		entry.PatientID,
		entry.ClientMutationID,
		entry.Payload,
		string(entry.Outcome),
		nullIfEmpty(entry.Error),
		entry.RecordedAt,
	)
	if err != nil {
		observability.RecordAuditWriteFailure()
		return err
	}
	return nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
