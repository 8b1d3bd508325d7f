package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ptlog/internal/domain"
	"example.com/ptlog/internal/events"
	"example.com/ptlog/internal/observability"
)

// Repository provides Postgres-backed persistence for exercise logs and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ingest persists the log row, its set rows, and each set's parameter rows
// inside one transaction. The idempotency check is folded into the log-row
// insert: ON CONFLICT on (patient_id, client_mutation_id) makes concurrent
// retries serialize on the constraint instead of racing a separate
// existence query. If any insert fails the whole record rolls back.
func (r *Repository) Ingest(ctx context.Context, record domain.ExerciseLog) (string, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertLog = `INSERT INTO exercise_logs (log_id, patient_id, exercise_id, exercise_name, activity_type, notes, performed_at, client_mutation_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (patient_id, client_mutation_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertLog,
		record.ID,
		record.PatientID,
		record.ExerciseID,
		record.ExerciseName,
		string(record.ActivityType),
		nullIfEmpty(record.Notes),
		record.PerformedAt,
		record.ClientMutationID,
		record.CreatedAt,
	)
	if err != nil {
		return "", false, err
	}

	if tag.RowsAffected() == 0 {
		var existingID string
		err = tx.QueryRow(ctx,
			`SELECT log_id FROM exercise_logs WHERE patient_id=$1 AND client_mutation_id=$2`,
			record.PatientID, record.ClientMutationID,
		).Scan(&existingID)
		if err != nil {
			return "", false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return "", false, err
		}
		return existingID, true, nil
	}

	const insertSet = `INSERT INTO exercise_log_sets (set_id, log_id, set_number, reps, seconds, distance, side, manual_log, partial_rep, performed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	const insertParameter = `INSERT INTO set_parameters (parameter_id, set_id, position, name, value, unit)
        VALUES ($1,$2,$3,$4,$5,$6)`

	for _, set := range record.Sets {
		_, err = tx.Exec(ctx, insertSet,
			set.ID,
			record.ID,
			set.SetNumber,
			set.Reps,
			set.Seconds,
			set.Distance,
			nullIfEmpty(set.Side),
			set.ManualLog,
			set.PartialRep,
			set.PerformedAt,
		)
		if err != nil {
			return "", false, fmt.Errorf("insert set %d: %w", set.SetNumber, err)
		}

		// Parameters bind to this set's generated id, never to an array
		// position across the whole record.
		for position, param := range set.FormData {
			_, err = tx.Exec(ctx, insertParameter,
				param.ID,
				set.ID,
				position,
				param.Name,
				param.Value,
				nullIfEmpty(param.Unit),
			)
			if err != nil {
				return "", false, fmt.Errorf("insert parameter %q for set %d: %w", param.Name, set.SetNumber, err)
			}
		}
	}

	if err = r.insertOutbox(ctx, tx, record); err != nil {
		return "", false, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return "", false, err
	}
	observability.RecordLogPersisted(record.CreatedAt)
	return record.ID, false, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, record domain.ExerciseLog) error {
	payload := events.LogRecorded{
		LogID:        record.ID,
		PatientID:    record.PatientID,
		ExerciseName: record.ExerciseName,
		ActivityType: string(record.ActivityType),
		PerformedAt:  record.PerformedAt,
		SetCount:     len(record.Sets),
		RecordedAt:   record.CreatedAt,
		Version:      "v1",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	dedupeKey := fmt.Sprintf("%s:%s", record.ID, events.TypeLogRecorded)
	_, err = tx.Exec(ctx, stmt,
		"exercise_log",
		record.ID,
		events.TypeLogRecorded,
		events.TopicLogEvents,
		events.TopicLogEvents+"-value",
		record.PatientID,
		body,
		dedupeKey,
	)
	return err
}

// Get retrieves a log with its sets and parameters, scoped to the patient.
func (r *Repository) Get(ctx context.Context, patientID, logID string) (*domain.ExerciseLog, error) {
	const logQuery = `SELECT log_id, patient_id, exercise_id, exercise_name, activity_type, notes, performed_at, client_mutation_id, created_at
        FROM exercise_logs WHERE patient_id=$1 AND log_id=$2`

	row := r.pool.QueryRow(ctx, logQuery, patientID, logID)

	var record domain.ExerciseLog
	var notes *string
	var activityType string
	if err := row.Scan(&record.ID, &record.PatientID, &record.ExerciseID, &record.ExerciseName, &activityType, &notes, &record.PerformedAt, &record.ClientMutationID, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.ActivityType = domain.ActivityType(activityType)
	if notes != nil {
		record.Notes = *notes
	}

	sets, err := r.loadSets(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Sets = sets
	return &record, nil
}

func (r *Repository) loadSets(ctx context.Context, logID string) ([]domain.Set, error) {
	const setQuery = `SELECT set_id, set_number, reps, seconds, distance, side, manual_log, partial_rep, performed_at
        FROM exercise_log_sets WHERE log_id=$1 ORDER BY set_number`

	rows, err := r.pool.Query(ctx, setQuery, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets := make([]domain.Set, 0, 4)
	index := make(map[string]int)
	for rows.Next() {
		var set domain.Set
		var side *string
		if err := rows.Scan(&set.ID, &set.SetNumber, &set.Reps, &set.Seconds, &set.Distance, &side, &set.ManualLog, &set.PartialRep, &set.PerformedAt); err != nil {
			return nil, err
		}
		if side != nil {
			set.Side = *side
		}
		index[set.ID] = len(sets)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const paramQuery = `SELECT p.parameter_id, p.set_id, p.name, p.value, p.unit
        FROM set_parameters p
        JOIN exercise_log_sets s ON s.set_id = p.set_id
        WHERE s.log_id=$1
        ORDER BY p.set_id, p.position`

	paramRows, err := r.pool.Query(ctx, paramQuery, logID)
	if err != nil {
		return nil, err
	}
	defer paramRows.Close()

	for paramRows.Next() {
		var param domain.Parameter
		var setID string
		var unit *string
		if err := paramRows.Scan(&param.ID, &setID, &param.Name, &param.Value, &unit); err != nil {
			return nil, err
		}
		if unit != nil {
			param.Unit = *unit
		}
		if i, ok := index[setID]; ok {
			sets[i].FormData = append(sets[i].FormData, param)
		}
	}
	if err := paramRows.Err(); err != nil {
		return nil, err
	}

	return sets, nil
}

// ListByPatient returns history entries ordered most recent first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, cursor *domain.Cursor, limit int) ([]domain.LogSummary, *domain.Cursor, error) {
	args := []interface{}{patientID, limit}
	query := `SELECT l.log_id, l.patient_id, l.exercise_name, l.activity_type, l.performed_at, l.created_at, COUNT(s.set_id)
        FROM exercise_logs l
        LEFT JOIN exercise_log_sets s ON s.log_id = l.log_id
        WHERE l.patient_id=$1`

	if cursor != nil {
		query += ` AND (l.performed_at, l.log_id) < ($3, $4)`
		args = append(args, cursor.PerformedAt, cursor.ID)
	}

	query += ` GROUP BY l.log_id
        ORDER BY l.performed_at DESC, l.log_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.LogSummary, 0, limit)
	for rows.Next() {
		var summary domain.LogSummary
		var activityType string
		if err := rows.Scan(&summary.ID, &summary.PatientID, &summary.ExerciseName, &activityType, &summary.PerformedAt, &summary.CreatedAt, &summary.SetCount); err != nil {
			return nil, nil, err
		}
		summary.ActivityType = domain.ActivityType(activityType)
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{PerformedAt: last.PerformedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
