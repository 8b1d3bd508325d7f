// Package logclient is the client SDK for the exercise log ingestion
// service: a wire-format record builder, an HTTP submitter, and a durable
// offline queue that survives process restarts.
package logclient

import "time"

// Record is one exercise session as submitted to the ingestion endpoint.
// It is immutable once constructed; resubmissions reuse the same
// ClientMutationID so the server can deduplicate.
type Record struct {
	PatientID        string    `json:"patient_id,omitempty"`
	ExerciseID       *string   `json:"exercise_id,omitempty"`
	ExerciseName     string    `json:"exercise_name"`
	ActivityType     string    `json:"activity_type"`
	Notes            string    `json:"notes,omitempty"`
	PerformedAt      time.Time `json:"performed_at"`
	ClientMutationID string    `json:"client_mutation_id"`
	Sets             []Set     `json:"sets"`
}

// Set is one repetition-group within a record.
type Set struct {
	SetNumber   int         `json:"set_number"`
	Reps        *int        `json:"reps,omitempty"`
	Seconds     *float64    `json:"seconds,omitempty"`
	Distance    *float64    `json:"distance,omitempty"`
	Side        string      `json:"side,omitempty"`
	ManualLog   bool        `json:"manual_log,omitempty"`
	PartialRep  bool        `json:"partial_rep,omitempty"`
	PerformedAt *time.Time  `json:"performed_at,omitempty"`
	FormData    []Parameter `json:"form_data,omitempty"`
}

// Parameter is a free-form named value scoped to one set.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Outcome classifies a delivery attempt's terminal state.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Result is the server's verdict on one record.
type Result struct {
	Outcome Outcome
	LogID   string
	Reason  string
}
