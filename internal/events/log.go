// Package events defines event payloads published through the outbox.
package events

import "time"

// Topic and event-type constants used by the outbox dispatcher.
const (
	TopicLogEvents  = "exercise_log_events"
	TypeLogRecorded = "log.recorded"
)

// LogRecorded is emitted when a new exercise log is durably persisted.
// Downstream review and notification services consume it.
type LogRecorded struct {
	LogID        string    `json:"log_id"`
	PatientID    string    `json:"patient_id"`
	ExerciseName string    `json:"exercise_name"`
	ActivityType string    `json:"activity_type"`
	PerformedAt  time.Time `json:"performed_at"`
	SetCount     int       `json:"set_count"`
	RecordedAt   time.Time `json:"recorded_at"`
	Version      string    `json:"version"`
}
