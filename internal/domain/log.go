package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActivityType discriminates which measured quantities a set carries.
type ActivityType string

const (
	ActivityTypeReps     ActivityType = "reps"
	ActivityTypeHold     ActivityType = "hold"
	ActivityTypeDuration ActivityType = "duration"
	ActivityTypeDistance ActivityType = "distance"
)

// KnownActivityType reports whether the value is one of the recognized kinds.
func KnownActivityType(value ActivityType) bool {
	switch value {
	case ActivityTypeReps, ActivityTypeHold, ActivityTypeDuration, ActivityTypeDistance:
		return true
	}
	return false
}

// Side identifies which side of the body a set was performed on.
const (
	SideLeft  = "left"
	SideRight = "right"
	SideBoth  = "both"
)

// Parameter is a free-form named value describing exercise configuration
// for one specific set (band color, surface, distance unit).
type Parameter struct {
	ID    string
	Name  string
	Value string
	Unit  string
}

// Set is one repetition-group within a logged session. SetNumber is the
// authoritative ordering and binding key; parameters belong to the set they
// were captured with, never to a neighbour by array position.
type Set struct {
	ID          string
	SetNumber   int
	Reps        *int
	Seconds     *float64
	Distance    *float64
	Side        string
	ManualLog   bool
	PartialRep  bool
	PerformedAt time.Time
	FormData    []Parameter
}

// ExerciseLog is the client-constructed unit of work: one logged exercise
// session with nested sets. Immutable once created; resubmissions carry the
// same ClientMutationID and resolve to at most one persisted log.
type ExerciseLog struct {
	ID               string
	PatientID        string
	ExerciseID       *string
	ExerciseName     string
	ActivityType     ActivityType
	Notes            string
	PerformedAt      time.Time
	ClientMutationID string
	CreatedAt        time.Time
	Sets             []Set
}

// LogSummary is the list-view projection of a log without its sets.
type LogSummary struct {
	ID           string
	PatientID    string
	ExerciseName string
	ActivityType ActivityType
	PerformedAt  time.Time
	CreatedAt    time.Time
	SetCount     int
}

// ErrInvalidRecord tags validation failures so callers can distinguish them
// from infrastructure errors.
var ErrInvalidRecord = errors.New("invalid exercise log record")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// Validate checks the record against the ingestion contract. It runs before
// any persistence attempt, for both direct submissions and queue replay.
func (l ExerciseLog) Validate() error {
	if strings.TrimSpace(l.ClientMutationID) == "" {
		return invalid("client_mutation_id is required")
	}
	if strings.TrimSpace(l.PatientID) == "" {
		return invalid("patient_id is required")
	}
	if strings.TrimSpace(l.ExerciseName) == "" {
		return invalid("exercise_name is required")
	}
	if !KnownActivityType(l.ActivityType) {
		return invalid("activity_type %q must be one of reps, hold, duration, distance", l.ActivityType)
	}
	if l.PerformedAt.IsZero() {
		return invalid("performed_at is required")
	}
	if len(l.Sets) == 0 {
		return invalid("sets must not be empty")
	}

	seen := make(map[int]struct{}, len(l.Sets))
	for i, set := range l.Sets {
		if set.SetNumber <= 0 {
			return invalid("sets[%d]: set_number must be a positive integer", i)
		}
		if _, dup := seen[set.SetNumber]; dup {
			return invalid("sets[%d]: duplicate set_number %d", i, set.SetNumber)
		}
		seen[set.SetNumber] = struct{}{}

		if err := validateQuantities(l.ActivityType, set); err != nil {
			return invalid("sets[%d]: %v", i, err)
		}

		switch set.Side {
		case "", SideLeft, SideRight, SideBoth:
		default:
			return invalid("sets[%d]: side %q must be left, right, or both", i, set.Side)
		}

		for j, param := range set.FormData {
			if strings.TrimSpace(param.Name) == "" {
				return invalid("sets[%d].form_data[%d]: name is required", i, j)
			}
		}
	}

	return nil
}

// validateQuantities enforces the quantity contract per activity type: the
// primary quantity must be present and positive, and quantities the type
// does not use must be absent.
func validateQuantities(kind ActivityType, set Set) error {
	switch kind {
	case ActivityTypeReps:
		if set.Reps == nil || *set.Reps <= 0 {
			return errors.New("reps must be a positive integer for activity_type reps")
		}
		if set.Seconds != nil || set.Distance != nil {
			return errors.New("seconds and distance must be absent for activity_type reps")
		}
	case ActivityTypeHold:
		if set.Reps == nil || *set.Reps <= 0 {
			return errors.New("reps (hold count) must be a positive integer for activity_type hold")
		}
		if set.Seconds == nil || *set.Seconds <= 0 {
			return errors.New("seconds (hold duration) must be positive for activity_type hold")
		}
		if set.Distance != nil {
			return errors.New("distance must be absent for activity_type hold")
		}
	case ActivityTypeDuration:
		if set.Seconds == nil || *set.Seconds <= 0 {
			return errors.New("seconds must be positive for activity_type duration")
		}
		if set.Reps != nil || set.Distance != nil {
			return errors.New("reps and distance must be absent for activity_type duration")
		}
	case ActivityTypeDistance:
		if set.Distance == nil || *set.Distance <= 0 {
			return errors.New("distance must be positive for activity_type distance")
		}
		if set.Reps != nil || set.Seconds != nil {
			return errors.New("reps and seconds must be absent for activity_type distance")
		}
	}
	return nil
}
