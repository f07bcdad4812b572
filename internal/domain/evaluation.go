package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// EvaluationState is where one (habit, period) pair stands.
// HIT and MISS are terminal and persisted; the skips are recomputed.
type EvaluationState string

const (
	StatePending            EvaluationState = "PENDING"
	StateHit                EvaluationState = "EVALUATED_HIT"
	StateMiss               EvaluationState = "EVALUATED_MISS"
	StateSkippedGrace       EvaluationState = "SKIPPED_GRACE"
	StateSkippedNotRequired EvaluationState = "SKIPPED_NOT_REQUIRED"
	StateSkippedUnlinked    EvaluationState = "SKIPPED_UNLINKED"
	StateDeferred           EvaluationState = "DEFERRED"
)

// IsTerminal returns true if no later pass may change the outcome.
func (s EvaluationState) IsTerminal() bool {
	return s == StateHit || s == StateMiss
}

// Period is the calendar range one habit requirement is judged against.
// Daily periods have Start == End.
type Period struct {
	HabitID  string     `json:"habit_id"`
	Start    civil.Date `json:"period_start_date"`
	End      civil.Date `json:"period_end_date"`
	Timezone string     `json:"timezone"`
}

// IsDay reports whether the period spans a single day.
func (p Period) IsDay() bool { return p.Start == p.End }

// Evaluation is the persisted decision for a period.
type Evaluation struct {
	HabitID     string          `json:"habit_id"`
	PeriodStart civil.Date      `json:"period_start"`
	PeriodEnd   civil.Date      `json:"period_end"`
	Outcome     EvaluationState `json:"outcome"`
	Count       int             `json:"count"`
	Quantity    float64         `json:"quantity"`
	PenaltyID   string          `json:"penalty_id,omitempty"`
	DecidedAt   time.Time       `json:"decided_at"`
}
