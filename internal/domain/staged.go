package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// ChangeType is the kind of deferred habit edit.
type ChangeType string

const (
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// StagedHabitChange defers an edit or delete until the period in progress
// has been judged under the old configuration.
type StagedHabitChange struct {
	ID            string     `json:"id"`
	HabitID       string     `json:"habit_id"`
	UserID        string     `json:"user_id"`
	ChangeType    ChangeType `json:"change_type"`
	OldHabit      Habit      `json:"old_habit_data"`
	NewHabit      *Habit     `json:"new_habit_data,omitempty"`
	EffectiveDate civil.Date `json:"effective_date"`
	UserTimezone  string     `json:"user_timezone"`
	Applied       bool       `json:"applied"`
	CreatedAt     time.Time  `json:"created_at"`
	AppliedAt     time.Time  `json:"applied_at,omitzero"`
}
