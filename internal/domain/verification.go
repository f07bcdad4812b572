package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// VerificationStatus is the review state of a proof submission.
type VerificationStatus string

const (
	VerificationPending      VerificationStatus = "pending"
	VerificationApproved     VerificationStatus = "approved"
	VerificationAutoApproved VerificationStatus = "auto_approved"
	VerificationRejected     VerificationStatus = "rejected"
)

// IsSuccess reports whether the status is a terminal success state.
func (s VerificationStatus) IsSuccess() bool {
	return s == VerificationApproved || s == VerificationAutoApproved
}

// Verification is one logged proof that a habit was done.
type Verification struct {
	ID         string             `json:"id"`
	HabitID    string             `json:"habit_id"`
	UserID     string             `json:"user_id"`
	Status     VerificationStatus `json:"status"`
	VerifiedAt time.Time          `json:"verified_at"`
}

// WeeklyProgress is the running completion count for one habit-week.
type WeeklyProgress struct {
	HabitID            string     `json:"habit_id"`
	WeekStart          civil.Date `json:"week_start_date"`
	CurrentCompletions int        `json:"current_completions"`
	TargetCompletions  int        `json:"target_completions"`
	IsWeekComplete     bool       `json:"is_week_complete"`
}

// Missing returns how many completions short of target the week is.
func (p WeeklyProgress) Missing() int {
	if p.CurrentCompletions >= p.TargetCompletions {
		return 0
	}
	return p.TargetCompletions - p.CurrentCompletions
}

// GamingSession is a reported block of play time.
type GamingSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	Minutes   float64   `json:"minutes"`
}

// HealthSample is one reported health metric reading.
type HealthSample struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}
