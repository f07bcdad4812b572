// Package domain holds the habit, penalty and settlement types shared by every
// layer. Domain types are pure; no infrastructure dependency.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Cadence is how often a habit is judged.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceOneTime Cadence = "one_time"
)

// Kind selects the activity source that answers "was it done?".
// Every habit type string maps onto exactly one Kind via KindOf.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindGitHub   Kind = "github_commits"
	KindLeetCode Kind = "leetcode"
	KindGaming   Kind = "gaming"
	KindHealth   Kind = "health"
)

// Habit types with a dedicated source. Anything else (gym, reading,
// custom_*) is verified by photo.
const (
	TypeGitHubCommits = "github_commits"
	TypeLeetCode      = "leetcode"
	TypeGamingPrefix  = "gaming"
	TypeHealthPrefix  = "health"
)

// KindOf classifies a stored habit type. This is the only place habit type
// strings are inspected.
func KindOf(habitType string) Kind {
	t := strings.ToLower(strings.TrimSpace(habitType))
	switch {
	case t == TypeGitHubCommits:
		return KindGitHub
	case t == TypeLeetCode:
		return KindLeetCode
	case strings.HasPrefix(t, TypeGamingPrefix):
		return KindGaming
	case strings.HasPrefix(t, TypeHealthPrefix):
		return KindHealth
	default:
		return KindPhoto
	}
}

// Habit is a user's commitment plus the penalty pledged against it.
type Habit struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Name      string  `json:"name"`
	HabitType string  `json:"habit_type"`
	Cadence   Cadence `json:"cadence"`

	// Daily: required weekdays. Empty means every day.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// Weekly: completions required per week and the weekday weeks start on.
	WeeklyTarget int          `json:"weekly_target,omitempty"`
	WeekStart    time.Weekday `json:"week_start"`

	// One-time: the local date by which the habit must be completed.
	DueDate civil.Date `json:"due_date,omitzero"`

	// Target is the per-period goal for sourced habits: commits, problems,
	// health metric total, or the gaming limit in hours.
	Target float64 `json:"target,omitempty"`
	Metric string  `json:"metric,omitempty"`

	// PenaltyAmount is the flat penalty, or the per-unit / per-hour rate for
	// commit, problem, weekly and gaming habits.
	PenaltyAmount decimal.Decimal `json:"penalty_amount"`
	RecipientID   string          `json:"recipient_id,omitempty"`

	// ConfigFrom is the first local date the current configuration governs.
	// Periods starting earlier were judged under a previous configuration.
	ConfigFrom civil.Date `json:"config_from,omitzero"`

	Streak      int       `json:"streak"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Kind returns the activity source for this habit.
func (h Habit) Kind() Kind { return KindOf(h.HabitType) }

// HasRecipient reports whether someone is paid when this habit is missed.
func (h Habit) HasRecipient() bool { return h.RecipientID != "" }

// RequiredOn reports whether a daily habit must be done on the weekday.
func (h Habit) RequiredOn(wd time.Weekday) bool {
	if h.Cadence != CadenceDaily {
		return true
	}
	if len(h.Weekdays) == 0 {
		return true
	}
	for _, d := range h.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// GovernsPeriod reports whether the current configuration applies to a
// period starting on start.
func (h Habit) GovernsPeriod(start civil.Date) bool {
	return !h.ConfigFrom.IsValid() || !start.Before(h.ConfigFrom)
}

// TargetCount is the integer goal for count-based sources (at least 1).
func (h Habit) TargetCount() int {
	n := int(math.Ceil(h.Target))
	if n < 1 {
		return 1
	}
	return n
}

// Validate checks the invariants a stored habit must hold.
func (h Habit) Validate() error {
	if h.ID == "" || h.UserID == "" {
		return fmt.Errorf("%w: id and user are required", ErrInvalidHabit)
	}
	if !h.PenaltyAmount.IsPositive() {
		return fmt.Errorf("%w: penalty amount must be positive", ErrInvalidHabit)
	}
	if h.Streak < 0 {
		return fmt.Errorf("%w: streak must be non-negative", ErrInvalidHabit)
	}
	switch h.Cadence {
	case CadenceDaily:
		for _, d := range h.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidHabit, d)
			}
		}
	case CadenceWeekly:
		if h.WeeklyTarget < 1 {
			return fmt.Errorf("%w: weekly target must be at least 1", ErrInvalidHabit)
		}
		if h.WeekStart < time.Sunday || h.WeekStart > time.Saturday {
			return fmt.Errorf("%w: week start %d out of range", ErrInvalidHabit, h.WeekStart)
		}
	case CadenceOneTime:
		if !h.DueDate.IsValid() {
			return fmt.Errorf("%w: one-time habit needs a due date", ErrInvalidHabit)
		}
	default:
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidHabit, h.Cadence)
	}
	return nil
}

// User is a habit owner or recipient with their payment references.
type User struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone"`

	// Payment provider references. CustomerRef+PaymentMethodRef are needed to
	// charge; PayoutAccountRef is needed to receive transfers.
	CustomerRef      string `json:"customer_ref,omitempty"`
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
	PayoutAccountRef string `json:"payout_account_ref,omitempty"`

	// Linked external accounts.
	GitHubLogin      string `json:"github_login,omitempty"`
	LeetCodeUsername string `json:"leetcode_username,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CanBeCharged reports whether the user has a usable payment method.
func (u User) CanBeCharged() bool {
	return u.CustomerRef != "" && u.PaymentMethodRef != ""
}
