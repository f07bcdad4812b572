// Package staged defers habit edits and deletes until the period in
// progress has been judged under the configuration the user committed to.
package staged

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/charmbracelet/log"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// Request is a user's edit or delete of one habit.
type Request struct {
	HabitID  string
	Type     domain.ChangeType
	NewHabit *domain.Habit // required for updates
}

// Result says what Plan did with a request.
type Result struct {
	// Immediate is true when the habit was deleted on the spot.
	Immediate bool
	// Change is the staged change, when one was created.
	Change *domain.StagedHabitChange
}

// Planner turns edit requests into staged changes.
type Planner struct {
	db       *sqlite.DB
	tz       *timewindow.Resolver
	notifier domain.Notifier
	log      *log.Logger
	now      func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner(db *sqlite.DB, tz *timewindow.Resolver, notifier domain.Notifier, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{db: db, tz: tz, notifier: notifier, log: logger, now: time.Now}
}

// WithClock overrides the time source (for testing).
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Plan stages an edit or delete.
//
// A habit deleted on the local day it was created, and never verified,
// is removed at once. Otherwise daily and one-time habits change from the
// next local day and weekly habits from the day after the current week.
func (p *Planner) Plan(ctx context.Context, req Request) (Result, error) {
	h, err := p.db.GetHabit(ctx, req.HabitID)
	if err != nil {
		return Result{}, fmt.Errorf("get habit: %w", err)
	}
	if h == nil || !h.IsActive {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrHabitNotFound, req.HabitID)
	}

	pending, err := p.db.PendingChangeForHabit(ctx, h.ID)
	if err != nil {
		return Result{}, fmt.Errorf("get pending change: %w", err)
	}
	if pending != nil {
		return Result{}, fmt.Errorf("%w: effective %s", domain.ErrChangePending, pending.EffectiveDate)
	}

	tz := ""
	u, err := p.db.GetUser(ctx, h.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		tz = u.Timezone
	}
	tz = p.tz.Normalize(tz)

	now := p.now()
	today := p.tz.LocalDate(tz, now)

	change := domain.StagedHabitChange{
		HabitID:       h.ID,
		UserID:        h.UserID,
		ChangeType:    req.Type,
		OldHabit:      *h,
		EffectiveDate: EffectiveDate(*h, today),
		UserTimezone:  tz,
		CreatedAt:     now,
	}

	switch req.Type {
	case domain.ChangeDelete:
		if p.tz.LocalDate(tz, h.CreatedAt) == today {
			verified, err := p.db.HasAnyVerification(ctx, h.ID)
			if err != nil {
				return Result{}, fmt.Errorf("check verifications: %w", err)
			}
			if !verified {
				if err := p.db.DeactivateHabit(ctx, h.ID); err != nil {
					return Result{}, fmt.Errorf("delete habit: %w", err)
				}
				p.log.Info("habit deleted within grace", "habit", h.ID, "user", h.UserID)
				return Result{Immediate: true}, nil
			}
		}

	case domain.ChangeUpdate:
		if req.NewHabit == nil {
			return Result{}, fmt.Errorf("%w: update without new configuration", domain.ErrInvalidHabit)
		}
		next := *req.NewHabit
		next.ID = h.ID
		next.UserID = h.UserID
		next.CreatedAt = h.CreatedAt
		next.Streak = h.Streak
		next.IsActive = true
		next.ConfigFrom = change.EffectiveDate
		if err := next.Validate(); err != nil {
			return Result{}, err
		}
		change.NewHabit = &next

	default:
		return Result{}, fmt.Errorf("%w: unknown change type %q", domain.ErrInvalidHabit, req.Type)
	}

	stored, err := p.db.InsertStagedChange(ctx, change)
	if err != nil {
		return Result{}, err
	}
	p.log.Info("habit change staged", "habit", h.ID, "type", req.Type, "effective", stored.EffectiveDate)

	if p.notifier != nil {
		err := p.notifier.Notify(ctx, h.UserID, domain.NotifyHabitChangeStaged, map[string]string{
			"habit":     h.Name,
			"type":      string(req.Type),
			"effective": stored.EffectiveDate.String(),
		})
		if err != nil {
			p.log.Warn("notify staged change failed", "user", h.UserID, "err", err)
		}
	}
	return Result{Change: &stored}, nil
}

// EffectiveDate is the first local day a change to h made on today applies.
func EffectiveDate(h domain.Habit, today civil.Date) civil.Date {
	if h.Cadence == domain.CadenceWeekly {
		return timewindow.WeekWindow(today, h.WeekStart).EndDate.AddDays(1)
	}
	return today.AddDays(1)
}
