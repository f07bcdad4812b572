package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// Summary tallies one pass over a user's habits.
type Summary struct {
	Evaluated int
	Hits      int
	Misses    int
	Skipped   int
	Deferred  int
	Failed    int
	Penalties []domain.Penalty
}

func (s *Summary) add(out Outcome) {
	s.Evaluated++
	switch out.State {
	case domain.StateHit:
		s.Hits++
	case domain.StateMiss:
		s.Misses++
	case domain.StateDeferred:
		s.Deferred++
	default:
		s.Skipped++
	}
	if out.Penalty != nil {
		s.Penalties = append(s.Penalties, *out.Penalty)
	}
}

// Merge folds another summary into s.
func (s *Summary) Merge(o Summary) {
	s.Evaluated += o.Evaluated
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Skipped += o.Skipped
	s.Deferred += o.Deferred
	s.Failed += o.Failed
	s.Penalties = append(s.Penalties, o.Penalties...)
}

// RunDue evaluates every period of the user's active habits that ended on
// one of the last CatchupDays closed local days. A failure on one habit is
// logged and the pass moves on.
func (e *Evaluator) RunDue(ctx context.Context, u domain.User, now time.Time) (Summary, error) {
	var sum Summary
	habits, err := e.db.ListActiveHabits(ctx, u.ID)
	if err != nil {
		return sum, fmt.Errorf("list habits: %w", err)
	}

	last := e.tz.LastClosedDay(u.Timezone, now)
	first := last.AddDays(-(e.cfg.CatchupDays - 1))

	for _, h := range habits {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		for d := first; !d.After(last); d = d.AddDays(1) {
			p, ok := PeriodEnding(h, u.Timezone, d)
			if !ok {
				continue
			}
			out, err := e.EvaluatePeriod(ctx, h, u, p)
			if err != nil {
				sum.Failed++
				e.log.Error("evaluation failed", "habit", h.ID, "user", u.ID, "period", p.Start, "err", err)
				break
			}
			if out.Decided {
				continue
			}
			sum.add(out)
		}
	}
	return sum, nil
}

// ─── Verification Intake ────────────────────────────────────────────────────

// RecordVerification stores a proof submission. An approved verification
// extends the streak once per local day, counts toward the habit's week,
// and completes a one-time habit.
func (e *Evaluator) RecordVerification(ctx context.Context, v domain.Verification) (domain.Verification, error) {
	h, err := e.db.GetHabit(ctx, v.HabitID)
	if err != nil {
		return v, fmt.Errorf("get habit: %w", err)
	}
	if h == nil {
		return v, fmt.Errorf("%w: %s", domain.ErrHabitNotFound, v.HabitID)
	}
	if e.locks != nil {
		defer e.locks.Lock(h.UserID)()
	}
	tz := ""
	u, err := e.db.GetUser(ctx, h.UserID)
	if err != nil {
		return v, fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		tz = u.Timezone
	}

	v.UserID = h.UserID
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = e.now()
	}
	if v.Status == "" {
		v.Status = domain.VerificationApproved
	}

	day := e.tz.LocalDate(tz, v.VerifiedAt)
	dayWindow := e.tz.DayWindow(tz, day)
	prior, err := e.db.CountSuccessfulVerifications(ctx, h.ID, dayWindow.Start, dayWindow.End)
	if err != nil {
		return v, err
	}

	v, err = e.db.InsertVerification(ctx, v)
	if err != nil {
		return v, fmt.Errorf("insert verification: %w", err)
	}
	if !v.Status.IsSuccess() {
		return v, nil
	}

	if prior == 0 {
		if _, err := e.streaks.Increment(ctx, h.ID); err != nil {
			e.log.Error("streak increment failed", "habit", h.ID, "err", err)
		}
	}

	switch h.Cadence {
	case domain.CadenceWeekly:
		week := timewindow.WeekWindow(day, h.WeekStart)
		p, err := e.db.IncrementWeeklyProgress(ctx, h.ID, week.StartDate, h.WeeklyTarget)
		if err != nil {
			return v, fmt.Errorf("weekly progress: %w", err)
		}
		e.log.Debug("weekly progress", "habit", h.ID, "week", week.StartDate, "current", p.CurrentCompletions, "target", p.TargetCompletions)
	case domain.CadenceOneTime:
		if err := e.db.MarkHabitCompleted(ctx, h.ID, v.VerifiedAt); err != nil {
			return v, fmt.Errorf("complete habit: %w", err)
		}
	}
	return v, nil
}
