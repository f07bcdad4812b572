package staged

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pledgeloop/pledge/internal/app/evaluator"
	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// Summary tallies one ApplyDue pass.
type Summary struct {
	Applied   int
	Waiting   int
	Failed    int
	Penalties []domain.Penalty
}

// Resolver applies staged changes once they take effect.
type Resolver struct {
	db    *sqlite.DB
	eval  *evaluator.Evaluator
	log   *log.Logger
	locks evaluator.UserLocker
}

// NewResolver creates a resolver that judges closing periods with eval.
func NewResolver(db *sqlite.DB, eval *evaluator.Evaluator, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{db: db, eval: eval, log: logger}
}

// WithLocks makes each change wait for the user's lock before it is
// applied.
func (r *Resolver) WithLocks(l evaluator.UserLocker) *Resolver {
	r.locks = l
	return r
}

// ApplyDue applies every unapplied change whose effective date has begun
// in its user's timezone, counting from the 01:00 boundary. A change that
// fails stays unapplied for the next pass.
func (r *Resolver) ApplyDue(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary
	changes, err := r.db.ListUnappliedChanges(ctx)
	if err != nil {
		return sum, fmt.Errorf("list staged changes: %w", err)
	}

	tz := r.eval.Timezones()
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !tz.IsClosed(c.UserTimezone, c.EffectiveDate.AddDays(-1), now) {
			sum.Waiting++
			continue
		}
		pen, err := r.applyLocked(ctx, c, now)
		if err != nil {
			sum.Failed++
			r.log.Error("apply staged change failed", "change", c.ID, "habit", c.HabitID, "err", err)
			continue
		}
		sum.Applied++
		if pen != nil {
			sum.Penalties = append(sum.Penalties, *pen)
		}
	}
	return sum, nil
}

func (r *Resolver) applyLocked(ctx context.Context, c domain.StagedHabitChange, now time.Time) (*domain.Penalty, error) {
	if r.locks != nil {
		defer r.locks.Lock(c.UserID)()
	}
	return r.Apply(ctx, c, now)
}

// Apply judges the period that closed under the old configuration, then
// applies the change. Returns the penalty if the closing period was missed.
func (r *Resolver) Apply(ctx context.Context, c domain.StagedHabitChange, now time.Time) (*domain.Penalty, error) {
	u, err := r.db.GetUser(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		u = &domain.User{ID: c.UserID}
	}
	u.Timezone = c.UserTimezone

	var penalty *domain.Penalty
	closing := c.EffectiveDate.AddDays(-1)
	if p, ok := evaluator.PeriodEnding(c.OldHabit, c.UserTimezone, closing); ok {
		out, err := r.eval.EvaluatePeriod(ctx, c.OldHabit, *u, p)
		if err != nil {
			return nil, fmt.Errorf("evaluate closing period: %w", err)
		}
		if out.State == domain.StateDeferred {
			return nil, fmt.Errorf("closing period %s: %w", p.Start, domain.ErrSourceUnavailable)
		}
		penalty = out.Penalty
	}

	switch c.ChangeType {
	case domain.ChangeUpdate:
		if c.NewHabit == nil {
			return nil, fmt.Errorf("%w: update without new configuration", domain.ErrInvalidHabit)
		}
		next := *c.NewHabit
		next.ConfigFrom = c.EffectiveDate
		if err := r.db.UpsertHabit(ctx, next); err != nil {
			return nil, fmt.Errorf("update habit: %w", err)
		}
	case domain.ChangeDelete:
		if err := r.db.DeactivateHabit(ctx, c.HabitID); err != nil && !errors.Is(err, domain.ErrHabitNotFound) {
			return nil, fmt.Errorf("delete habit: %w", err)
		}
	}

	if err := r.db.MarkChangeApplied(ctx, c.ID, now); err != nil && !errors.Is(err, domain.ErrStagedChangeApplied) {
		return penalty, fmt.Errorf("mark applied: %w", err)
	}
	r.log.Info("staged change applied", "change", c.ID, "habit", c.HabitID, "type", c.ChangeType)
	return penalty, nil
}
