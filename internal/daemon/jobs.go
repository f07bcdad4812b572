package daemon

import (
	"context"
	"time"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
	"github.com/pledgeloop/pledge/internal/infra/scheduler"
)

// registerJobs binds every periodic pass to the scheduler.
func (d *Daemon) registerJobs() error {
	jobs := []scheduler.Job{
		{Name: scheduler.JobEvaluate, Run: d.runEvaluate},
		{Name: scheduler.JobStaged, Run: d.runStaged},
		{Name: scheduler.JobCharge, Run: d.settlementJob(scheduler.JobCharge, d.runCharge)},
		{Name: scheduler.JobReconcile, Run: d.settlementJob(scheduler.JobReconcile, d.runReconcile)},
		{Name: scheduler.JobTransfer, Run: d.settlementJob(scheduler.JobTransfer, d.runTransfer)},
	}
	for _, j := range jobs {
		if err := d.Scheduler.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// runEvaluate judges every closed period of every user with active habits.
func (d *Daemon) runEvaluate(ctx context.Context, now time.Time) error {
	users, err := d.DB.ListUsersWithActiveHabits(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.User, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}

	start := time.Now()
	err = d.Scheduler.ForEachUser(ctx, ids, func(ctx context.Context, id string) error {
		sum, err := d.Evaluator.RunDue(ctx, byID[id], now)
		if err != nil {
			return err
		}
		if sum.Misses > 0 || sum.Failed > 0 {
			d.Log.Info("user evaluated", "user", id, "hits", sum.Hits, "misses", sum.Misses,
				"deferred", sum.Deferred, "failed", sum.Failed)
		}
		return nil
	})
	d.Log.Info("evaluation pass done", "users", len(ids), "took", time.Since(start).Round(time.Millisecond))
	return err
}

// runStaged applies due habit edits, then catches up on periods that closed
// under the edited configurations.
func (d *Daemon) runStaged(ctx context.Context, now time.Time) error {
	sum, err := d.Staged.ApplyDue(ctx, now)
	if err != nil {
		return err
	}
	if sum.Applied > 0 || sum.Failed > 0 {
		d.Log.Info("staged changes", "applied", sum.Applied, "waiting", sum.Waiting,
			"failed", sum.Failed, "penalties", len(sum.Penalties))
	}
	return d.runEvaluate(ctx, now)
}

func (d *Daemon) runCharge(ctx context.Context, _ time.Time) error {
	sum, err := d.Settlement.ChargeUnpaid(ctx)
	d.Log.Info("charge pass done", "charged", sum.Charged, "below_min", sum.BelowThreshold,
		"no_payment", sum.NoPayment, "failed", sum.Failed, "amount", sum.Amount.StringFixed(2))
	return err
}

func (d *Daemon) runReconcile(ctx context.Context, _ time.Time) error {
	sum, err := d.Settlement.Reconcile(ctx)
	if sum.Checked > 0 {
		d.Log.Info("reconcile pass done", "checked", sum.Checked, "succeeded", sum.Succeeded,
			"reverted", sum.Reverted, "pending", sum.Pending, "failed", sum.Failed)
	}
	return err
}

func (d *Daemon) runTransfer(ctx context.Context, _ time.Time) error {
	sum, err := d.Settlement.Transfer(ctx)
	if sum.Transferred > 0 || sum.Failed > 0 {
		d.Log.Info("transfer pass done", "transferred", sum.Transferred, "below_min", sum.BelowThreshold,
			"no_account", sum.NoAccount, "failed", sum.Failed, "amount", sum.Amount.StringFixed(2))
	}
	return err
}

// settlementJob skips a money pass while no payment provider is configured.
func (d *Daemon) settlementJob(name string, run scheduler.RunFunc) scheduler.RunFunc {
	return func(ctx context.Context, now time.Time) error {
		if d.Settlement == nil {
			metrics.JobsSkipped.WithLabelValues(name).Inc()
			return nil
		}
		return run(ctx, now)
	}
}
