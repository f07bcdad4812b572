package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
)

// ReconcileSummary tallies one reconciliation pass.
type ReconcileSummary struct {
	Checked   int
	Succeeded int
	Reverted  int
	Pending   int
	Failed    int
}

// Reconcile asks the provider once per distinct processing charge for its
// status and applies it.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary
	intents, err := e.db.ListProcessingIntents(ctx)
	if err != nil {
		return sum, fmt.Errorf("list processing: %w", err)
	}

	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		status, err := e.provider.RetrieveCharge(ctx, intent)
		if err != nil {
			sum.Failed++
			e.log.Warn("retrieve charge failed", "intent", intent, "err", err)
			continue
		}
		if err := e.ApplyChargeStatus(ctx, intent, status); err != nil {
			sum.Failed++
			e.log.Error("apply charge status failed", "intent", intent, "status", status, "err", err)
			continue
		}
		switch status {
		case domain.PaymentSucceeded:
			sum.Succeeded++
		case domain.PaymentFailed, domain.PaymentCanceled:
			sum.Reverted++
		default:
			sum.Pending++
		}
	}
	return sum, nil
}

// ApplyChargeStatus moves the penalties of a charge to match the
// provider's status. It is safe to apply the same status any number of
// times, from polling or from webhooks.
func (e *Engine) ApplyChargeStatus(ctx context.Context, intentID string, status domain.PaymentStatus) error {
	pens, err := e.db.ListPenaltiesByIntent(ctx, intentID)
	if err != nil {
		return fmt.Errorf("list penalties: %w", err)
	}
	var unpaid []domain.Penalty
	for _, p := range pens {
		if !p.IsPaid {
			unpaid = append(unpaid, p)
		}
	}
	if len(unpaid) == 0 {
		return nil
	}
	userID := unpaid[0].UserID

	switch status {
	case domain.PaymentSucceeded:
		n, err := e.db.MarkIntentPaid(ctx, intentID)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		total := decimal.Zero
		for _, p := range unpaid {
			total = total.Add(p.Amount)
		}
		if err := e.ledger.RecordCharge(ctx, userID, total, intentID); err != nil {
			e.log.Error("ledger charge entry failed", "intent", intentID, "err", err)
		}
		metrics.ChargedCents.Add(float64(domain.Cents(total)))
		e.log.Info("charge succeeded", "user", userID, "intent", intentID, "amount", total.StringFixed(2))
		e.notify(ctx, userID, domain.NotifyChargeSucceeded, map[string]string{"amount": total.StringFixed(2)})

		if _, err := e.Transfer(ctx); err != nil {
			e.log.Error("transfer fan-out failed", "intent", intentID, "err", err)
		}

	case domain.PaymentFailed, domain.PaymentCanceled:
		n, err := e.db.DetachIntent(ctx, intentID, status)
		if err != nil {
			return err
		}
		if n > 0 {
			e.log.Warn("charge did not complete, penalties returned to unpaid", "user", userID, "intent", intentID, "status", status)
			e.notify(ctx, userID, domain.NotifyChargeFailed, map[string]string{"status": string(status)})
		}

	case domain.PaymentRequiresAction:
		if unpaid[0].PaymentStatus == domain.PaymentRequiresAction {
			return nil
		}
		if err := e.db.SetIntentStatus(ctx, intentID, status); err != nil {
			return err
		}
		e.notify(ctx, userID, domain.NotifyActionRequired, map[string]string{"intent": intentID})

	case domain.PaymentProcessing:

	default:
		return fmt.Errorf("unknown payment status %q", status)
	}
	return nil
}
