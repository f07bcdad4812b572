package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
)

// TransferSummary tallies one payout pass.
type TransferSummary struct {
	Transferred    int
	BelowThreshold int
	NoAccount      int
	InFlight       int
	Failed         int
	Amount         decimal.Decimal
}

// NetPayout is gross less the fee rate, truncated to cents.
func NetPayout(gross, feeRate decimal.Decimal) decimal.Decimal {
	return gross.Mul(decimal.NewFromInt(1).Sub(feeRate)).Truncate(2)
}

// payoutGroup is the set of penalties one transfer pays. claim is set when
// a previous pass reserved the rows but never confirmed the transfer.
type payoutGroup struct {
	recipientID string
	claim       string
	pens        []domain.Penalty
}

// Transfer pays each recipient the net of all their collected, not yet
// paid out penalties, when that net reaches MinPayout. Recipients are
// handled independently. Passes run one at a time, and every payout
// reserves its rows before the provider is called, so a penalty is never
// paid out twice.
func (e *Engine) Transfer(ctx context.Context) (TransferSummary, error) {
	e.payoutMu.Lock()
	defer e.payoutMu.Unlock()

	var sum TransferSummary
	pens, err := e.db.ListAwaitingTransfer(ctx)
	if err != nil {
		return sum, fmt.Errorf("list awaiting transfer: %w", err)
	}

	for _, g := range groupPayouts(pens) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		net, err := e.transferTo(ctx, g)
		switch {
		case err == nil:
			sum.Transferred++
			sum.Amount = sum.Amount.Add(net)
		case errors.Is(err, domain.ErrBelowThreshold):
			sum.BelowThreshold++
		case errors.Is(err, domain.ErrNoPayoutAccount):
			sum.NoAccount++
			e.log.Warn("recipient has no payout account", "recipient", g.recipientID)
		case errors.Is(err, domain.ErrTransferInFlight):
			sum.InFlight++
			e.log.Warn("payout rows claimed elsewhere, retrying next pass", "recipient", g.recipientID)
		default:
			sum.Failed++
			metrics.Transfers.WithLabelValues("failed").Inc()
			e.log.Error("transfer failed", "recipient", g.recipientID, "err", err)
		}
	}
	return sum, nil
}

// groupPayouts puts unclaimed penalties into one group per recipient and
// keeps each earlier claim as its own group, in a stable order.
func groupPayouts(pens []domain.Penalty) []payoutGroup {
	index := make(map[string]int)
	var groups []payoutGroup
	for _, p := range pens {
		if !p.AwaitingTransfer() {
			continue
		}
		key := "r:" + p.RecipientID
		claim := ""
		if p.TransferClaimed() {
			claim = p.TransferID
			key = "c:" + claim
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, payoutGroup{recipientID: p.RecipientID, claim: claim})
		}
		groups[i].pens = append(groups[i].pens, p)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].recipientID != groups[j].recipientID {
			return groups[i].recipientID < groups[j].recipientID
		}
		return groups[i].claim > groups[j].claim
	})
	return groups
}

func (e *Engine) transferTo(ctx context.Context, g payoutGroup) (decimal.Decimal, error) {
	recipientID := g.recipientID
	gross := decimal.Zero
	ids := make([]string, 0, len(g.pens))
	perHabit := make(map[string]decimal.Decimal)
	for _, p := range g.pens {
		gross = gross.Add(p.Amount)
		ids = append(ids, p.ID)
		perHabit[p.HabitID] = perHabit[p.HabitID].Add(p.Amount)
	}

	net := NetPayout(gross, e.cfg.FeeRate)
	key := transferKey(recipientID, ids)
	if g.claim == "" && net.LessThan(e.cfg.MinPayout) {
		return decimal.Zero, fmt.Errorf("%w: net %s", domain.ErrBelowThreshold, net.StringFixed(2))
	}

	r, err := e.db.GetUser(ctx, recipientID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get recipient: %w", err)
	}
	if r == nil || r.PayoutAccountRef == "" {
		return decimal.Zero, domain.ErrNoPayoutAccount
	}

	claim := g.claim
	if claim == "" {
		claim = domain.TransferClaimPrefix + key
		n, err := e.db.ClaimForTransfer(ctx, ids, claim)
		if err != nil {
			return decimal.Zero, err
		}
		if n != len(ids) {
			if err := e.db.ReleaseTransferClaim(ctx, claim); err != nil {
				return decimal.Zero, err
			}
			return decimal.Zero, fmt.Errorf("%w: claimed %d of %d", domain.ErrTransferInFlight, n, len(ids))
		}
	}

	// A resumed claim reuses the key it was made with, so the provider
	// answers with the original transfer if it already went through.
	transferID, err := e.provider.CreateTransfer(ctx, domain.TransferRequest{
		DestinationRef: r.PayoutAccountRef,
		Amount:         net,
		Currency:       e.cfg.Currency,
		IdempotencyKey: strings.TrimPrefix(claim, domain.TransferClaimPrefix),
		Metadata: map[string]string{
			"recipient_id":  recipientID,
			"penalty_count": fmt.Sprint(len(ids)),
			"gross":         gross.StringFixed(2),
		},
	})
	if err != nil {
		// A rejection moved no money. Anything else may have, so the claim
		// stays and the next pass retries with the same key.
		if errors.Is(err, domain.ErrProviderRejected) {
			if rerr := e.db.ReleaseTransferClaim(ctx, claim); rerr != nil {
				e.log.Error("release transfer claim failed", "recipient", recipientID, "err", rerr)
			}
		}
		return decimal.Zero, fmt.Errorf("create transfer: %w", err)
	}

	n, err := e.db.CompleteTransfer(ctx, claim, transferID)
	if err != nil {
		return decimal.Zero, err
	}
	if n == 0 {
		// Another process recorded this payout first.
		return net, nil
	}
	metrics.Transfers.WithLabelValues("created").Inc()
	e.log.Info("transfer created", "recipient", recipientID, "transfer", transferID, "gross", gross.StringFixed(2), "net", net.StringFixed(2))

	if err := e.ledger.RecordTransfer(ctx, recipientID, gross, net, transferID); err != nil {
		e.log.Error("ledger transfer entry failed", "transfer", transferID, "err", err)
	}
	for habitID, amount := range perHabit {
		if err := e.analytics.RecordPayout(ctx, habitID, recipientID, amount); err != nil {
			e.log.Error("analytics payout failed", "habit", habitID, "recipient", recipientID, "err", err)
		}
	}
	e.notify(ctx, recipientID, domain.NotifyPayoutSent, map[string]string{"amount": net.StringFixed(2)})
	return net, nil
}
