// Package payment adapts Stripe to the domain.PaymentProvider collaborator.
// Charges are off-session PaymentIntents confirmed against the user's saved
// card; payouts are Connect transfers to the recipient's account.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/pledgeloop/pledge/internal/domain"
)

// Config configures the Stripe client.
type Config struct {
	SecretKey         string
	WebhookSecret     string
	APIURL            string // override for tests; empty uses api.stripe.com
	MaxNetworkRetries int64
}

// Stripe is a domain.PaymentProvider backed by the Stripe API.
type Stripe struct {
	sc  *client.API
	log *log.Logger
}

var _ domain.PaymentProvider = (*Stripe)(nil)

// NewStripe creates a Stripe provider. Network retries are done by the
// Stripe backend and reuse each request's idempotency key.
func NewStripe(cfg Config, logger *log.Logger) *Stripe {
	if logger == nil {
		logger = log.Default()
	}
	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     logger,
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	return &Stripe{
		sc:  client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		log: logger,
	}
}

// CreateCharge creates and confirms an off-session PaymentIntent.
// A declined card is not an error: it comes back as a failed charge so the
// penalties return to the retry pool.
func (s *Stripe) CreateCharge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(domain.Cents(req.Amount)),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String("Habit penalties"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.sc.PaymentIntents.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeCard && serr.PaymentIntent != nil {
			s.log.Warn("card declined", "intent", serr.PaymentIntent.ID, "code", serr.Code)
			return domain.ChargeResult{IntentID: serr.PaymentIntent.ID, Status: domain.PaymentFailed}, nil
		}
		return domain.ChargeResult{}, wrapError("create payment intent", err)
	}
	return domain.ChargeResult{IntentID: pi.ID, Status: MapIntentStatus(pi.Status)}, nil
}

// RetrieveCharge returns the current status of a PaymentIntent.
func (s *Stripe) RetrieveCharge(ctx context.Context, intentID string) (domain.PaymentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.sc.PaymentIntents.Get(intentID, params)
	if err != nil {
		return "", wrapError("retrieve payment intent", err)
	}
	return MapIntentStatus(pi.Status), nil
}

// CreateTransfer pays out to a connected account and returns the transfer id.
func (s *Stripe) CreateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(domain.Cents(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationRef),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := s.sc.Transfers.New(params)
	if err != nil {
		return "", wrapError("create transfer", err)
	}
	return tr.ID, nil
}

// MapIntentStatus folds Stripe's PaymentIntent states into the four the
// settlement engine acts on. requires_payment_method after confirmation
// means the card was declined.
func MapIntentStatus(s stripe.PaymentIntentStatus) domain.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.PaymentCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.PaymentFailed
	case stripe.PaymentIntentStatusRequiresAction:
		return domain.PaymentRequiresAction
	default:
		return domain.PaymentProcessing
	}
}

// wrapError marks client-side rejections with domain.ErrProviderRejected.
// 409 means a request with the same idempotency key is still running, and
// 429 is rate limiting; neither says the request was refused.
func wrapError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode >= 400 && serr.HTTPStatusCode < 500 &&
		serr.HTTPStatusCode != http.StatusConflict && serr.HTTPStatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %s", op, domain.ErrProviderRejected, serr.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
