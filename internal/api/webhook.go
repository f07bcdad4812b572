package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/pledgeloop/pledge/internal/infra/payment"
)

// maxWebhookBody caps the Stripe payload read into memory.
const maxWebhookBody = 64 << 10

// --- POST /webhooks/stripe ---

// handleStripeWebhook applies verified payment_intent events. Non-2xx
// replies make Stripe redeliver, so only transient failures return 500.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	evt, err := payment.ParseWebhook(body, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if errors.Is(err, payment.ErrIgnoredEvent) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		s.log.Warn("rejected webhook", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.settlement.ApplyChargeStatus(r.Context(), evt.IntentID, evt.Status); err != nil {
		s.log.Error("apply webhook charge status", "event", evt.EventID, "intent", evt.IntentID, "err", err)
		writeError(w, http.StatusInternalServerError, "apply failed")
		return
	}
	s.log.Info("webhook applied", "event", evt.EventID, "type", evt.Type, "intent", evt.IntentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
