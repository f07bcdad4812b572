package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/logger"
)

func newTestStripe(t *testing.T, h http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripe(Config{SecretKey: "sk_test_123", APIURL: srv.URL}, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// ═══════════════════════════════════════════════════════════════════════════
// Provider Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestCreateCharge_Succeeded(t *testing.T) {
	var gotKey string
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("amount"); got != "600" {
			t.Errorf("amount = %q, want 600", got)
		}
		if got := r.PostForm.Get("customer"); got != "cus_1" {
			t.Errorf("customer = %q, want cus_1", got)
		}
		if got := r.PostForm.Get("off_session"); got != "true" {
			t.Errorf("off_session = %q, want true", got)
		}
		if got := r.PostForm.Get("metadata[user_id]"); got != "u1" {
			t.Errorf("metadata[user_id] = %q, want u1", got)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		writeJSON(w, http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`)
	})

	res, err := s.CreateCharge(context.Background(), domain.ChargeRequest{
		CustomerRef:      "cus_1",
		PaymentMethodRef: "pm_1",
		Amount:           decimal.NewFromInt(6),
		Currency:         "usd",
		IdempotencyKey:   "key-1",
		Metadata:         map[string]string{"user_id": "u1"},
	})
	if err != nil {
		t.Fatalf("CreateCharge() error: %v", err)
	}
	if res.IntentID != "pi_123" || res.Status != domain.PaymentSucceeded {
		t.Errorf("result = %+v, want pi_123 succeeded", res)
	}
	if gotKey != "key-1" {
		t.Errorf("Idempotency-Key = %q, want key-1", gotKey)
	}
}

func TestCreateCharge_CardDeclinedIsFailedCharge(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, `{"error":{
			"type":"card_error","code":"card_declined","message":"Your card was declined.",
			"payment_intent":{"id":"pi_declined","object":"payment_intent","status":"requires_payment_method"}}}`)
	})

	res, err := s.CreateCharge(context.Background(), domain.ChargeRequest{
		CustomerRef: "cus_1", PaymentMethodRef: "pm_1",
		Amount: decimal.NewFromInt(10), Currency: "usd", IdempotencyKey: "k",
	})
	if err != nil {
		t.Fatalf("CreateCharge() error: %v", err)
	}
	if res.IntentID != "pi_declined" || res.Status != domain.PaymentFailed {
		t.Errorf("result = %+v, want pi_declined failed", res)
	}
}

func TestCreateCharge_InvalidRequestIsRejected(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"No such customer"}}`)
	})

	_, err := s.CreateCharge(context.Background(), domain.ChargeRequest{
		CustomerRef: "cus_missing", PaymentMethodRef: "pm_1",
		Amount: decimal.NewFromInt(10), Currency: "usd", IdempotencyKey: "k",
	})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Errorf("err = %v, want ErrProviderRejected", err)
	}
}

func TestRetrieveCharge(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/payment_intents/pi_9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{"id":"pi_9","object":"payment_intent","status":"requires_action"}`)
	})

	got, err := s.RetrieveCharge(context.Background(), "pi_9")
	if err != nil {
		t.Fatalf("RetrieveCharge() error: %v", err)
	}
	if got != domain.PaymentRequiresAction {
		t.Errorf("status = %s, want requires_action", got)
	}
}

func TestCreateTransfer(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers" {
			t.Errorf("path = %s, want /v1/transfers", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("amount"); got != "8500" {
			t.Errorf("amount = %q, want 8500", got)
		}
		if got := r.PostForm.Get("destination"); got != "acct_1" {
			t.Errorf("destination = %q, want acct_1", got)
		}
		writeJSON(w, http.StatusOK, `{"id":"tr_1","object":"transfer"}`)
	})

	id, err := s.CreateTransfer(context.Background(), domain.TransferRequest{
		DestinationRef: "acct_1", Amount: decimal.NewFromInt(85), Currency: "usd", IdempotencyKey: "t",
	})
	if err != nil {
		t.Fatalf("CreateTransfer() error: %v", err)
	}
	if id != "tr_1" {
		t.Errorf("transfer id = %q, want tr_1", id)
	}
}

func TestMapIntentStatus(t *testing.T) {
	tests := []struct {
		in   stripe.PaymentIntentStatus
		want domain.PaymentStatus
	}{
		{stripe.PaymentIntentStatusSucceeded, domain.PaymentSucceeded},
		{stripe.PaymentIntentStatusProcessing, domain.PaymentProcessing},
		{stripe.PaymentIntentStatusRequiresConfirmation, domain.PaymentProcessing},
		{stripe.PaymentIntentStatusRequiresCapture, domain.PaymentProcessing},
		{stripe.PaymentIntentStatusRequiresAction, domain.PaymentRequiresAction},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, domain.PaymentFailed},
		{stripe.PaymentIntentStatusCanceled, domain.PaymentCanceled},
	}
	for _, tt := range tests {
		if got := MapIntentStatus(tt.in); got != tt.want {
			t.Errorf("MapIntentStatus(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCreateTransfer_IdempotencyConflictIsNotRejection(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Stripe-Should-Retry", "false")
		writeJSON(w, http.StatusConflict, `{"error":{"type":"idempotency_error","message":"request in progress"}}`)
	})

	_, err := s.CreateTransfer(context.Background(), domain.TransferRequest{
		DestinationRef: "acct_1", Amount: decimal.NewFromInt(85), Currency: "usd", IdempotencyKey: "t",
	})
	if err == nil {
		t.Fatal("CreateTransfer() should fail on 409")
	}
	if errors.Is(err, domain.ErrProviderRejected) {
		t.Errorf("err = %v; a key still in flight must not count as a rejection", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Webhook Tests
// ═══════════════════════════════════════════════════════════════════════════

func signed(t *testing.T, payload, secret string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return sp.Header
}

func TestParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_5","object":"payment_intent","status":"succeeded"}}}`

	evt, err := ParseWebhook([]byte(payload), signed(t, payload, secret), secret)
	if err != nil {
		t.Fatalf("ParseWebhook() error: %v", err)
	}
	if evt.IntentID != "pi_5" || evt.Status != domain.PaymentSucceeded {
		t.Errorf("event = %+v, want pi_5 succeeded", evt)
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_5"}}}`
	if _, err := ParseWebhook([]byte(payload), signed(t, payload, "whsec_other"), "whsec_test"); err == nil {
		t.Error("ParseWebhook() should reject a payload signed with another secret")
	}
}

func TestParseWebhook_IgnoredType(t *testing.T) {
	const secret = "whsec_test"
	payload := `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
	_, err := ParseWebhook([]byte(payload), signed(t, payload, secret), secret)
	if !errors.Is(err, ErrIgnoredEvent) {
		t.Errorf("err = %v, want ErrIgnoredEvent", err)
	}
}
