// Package api provides the operations HTTP server for pledge: health,
// Prometheus metrics, read-only views for support tooling, habit
// verification and edit intake, and the Stripe webhook.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pledgeloop/pledge/internal/app/engagement"
	"github.com/pledgeloop/pledge/internal/app/evaluator"
	"github.com/pledgeloop/pledge/internal/app/settlement"
	"github.com/pledgeloop/pledge/internal/app/staged"
	"github.com/pledgeloop/pledge/internal/health"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// Server is the pledge HTTP API server.
type Server struct {
	db             *sqlite.DB
	analytics      *engagement.AnalyticsService
	log            *log.Logger
	metricsEnabled bool
	checker        *health.Checker      // nil reports ok
	settlement     *settlement.Engine   // nil disables the webhook and ledger views
	webhookSecret  string               // Stripe endpoint signing secret
	evaluator      *evaluator.Evaluator // nil disables verification intake
	planner        *staged.Planner      // nil disables habit edits
}

// NewServer creates a new API server.
func NewServer(db *sqlite.DB, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{db: db, analytics: engagement.NewAnalyticsService(db), log: logger}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the checker backing /health.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// SetSettlement enables the Stripe webhook and ledger views.
func (s *Server) SetSettlement(e *settlement.Engine, webhookSecret string) {
	s.settlement = e
	s.webhookSecret = webhookSecret
}

// SetEvaluator enables verification intake.
func (s *Server) SetEvaluator(e *evaluator.Evaluator) { s.evaluator = e }

// SetPlanner enables habit edits and deletes.
func (s *Server) SetPlanner(p *staged.Planner) { s.planner = p }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/users/{id}/penalties", s.handleUserPenalties)
		r.Get("/habits/{id}/analytics", s.handleHabitAnalytics)
		if s.settlement != nil {
			r.Get("/users/{id}/ledger", s.handleUserLedger)
		}
		if s.evaluator != nil {
			r.Post("/habits/{id}/verifications", s.handleRecordVerification)
		}
		if s.planner != nil {
			r.Post("/habits/{id}/changes", s.handleStageChange)
		}
	})

	if s.settlement != nil {
		r.Post("/webhooks/stripe", s.handleStripeWebhook)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
