package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pledgeloop/pledge/internal/app/settlement"
	"github.com/pledgeloop/pledge/internal/app/staged"
	"github.com/pledgeloop/pledge/internal/domain"
)

// ─── Read views (/api/users, /api/habits) ───────────────────────────────────

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

// --- GET /api/users/{id}/penalties ---

func (s *Server) handleUserPenalties(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	pens, err := s.db.ListPenaltiesByUser(r.Context(), userID, listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type penaltyView struct {
		domain.Penalty
		State domain.SettlementState `json:"settlement_state"`
	}
	out := make([]penaltyView, len(pens))
	for i, p := range pens {
		out[i] = penaltyView{Penalty: p, State: p.SettlementState()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"penalties": out,
	})
}

// --- GET /api/users/{id}/ledger ---

func (s *Server) handleUserLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	account := settlement.UserAccount(userID)
	if r.URL.Query().Get("role") == "recipient" {
		account = settlement.RecipientAccount(userID)
	}
	ledger := s.settlement.Ledger()
	entries, err := ledger.History(r.Context(), account, listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	balance, err := ledger.Balance(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"balance": balance.StringFixed(2),
		"entries": entries,
	})
}

// --- GET /api/habits/{id}/analytics ---

func (s *Server) handleHabitAnalytics(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "id")
	rows, err := s.analytics.ForHabit(r.Context(), habitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []domain.RecipientAnalytics{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"habit_id":   habitID,
		"recipients": rows,
	})
}

// ─── Intake (/api/habits/{id}/...) ──────────────────────────────────────────

// --- POST /api/habits/{id}/verifications ---

type verificationRequest struct {
	Status     domain.VerificationStatus `json:"status"`
	VerifiedAt *time.Time                `json:"verified_at"`
}

func (s *Server) handleRecordVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case "", domain.VerificationApproved, domain.VerificationAutoApproved,
		domain.VerificationPending, domain.VerificationRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown verification status "+strconv.Quote(string(req.Status)))
		return
	}

	v := domain.Verification{HabitID: chi.URLParam(r, "id"), Status: req.Status}
	if req.VerifiedAt != nil {
		v.VerifiedAt = *req.VerifiedAt
	}
	v, err := s.evaluator.RecordVerification(r.Context(), v)
	if errors.Is(err, domain.ErrHabitNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// --- POST /api/habits/{id}/changes ---

type changeRequest struct {
	Type  domain.ChangeType `json:"type"`
	Habit *domain.Habit     `json:"habit,omitempty"`
}

func (s *Server) handleStageChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.planner.Plan(r.Context(), staged.Request{
		HabitID:  chi.URLParam(r, "id"),
		Type:     req.Type,
		NewHabit: req.Habit,
	})
	switch {
	case errors.Is(err, domain.ErrHabitNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrChangePending):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, domain.ErrInvalidHabit):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if res.Immediate {
		writeJSON(w, http.StatusOK, map[string]interface{}{"applied": true})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"applied": false,
		"change":  res.Change,
	})
}
