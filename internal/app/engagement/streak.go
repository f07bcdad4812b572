// Package engagement holds the per-habit counters a miss or a completion
// moves: the habit streak, the recipient analytics row, and the owner's
// notification outbox.
package engagement

import (
	"context"
	"fmt"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

// StreakService manages habit streaks.
// A completion adds one, a miss takes one away, and the streak never drops
// below zero. Callers serialize per user, so read-then-write is safe.
type StreakService struct {
	db *sqlite.DB
}

// NewStreakService creates a streak service.
func NewStreakService(db *sqlite.DB) *StreakService {
	return &StreakService{db: db}
}

// Current returns the stored streak.
func (s *StreakService) Current(ctx context.Context, habitID string) (int, error) {
	h, err := s.load(ctx, habitID)
	if err != nil {
		return 0, err
	}
	return h.Streak, nil
}

// Increment extends the streak by one and returns the new value.
func (s *StreakService) Increment(ctx context.Context, habitID string) (int, error) {
	return s.adjust(ctx, habitID, 1)
}

// Decrement shortens the streak by one, floored at zero.
func (s *StreakService) Decrement(ctx context.Context, habitID string) (int, error) {
	return s.adjust(ctx, habitID, -1)
}

// Reset sets the streak to zero.
func (s *StreakService) Reset(ctx context.Context, habitID string) error {
	if err := s.db.SetStreak(ctx, habitID, 0); err != nil {
		return fmt.Errorf("reset streak: %w", err)
	}
	return nil
}

func (s *StreakService) adjust(ctx context.Context, habitID string, delta int) (int, error) {
	h, err := s.load(ctx, habitID)
	if err != nil {
		return 0, err
	}
	next := max(h.Streak+delta, 0)
	if next == h.Streak {
		return next, nil
	}
	if err := s.db.SetStreak(ctx, habitID, next); err != nil {
		return 0, fmt.Errorf("set streak: %w", err)
	}
	return next, nil
}

func (s *StreakService) load(ctx context.Context, habitID string) (*domain.Habit, error) {
	h, err := s.db.GetHabit(ctx, habitID)
	if err != nil {
		return nil, fmt.Errorf("get habit: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrHabitNotFound, habitID)
	}
	return h, nil
}
