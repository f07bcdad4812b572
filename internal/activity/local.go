package activity

import (
	"context"
	"strings"
	"time"

	"github.com/pledgeloop/pledge/internal/timewindow"
)

// ─── Storage-backed Counters ────────────────────────────────────────────────

// VerificationLog is the verification table the photo counter reads.
type VerificationLog interface {
	CountSuccessfulVerifications(ctx context.Context, habitID string, start, end time.Time) (int, error)
}

// PhotoCounter counts approved photo verifications in the window.
type PhotoCounter struct {
	log VerificationLog
}

// NewPhotoCounter creates a photo verification counter.
func NewPhotoCounter(log VerificationLog) *PhotoCounter {
	return &PhotoCounter{log: log}
}

// Count implements Counter.
func (c *PhotoCounter) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	n, err := c.log.CountSuccessfulVerifications(ctx, s.Habit.ID, w.Start, w.End)
	if err != nil {
		return Result{}, err
	}
	return Counted(n, float64(n)), nil
}

// SessionLog is the gaming session table.
type SessionLog interface {
	SumGamingMinutes(ctx context.Context, userID string, start, end time.Time) (float64, int, error)
}

// GamingCounter sums reported play minutes in the window.
type GamingCounter struct {
	log SessionLog
}

// NewGamingCounter creates a gaming time counter.
func NewGamingCounter(log SessionLog) *GamingCounter {
	return &GamingCounter{log: log}
}

// Count implements Counter. Quantity is total minutes.
func (c *GamingCounter) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	minutes, sessions, err := c.log.SumGamingMinutes(ctx, s.User.ID, w.Start, w.End)
	if err != nil {
		return Result{}, err
	}
	return Counted(sessions, minutes), nil
}

// MetricLog is the health sample table.
type MetricLog interface {
	SumHealthMetric(ctx context.Context, userID, metric string, start, end time.Time) (float64, int, error)
}

// HealthCounter sums a health metric in the window.
type HealthCounter struct {
	log MetricLog
}

// NewHealthCounter creates a health metric counter.
func NewHealthCounter(log MetricLog) *HealthCounter {
	return &HealthCounter{log: log}
}

// Count implements Counter. Quantity is the metric total; Count is the
// number of samples. No samples at all means the device never synced.
func (c *HealthCounter) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	metric := s.Habit.Metric
	if metric == "" {
		metric = strings.TrimPrefix(strings.TrimPrefix(s.Habit.HabitType, "health"), "_")
	}
	total, samples, err := c.log.SumHealthMetric(ctx, s.User.ID, metric, w.Start, w.End)
	if err != nil {
		return Result{}, err
	}
	if samples == 0 {
		return Unavailable(ReasonNotLinked, "no health samples"), nil
	}
	return Counted(samples, total), nil
}
