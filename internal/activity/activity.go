// Package activity answers "how many qualifying events happened for this
// habit between two instants?" with one Counter per habit Kind.
//
// A source that cannot answer returns an Unavailable result rather than an
// error. Errors are reserved for failures of our own storage.
package activity

import (
	"context"
	"fmt"

	"github.com/pledgeloop/pledge/internal/domain"
	"github.com/pledgeloop/pledge/internal/infra/metrics"
	"github.com/pledgeloop/pledge/internal/timewindow"
)

// Status says whether a source produced a count.
type Status int

const (
	StatusCounted Status = iota
	StatusUnavailable
)

// Reason explains an Unavailable result.
type Reason string

const (
	// ReasonNotLinked: the user never connected the external account.
	ReasonNotLinked Reason = "not_linked"
	// ReasonSourceError: the source timed out or failed after retries.
	ReasonSourceError Reason = "source_error"
)

// Result is either a count or an explanation of why there is none.
type Result struct {
	Status Status

	// Count is the number of qualifying events (commits, problems,
	// verifications, sessions, samples).
	Count int
	// Quantity is the summed magnitude for duration/metric sources:
	// gaming minutes or the health metric total.
	Quantity float64

	Reason Reason
	Detail string
}

// Counted builds an available result.
func Counted(count int, quantity float64) Result {
	return Result{Status: StatusCounted, Count: count, Quantity: quantity}
}

// Unavailable builds an unavailable result.
func Unavailable(reason Reason, detail string) Result {
	return Result{Status: StatusUnavailable, Reason: reason, Detail: detail}
}

// Available reports whether the result carries a count.
func (r Result) Available() bool { return r.Status == StatusCounted }

// Subject is the habit being counted and its owner.
type Subject struct {
	User  domain.User
	Habit domain.Habit
}

// Counter is implemented once per habit Kind. Implementations must be
// side-effect free so they can be called any number of times.
type Counter interface {
	Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(ctx context.Context, s Subject, w timewindow.Window) (Result, error)

// Count calls f.
func (f CounterFunc) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	return f(ctx, s, w)
}

// Registry dispatches to the Counter registered for a habit's Kind.
type Registry struct {
	counters map[domain.Kind]Counter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[domain.Kind]Counter)}
}

// Register installs the counter for a kind, replacing any previous one.
func (r *Registry) Register(kind domain.Kind, c Counter) {
	r.counters[kind] = c
}

// Count dispatches on the subject habit's kind.
func (r *Registry) Count(ctx context.Context, s Subject, w timewindow.Window) (Result, error) {
	kind := s.Habit.Kind()
	c, ok := r.counters[kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownKind, kind)
	}
	res, err := c.Count(ctx, s, w)
	if err != nil {
		return Result{}, err
	}
	if !res.Available() {
		metrics.SourceUnavailable.WithLabelValues(string(kind), string(res.Reason)).Inc()
	}
	return res, nil
}
