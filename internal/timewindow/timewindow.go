// Package timewindow converts a user's calendar days and weeks into UTC
// instant ranges. Everything here is pure; the optional zone cache is a
// performance aid and may be nil.
package timewindow

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BoundaryHour is the local hour after which the previous day counts as
// closed. Evaluation waits this long so late submissions still land.
const BoundaryHour = 1

// abbreviations maps common US zone abbreviations to IANA names.
var abbreviations = map[string]string{
	"PDT": "America/Los_Angeles",
	"PST": "America/Los_Angeles",
	"MDT": "America/Denver",
	"MST": "America/Denver",
	"CDT": "America/Chicago",
	"CST": "America/Chicago",
	"EDT": "America/New_York",
	"EST": "America/New_York",
}

// Window is a half-open UTC instant range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration is the window length; 23h or 25h on DST transition days.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// WeekRange is a seven-day local calendar range, both ends inclusive.
type WeekRange struct {
	StartDate civil.Date
	EndDate   civil.Date
}

// Contains reports whether the date falls in the week.
func (r WeekRange) Contains(d civil.Date) bool {
	return !d.Before(r.StartDate) && !d.After(r.EndDate)
}

// Window returns the UTC instant range of the week in loc.
func (r WeekRange) Window(loc *time.Location) Window {
	return Window{
		Start: r.StartDate.In(loc).UTC(),
		End:   r.EndDate.AddDays(1).In(loc).UTC(),
	}
}

// Resolver turns zone names into locations and dates into windows.
type Resolver struct {
	cache *expirable.LRU[string, *time.Location]
}

// NewResolver creates a resolver. cacheSize <= 0 disables caching.
func NewResolver(cacheSize int, ttl time.Duration) *Resolver {
	r := &Resolver{}
	if cacheSize > 0 {
		r.cache = expirable.NewLRU[string, *time.Location](cacheSize, nil, ttl)
	}
	return r
}

// Location resolves a zone name, normalizing abbreviations. Unknown or
// empty names resolve to UTC; this never fails.
func (r *Resolver) Location(name string) *time.Location {
	key := strings.TrimSpace(name)
	if r != nil && r.cache != nil {
		if loc, ok := r.cache.Get(key); ok {
			return loc
		}
	}
	loc := loadLocation(key)
	if r != nil && r.cache != nil {
		r.cache.Add(key, loc)
	}
	return loc
}

// Normalize returns the IANA name a zone string resolves to.
func (r *Resolver) Normalize(name string) string {
	return r.Location(name).String()
}

func loadLocation(name string) *time.Location {
	switch strings.ToUpper(name) {
	case "", "UTC", "Z", "GMT", "ETC/UTC":
		return time.UTC
	}
	if iana, ok := abbreviations[strings.ToUpper(name)]; ok {
		name = iana
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayWindow returns local midnight to next local midnight of date, in UTC.
func (r *Resolver) DayWindow(tz string, date civil.Date) Window {
	loc := r.Location(tz)
	return Window{
		Start: date.In(loc).UTC(),
		End:   date.AddDays(1).In(loc).UTC(),
	}
}

// WeekWindow returns the week containing anyDate that begins on weekStart.
func WeekWindow(anyDate civil.Date, weekStart time.Weekday) WeekRange {
	offset := (int(Weekday(anyDate)) - int(weekStart) + 7) % 7
	start := anyDate.AddDays(-offset)
	return WeekRange{StartDate: start, EndDate: start.AddDays(6)}
}

// Weekday returns the day of week for a calendar date.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// LocalDate is the calendar date of instant t in tz.
func (r *Resolver) LocalDate(tz string, t time.Time) civil.Date {
	return civil.DateOf(t.In(r.Location(tz)))
}

// LastClosedDay returns the latest local date whose following BoundaryHour
// has passed at now. At 01:00 Tuesday this is Monday; at 00:30 Tuesday it
// is still Sunday.
func (r *Resolver) LastClosedDay(tz string, now time.Time) civil.Date {
	local := now.In(r.Location(tz)).Add(-BoundaryHour * time.Hour)
	return civil.DateOf(local).AddDays(-1)
}

// IsClosed reports whether date's following BoundaryHour has passed.
func (r *Resolver) IsClosed(tz string, date civil.Date, now time.Time) bool {
	return !date.After(r.LastClosedDay(tz, now))
}
