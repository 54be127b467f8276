package scraper

import (
	"fmt"
	"time"
)

// Unit is the granularity at which a provider publishes data.
type Unit string

const (
	Hourly  Unit = "hour"
	Daily   Unit = "day"
	Weekly  Unit = "week"
	Monthly Unit = "month"
	Yearly  Unit = "year"
)

// Truncate returns the start of the period containing t, in t's location.
// Weeks start on Monday.
func (u Unit) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch u {
	case Hourly:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case Weekly:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Yearly:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Add shifts t by n periods.
func (u Unit) Add(t time.Time, n int) time.Time {
	switch u {
	case Hourly:
		return t.Add(time.Duration(n) * time.Hour)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return t.AddDate(0, n, 0)
	case Yearly:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// Cadence describes when a provider's data becomes available.
type Cadence struct {
	// Unit is the publication period.
	Unit Unit
	// Delay is the publication lag in units: data for a period is expected
	// Delay periods after it ends.
	Delay int
	// Lookback is the number of periods an incremental run covers (minimum 1).
	Lookback int
	// Since is the first period of the addressable history, used by full loads.
	Since time.Time
}

// Cadenced lets a job declare its own publication cadence.
type Cadenced interface {
	Cadence() Cadence
}

// DefaultCadence is used for jobs that do not implement Cadenced.
var DefaultCadence = Cadence{Unit: Daily, Lookback: 1}

// Window is the range of periods a run covers.
type Window struct {
	// Full is true for a full (historical) load.
	Full bool
	// Reference is the run's "now".
	Reference time.Time
	// Start and End are the first and last period starts covered, inclusive.
	Start, End time.Time
	Cadence    Cadence
}

// Window computes the run window for the reference time.
//
// An incremental window ends at the period Delay units before the one
// containing ref and spans Lookback periods. A full window extends the start
// back to Since, so it always contains the incremental window for the same ref.
func (c Cadence) Window(ref time.Time, full bool) Window {
	unit := c.Unit
	if unit == "" {
		unit = Daily
	}
	lookback := max(c.Lookback, 1)

	end := unit.Add(unit.Truncate(ref), -c.Delay)
	start := unit.Add(end, -(lookback - 1))
	if full && !c.Since.IsZero() {
		since := unit.Truncate(c.Since.In(ref.Location()))
		if since.Before(start) {
			start = since
		}
	}

	c.Unit = unit
	c.Lookback = lookback
	return Window{Full: full, Reference: ref, Start: start, End: end, Cadence: c}
}

// Periods enumerates the start of every period in the window, oldest first.
func (w Window) Periods() []time.Time {
	unit := w.Cadence.Unit
	var out []time.Time
	for p := w.Start; !p.After(w.End); p = unit.Add(p, 1) {
		out = append(out, p)
	}
	return out
}

// Contains reports whether t falls into one of the window's periods.
func (w Window) Contains(t time.Time) bool {
	p := w.Cadence.Unit.Truncate(t.In(w.Start.Location()))
	return !p.Before(w.Start) && !p.After(w.End)
}

func (w Window) String() string {
	mode := "incremental"
	if w.Full {
		mode = "full"
	}
	return fmt.Sprintf("%s %s..%s (%s)", mode, w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), w.Cadence.Unit)
}
