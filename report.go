package scraper

import (
	"log/slog"
	"time"
)

// Report describes one run. It is returned by [Runner.Run] even when the run
// failed, so partial progress stays observable.
type Report struct {
	RunID      string
	Job        string
	Window     Window
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      *Stats

	// Sources lists every discovered source, complements included, in
	// discovery order.
	Sources []*Source
	// FetchErrors holds the sources whose download or checksum failed.
	FetchErrors []*SourceError
	// ParseErrors holds the sources dropped by a skip parse policy.
	ParseErrors []*SourceError
	// Upload describes what reached the fact API before the run ended.
	Upload UploadResult
}

// Duration returns the wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Partial reports whether the run finished but some sources were lost on the
// way, either to fetch errors or to skipped parse errors.
func (r *Report) Partial() bool {
	return r.State == StateDone && (len(r.FetchErrors) > 0 || len(r.ParseErrors) > 0)
}

// LogValue implements slog.LogValuer.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run", r.RunID),
		slog.String("job", r.Job),
		slog.String("state", string(r.State)),
		slog.String("window", r.Window.String()),
		slog.Duration("duration", r.Duration()),
		slog.Int("fetch_errors", len(r.FetchErrors)),
		slog.Int("parse_errors", len(r.ParseErrors)),
		slog.Any("stats", r.Stats),
	)
}
