// Package schedule runs batches of scraper jobs, isolates their failures and
// reports the outcome.
//
// A failed job never stops the batch and is never retried automatically: the
// next scheduled run (or an operator re-running it) processes the window again.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	scraper "github.com/alo-ngh/iea-scraper"
)

// Entry is one schedulable job. Build constructs a fresh runner for every run.
type Entry struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@daily". Only the daemon uses it.
	Spec  string
	Build func(ctx context.Context) (*scraper.Runner, error)
}

// Outcome is the overall result of one job in a batch.
type Outcome string

const (
	OutcomeOK    Outcome = "OK"
	OutcomeError Outcome = "ERROR"
)

// Status is the result of one job in a batch.
type Status struct {
	Job       string
	RunID     string
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	// Report is nil when the runner could not be built.
	Report *scraper.Report
}

// Failed reports whether the job ended in error.
func (s Status) Failed() bool { return s.Outcome == OutcomeError }

// ErrPanic wraps a panic recovered from a job.
var ErrPanic = errors.New("schedule: job panicked")

// Options configures what happens around each batch.
type Options struct {
	// RunLog persists one row per job when set.
	RunLog *RunLog
	// Notifier receives the statuses once the batch is over.
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// RunAll runs entries one after another and returns one status per entry, in
// order. Errors and panics are contained to the job that raised them.
func RunAll(ctx context.Context, entries []Entry, opts Options) []Status {
	logger := opts.logger()
	statuses := make([]Status, 0, len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			statuses = append(statuses, Status{Job: e.Name, Outcome: OutcomeError, StartedAt: opts.now(), Err: err})
			continue
		}

		st := runOne(ctx, e, opts)
		statuses = append(statuses, st)

		if st.Failed() {
			logger.ErrorContext(ctx, "job failed", "job", st.Job, "run", st.RunID, "error", st.Err)
		} else {
			logger.InfoContext(ctx, "job succeeded", "job", st.Job, "run", st.RunID, "duration", st.Duration)
		}

		if opts.RunLog != nil {
			if err := opts.RunLog.Record(ctx, st); err != nil {
				logger.WarnContext(ctx, "record job run failed", "job", st.Job, "error", err)
			}
		}
	}

	if opts.Notifier != nil {
		if err := opts.Notifier.Notify(ctx, statuses); err != nil {
			logger.ErrorContext(ctx, "notify failed", "error", err)
		}
	}
	return statuses
}

func runOne(ctx context.Context, e Entry, opts Options) (st Status) {
	st = Status{Job: e.Name, StartedAt: opts.now(), Outcome: OutcomeOK}
	defer func() {
		if p := recover(); p != nil {
			st.Err = fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())
		}
		if st.Err != nil {
			st.Outcome = OutcomeError
		}
		st.Duration = opts.now().Sub(st.StartedAt)
	}()

	runner, err := e.Build(ctx)
	if err != nil {
		st.Err = fmt.Errorf("build %s: %w", e.Name, err)
		return st
	}
	st.RunID = runner.Report().RunID
	st.Report = runner.Report()

	_, st.Err = runner.Run(ctx)
	return st
}

// Failures counts the failed statuses.
func Failures(statuses []Status) int {
	n := 0
	for _, st := range statuses {
		if st.Failed() {
			n++
		}
	}
	return n
}
