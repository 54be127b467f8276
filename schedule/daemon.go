package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Daemon runs entries on their cron schedule. Entries sharing the same spec
// run together as one batch, so they produce a single summary.
type Daemon struct {
	cron    *cron.Cron
	opts    Options
	logger  *slog.Logger
	batches map[string][]Entry
	order   []string
}

// NewDaemon validates every entry's spec. loc defaults to time.Local.
func NewDaemon(entries []Entry, opts Options, loc *time.Location) (*Daemon, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := opts.logger()
	cl := cronLogger{logger: logger}

	d := &Daemon{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		opts:    opts,
		logger:  logger,
		batches: map[string][]Entry{},
	}

	for _, e := range entries {
		if e.Spec == "" {
			return nil, fmt.Errorf("schedule: job %s has no schedule", e.Name)
		}
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			return nil, fmt.Errorf("schedule: job %s: %w", e.Name, err)
		}
		if _, ok := d.batches[e.Spec]; !ok {
			d.order = append(d.order, e.Spec)
		}
		d.batches[e.Spec] = append(d.batches[e.Spec], e)
	}
	return d, nil
}

// Run registers the batches and blocks until ctx is done, then waits for the
// running batches to finish.
func (d *Daemon) Run(ctx context.Context) error {
	for _, spec := range d.order {
		entries := d.batches[spec]
		if _, err := d.cron.AddFunc(spec, func() { RunAll(ctx, entries, d.opts) }); err != nil {
			return fmt.Errorf("schedule %q: %w", spec, err)
		}
	}

	d.cron.Start()
	for _, e := range d.cron.Entries() {
		d.logger.InfoContext(ctx, "batch scheduled", "next", e.Next.Format(time.DateTime))
	}

	<-ctx.Done()
	d.logger.InfoContext(ctx, "stopping scheduler")
	<-d.cron.Stop().Done()
	return nil
}

// Next returns the next activation of every batch, keyed by spec.
func (d *Daemon) Next(from time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(d.order))
	for _, spec := range d.order {
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			continue
		}
		out[spec] = sched.Next(from)
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
