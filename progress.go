package scraper

import "context"

// ProgressReporter receives updates while a run is in flight. Implement it to
// log throughput or feed a dashboard during long uploads.
//
// OnProgress is called after each stage completes and after every accepted
// upload batch, always from the goroutine running [Runner.Run]. Avoid
// blocking I/O inside it.
//
// Example:
//
//	func (j *MyJob) OnProgress(ctx context.Context, state scraper.State, stats *scraper.Stats) {
//	    slog.InfoContext(ctx, "progress", "state", state, "uploaded", stats.Uploaded())
//	}
type ProgressReporter interface {
	OnProgress(ctx context.Context, state State, stats *Stats)
}

func (r *Runner) progress(ctx context.Context) {
	if r.progressReporter != nil {
		r.progressReporter.OnProgress(ctx, r.state, r.stats)
	}
}
