package scraper

import "context"

// ParseErrorHandler declares a job's policy for malformed source files. Jobs
// differ here: some drop the offending file and keep the rest, others refuse
// to upload anything from a partially readable publication.
//
// OnParseError is consulted by the runner for every [SourceParser.Parse]
// failure. ActionSkip records the error in [Report.ParseErrors] and continues
// with the other sources; ActionFail aborts the run. Without a handler the
// runner fails.
//
// For the common cases embed [SkipParseErrors] or [AbortOnParseError]:
//
//	type MyJob struct {
//	    scraper.SkipParseErrors
//	}
//
// A Transformer job sees its own errors and applies its own policy; the
// handler is not consulted for an error returned from Transform.
type ParseErrorHandler interface {
	OnParseError(ctx context.Context, src *Source, err error) Action
}

// SkipParseErrors is an embeddable ParseErrorHandler that skips every
// malformed source.
type SkipParseErrors struct{}

func (SkipParseErrors) OnParseError(context.Context, *Source, error) Action { return ActionSkip }

// AbortOnParseError is an embeddable ParseErrorHandler that fails the run on
// the first malformed source.
type AbortOnParseError struct{}

func (AbortOnParseError) OnParseError(context.Context, *Source, error) Action { return ActionFail }

// Starter is called before discovery. The returned context is used for the
// whole run, which makes Start the place to attach request-scoped values.
//
// Example:
//
//	func (j *MyJob) Start(ctx context.Context) context.Context {
//	    j.startedAt = time.Now()
//	    return ctx
//	}
type Starter interface {
	Start(ctx context.Context) context.Context
}

// Stopper is called exactly once after a run finishes, successfully or not.
// err is the error returned by Run. Per-source fetch and skipped parse errors
// are in the report, not in err.
//
// The context passed to Stop is not cancelled by the run timeout, so Stop can
// still write to external systems after a timeout.
type Stopper interface {
	Stop(ctx context.Context, report *Report, err error)
}
