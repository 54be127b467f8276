package scraper

import (
	"context"
	"net/url"
)

// Stage identifies where in the job life-cycle an event occurred.
type Stage string

const (
	StageDiscover   Stage = "discover"
	StageFetch      Stage = "fetch"
	StageTransform  Stage = "transform"
	StageDimensions Stage = "dimensions"
	StageUpload     Stage = "upload"
)

// Action tells the runner what to do after a per-source error.
type Action string

const (
	ActionFail Action = "fail" // Stop the run and return the error
	ActionSkip Action = "skip" // Record the error, drop the source and continue
)

// Job is the only interface a scraper has to implement besides one of
// [Transformer] or [SourceParser].
//
// Sources is the discovery step. It must branch on w.Full: a full window
// enumerates the entire addressable history, an incremental one only the
// latest periods after the job's publication delay. It must be idempotent and
// must not download artifacts; listing pages and other cheap metadata calls
// are fine. Codes and paths must be unique within the returned list.
type Job interface {
	// Name identifies the job in logs, reports and the cache directory.
	Name() string

	// Sources lists the artifacts to fetch for the given window.
	Sources(ctx context.Context, w Window) ([]*Source, error)
}

// Transformer normalizes all fetched artifacts at once. Use it when sources
// depend on each other (e.g. a lookup file used to decode the others) or when
// the job wants full control over per-file error tolerance.
//
// sources contains every discovered source, including complements and sources
// whose fetch failed: check [Source.Live] before reading.
//
// Example:
//
//	func (j *MyJob) Transform(ctx context.Context, sources []*scraper.Source, out *scraper.Output) error {
//	    for _, src := range sources {
//	        if !src.Live() || src.Complement {
//	            continue
//	        }
//	        rows, err := parse(src.LocalPath())
//	        if err != nil {
//	            return err
//	        }
//	        out.AddFacts(rows)
//	    }
//	    return nil
//	}
type Transformer interface {
	Transform(ctx context.Context, sources []*Source, out *Output) error
}

// SourceParser normalizes one fetched artifact. The runner calls Parse for
// every live, non-complement source using ParseWorkers goroutines and applies
// the job's [ParseErrorHandler] to failures.
//
// Parse may be called concurrently; Output is safe for concurrent use.
//
// Example:
//
//	func (j *MyJob) Parse(ctx context.Context, src *scraper.Source, out *scraper.Output) error {
//	    f, err := os.Open(src.LocalPath())
//	    if err != nil {
//	        return err
//	    }
//	    defer f.Close()
//	    ...
//	}
type SourceParser interface {
	Parse(ctx context.Context, src *Source, out *Output) error
}

// Complementer declares auxiliary artifacts (lookup tables, code lists) that
// are fetched and checksummed with the primary sources but never parsed as
// facts by the runner.
type Complementer interface {
	Complements(ctx context.Context, w Window) ([]*Source, error)
}

// DimensionFilterer narrows the lookup of existing dimension rows, e.g. to a
// single category, before candidates are compared by code.
//
// Example:
//
//	func (j *MyJob) DimensionFilter(name string) url.Values {
//	    if name == "entity" {
//	        return url.Values{"category": {"site"}}
//	    }
//	    return nil
//	}
type DimensionFilterer interface {
	DimensionFilter(name string) url.Values
}

// TableTarget routes facts to a dedicated table instead of the fact API.
type TableTarget interface {
	Table() Table
}

// FetcherProvider supplies a job-specific download strategy, e.g. a client
// that must log in first or POST a form.
type FetcherProvider interface {
	Fetcher() Fetcher
}

// SkipUnchanged opts a job into using checksums as a gate: sources whose
// checksum equals the last recorded one are not handed to transform.
// Without it checksums are informational only.
type SkipUnchanged interface {
	SkipUnchanged() bool
}
