package scraper

import "time"

// Default configuration values.
const (
	DefaultFetchWorkers = 4
	DefaultParseWorkers = 1
	DefaultRunTimeout   = 2 * time.Hour
	DefaultCacheDir     = "cache"
)

// FetchWorkers bounds concurrent downloads. Implement it to set the value
// from the job rather than the runner builder.
//
// Priority: WithFetchWorkers > FetchWorkers interface > DefaultFetchWorkers.
// DownloadAndChecksum with parallel=false uses a single worker regardless.
//
// Keep this low for providers that throttle or ban aggressive clients.
//
// Example:
//
//	func (j *MyJob) FetchWorkers() int { return 8 }
type FetchWorkers interface {
	FetchWorkers() int
}

// ParseWorkers bounds concurrent [SourceParser.Parse] calls.
//
// Priority: WithParseWorkers > ParseWorkers interface > DefaultParseWorkers.
type ParseWorkers interface {
	ParseWorkers() int
}

// UploadBatchSize sets the number of fact rows per fact API request.
//
// Priority: WithUploadBatchSize > UploadBatchSize interface > DefaultUploadBatchSize.
//
// Example:
//
//	func (j *MyJob) UploadBatchSize() int { return 5000 }
type UploadBatchSize interface {
	UploadBatchSize() int
}

// RunTimeout bounds the wall-clock duration of a whole run. When it expires
// every in-flight operation is cancelled and Run returns an error wrapping
// ErrRunTimeout.
//
// Priority: WithTimeout > RunTimeout interface > DefaultRunTimeout. A zero
// value disables the watchdog.
type RunTimeout interface {
	RunTimeout() time.Duration
}

// resolveFetchWorkers returns the effective fetch worker count.
func (r *Runner) resolveFetchWorkers() int {
	if r.fetchWorkerCount != nil {
		return *r.fetchWorkerCount
	}
	if r.fetchWorkers != nil {
		return max(r.fetchWorkers.FetchWorkers(), 1)
	}
	return DefaultFetchWorkers
}

// resolveParseWorkers returns the effective parse worker count.
func (r *Runner) resolveParseWorkers() int {
	if !r.parallel {
		return 1
	}
	if r.parseWorkerCount != nil {
		return *r.parseWorkerCount
	}
	if r.parseWorkers != nil {
		return max(r.parseWorkers.ParseWorkers(), 1)
	}
	return DefaultParseWorkers
}

// resolveUploadBatchSize returns the effective upload batch size.
func (r *Runner) resolveUploadBatchSize() int {
	if r.batchSize != nil {
		return *r.batchSize
	}
	if r.batchSizeIface != nil {
		return max(r.batchSizeIface.UploadBatchSize(), 1)
	}
	return DefaultUploadBatchSize
}

// resolveTimeout returns the effective run timeout.
func (r *Runner) resolveTimeout() time.Duration {
	if r.timeout != nil {
		return *r.timeout
	}
	if r.timeoutIface != nil {
		return r.timeoutIface.RunTimeout()
	}
	return DefaultRunTimeout
}

// resolveCadence returns the job's cadence or DefaultCadence.
func (r *Runner) resolveCadence() Cadence {
	if r.cadenced != nil {
		return r.cadenced.Cadence()
	}
	return DefaultCadence
}

// resolveFetcher returns the effective fetcher.
// Priority: WithFetcher > FetcherProvider interface > HTTPFetcher.
func (r *Runner) resolveFetcher() Fetcher {
	if r.fetcher != nil {
		return r.fetcher
	}
	if r.fetcherProvider != nil {
		if f := r.fetcherProvider.Fetcher(); f != nil {
			return f
		}
	}
	return NewHTTPFetcher()
}
