package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/alo-ngh/iea-scraper")

// ErrNoLiveSources is returned when a run discovered primary sources but
// could fetch none of them.
var ErrNoLiveSources = errors.New("scraper: every source failed to fetch")

// transformMode indicates which transformation strategy to use.
type transformMode int

const (
	transformModeTransformer transformMode = iota // all sources at once
	transformModeParser                           // one source at a time
)

// Runner drives one run of a job through its life-cycle:
//
//	created -> sources_discovered -> fetched -> transformed
//	        -> dimensions_resolved -> uploaded -> done
//
// Any failure moves the runner to StateError. A Runner is single-use: build a
// new one for every run.
type Runner struct {
	job Job

	// Configuration overrides (nil means use interface value or default)
	fetchWorkerCount *int
	parseWorkerCount *int
	batchSize        *int
	timeout          *time.Duration

	full      bool
	download  bool
	parallel  bool
	cacheDir  string
	fetcher   Fetcher
	checksums ChecksumStore
	dims      *DimensionClient
	uploader  *Uploader
	tables    *TableLoader
	now       func() time.Time
	logger    *slog.Logger

	// Transformation strategy (detected at construction)
	txMode      transformMode
	transformer Transformer
	parser      SourceParser

	// Optional capabilities (detected from job interfaces)
	cadenced         Cadenced
	complementer     Complementer
	dimFilter        DimensionFilterer
	tableTarget      TableTarget
	parseHandler     ParseErrorHandler
	fetcherProvider  FetcherProvider
	skipUnchanged    SkipUnchanged
	fetchWorkers     FetchWorkers
	parseWorkers     ParseWorkers
	batchSizeIface   UploadBatchSize
	timeoutIface     RunTimeout
	starter          Starter
	stopper          Stopper
	progressReporter ProgressReporter

	// Run state
	state   State
	window  Window
	sources []*Source
	output  *Output
	stats   *Stats
	report  *Report
	mu      sync.Mutex
}

// New creates a Runner for the given job. Optional interfaces are
// auto-detected.
//
// The job must implement one of:
//   - Transformer: receives every source at once
//   - SourceParser: receives one live source at a time, possibly concurrently
//
// If both are implemented, Transformer takes precedence.
// Panics if neither is implemented.
func New(job Job) *Runner {
	r := &Runner{
		job:      job,
		download: true,
		parallel: true,
		cacheDir: DefaultCacheDir,
		now:      time.Now,
		state:    StateCreated,
		output:   NewOutput(),
		stats:    &Stats{},
	}

	if t, ok := job.(Transformer); ok {
		r.txMode = transformModeTransformer
		r.transformer = t
	} else if p, ok := job.(SourceParser); ok {
		r.txMode = transformModeParser
		r.parser = p
	} else {
		panic("scraper: job must implement Transformer or SourceParser")
	}

	if c, ok := job.(Cadenced); ok {
		r.cadenced = c
	}
	if c, ok := job.(Complementer); ok {
		r.complementer = c
	}
	if f, ok := job.(DimensionFilterer); ok {
		r.dimFilter = f
	}
	if t, ok := job.(TableTarget); ok {
		r.tableTarget = t
	}
	if h, ok := job.(ParseErrorHandler); ok {
		r.parseHandler = h
	}
	if f, ok := job.(FetcherProvider); ok {
		r.fetcherProvider = f
	}
	if s, ok := job.(SkipUnchanged); ok {
		r.skipUnchanged = s
	}
	if w, ok := job.(FetchWorkers); ok {
		r.fetchWorkers = w
	}
	if w, ok := job.(ParseWorkers); ok {
		r.parseWorkers = w
	}
	if b, ok := job.(UploadBatchSize); ok {
		r.batchSizeIface = b
	}
	if t, ok := job.(RunTimeout); ok {
		r.timeoutIface = t
	}
	if s, ok := job.(Starter); ok {
		r.starter = s
	}
	if s, ok := job.(Stopper); ok {
		r.stopper = s
	}
	if p, ok := job.(ProgressReporter); ok {
		r.progressReporter = p
	}

	r.report = &Report{
		RunID: uuid.NewString(),
		Job:   job.Name(),
		State: StateCreated,
		Stats: r.stats,
	}
	r.WithLogger(slog.Default())
	return r
}

// WithFullLoad switches discovery to the job's entire addressable history and
// dedicated-table uploads to full reload.
func (r *Runner) WithFullLoad(full bool) *Runner {
	r.full = full
	return r
}

// WithDownload false skips the network and re-processes the cached artifacts.
func (r *Runner) WithDownload(download bool) *Runner {
	r.download = download
	return r
}

// WithParallel false runs fetch and parse with a single worker.
func (r *Runner) WithParallel(parallel bool) *Runner {
	r.parallel = parallel
	return r
}

// WithFetchWorkers overrides the number of concurrent downloads.
// Priority: this method > FetchWorkers interface > DefaultFetchWorkers.
// Values less than 1 are ignored.
func (r *Runner) WithFetchWorkers(n int) *Runner {
	if n >= 1 {
		r.fetchWorkerCount = &n
	}
	return r
}

// WithParseWorkers overrides the number of concurrent Parse calls.
// Priority: this method > ParseWorkers interface > DefaultParseWorkers.
// Values less than 1 are ignored.
func (r *Runner) WithParseWorkers(n int) *Runner {
	if n >= 1 {
		r.parseWorkerCount = &n
	}
	return r
}

// WithUploadBatchSize overrides the number of fact rows per request.
// Priority: this method > UploadBatchSize interface > DefaultUploadBatchSize.
// Values less than 1 are ignored.
func (r *Runner) WithUploadBatchSize(n int) *Runner {
	if n >= 1 {
		r.batchSize = &n
	}
	return r
}

// WithTimeout overrides the run watchdog. Zero disables it; negative values
// are ignored.
// Priority: this method > RunTimeout interface > DefaultRunTimeout.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	if d >= 0 {
		r.timeout = &d
	}
	return r
}

// WithCacheDir sets the artifact cache root. Each job caches under
// <dir>/<job name>.
func (r *Runner) WithCacheDir(dir string) *Runner {
	r.cacheDir = dir
	return r
}

// WithFetcher overrides the download strategy.
// Priority: this method > FetcherProvider interface > HTTPFetcher.
func (r *Runner) WithFetcher(f Fetcher) *Runner {
	r.fetcher = f
	return r
}

// WithChecksums sets the store consulted for previous checksums and updated
// after a successful upload.
func (r *Runner) WithChecksums(store ChecksumStore) *Runner {
	r.checksums = store
	return r
}

// WithDimensions sets the dimension API client.
func (r *Runner) WithDimensions(client *DimensionClient) *Runner {
	r.dims = client
	return r
}

// WithFacts sets the fact API uploader.
func (r *Runner) WithFacts(u *Uploader) *Runner {
	r.uploader = u
	return r
}

// WithTableLoader sets the loader used by jobs implementing TableTarget.
func (r *Runner) WithTableLoader(l *TableLoader) *Runner {
	r.tables = l
	return r
}

// WithClock overrides the reference clock used for the run window.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithLogger sets the logger. Every record carries the job name and run id.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger.With("job", r.job.Name(), "run", r.report.RunID)
	return r
}

// State returns the current life-cycle state.
func (r *Runner) State() State { return r.state }

// Window returns the run window computed by Discover.
func (r *Runner) Window() Window { return r.window }

// Sources returns the discovered sources, complements included.
func (r *Runner) Sources() []*Source { return r.sources }

// Output returns the transform output.
func (r *Runner) Output() *Output { return r.output }

// Report returns the run report. It is complete once Run returns.
func (r *Runner) Report() *Report { return r.report }

// Run executes the whole life-cycle and returns the report together with the
// first fatal error, wrapped in a *StageError.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.starter != nil {
		ctx = r.starter.Start(ctx)
	}
	stopCtx := context.WithoutCancel(ctx)

	ctx, span := tracer.Start(ctx, "scraper.run", trace.WithAttributes(
		attribute.String("job", r.job.Name()),
		attribute.String("run", r.report.RunID),
		attribute.Bool("full_load", r.full),
	))
	defer span.End()

	if d := r.resolveTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, fmt.Errorf("%w after %v", ErrRunTimeout, d))
		defer cancel()
	}

	r.report.StartedAt = r.now()
	r.logger.InfoContext(ctx, "run started", "full_load", r.full, "download", r.download)

	err := r.execute(ctx)

	r.report.FinishedAt = r.now()
	r.report.State = r.state
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.ErrorContext(ctx, "run failed", "error", err, "report", r.report)
	} else {
		r.logger.InfoContext(ctx, "run finished", "report", r.report)
	}

	if r.stopper != nil {
		r.stopper.Stop(stopCtx, r.report, err)
	}
	return r.report, err
}

func (r *Runner) execute(ctx context.Context) error {
	if err := r.Discover(ctx); err != nil {
		return err
	}
	if err := r.DownloadAndChecksum(ctx, r.download, r.parallel); err != nil {
		return err
	}
	if err := r.Transform(ctx); err != nil {
		return err
	}
	if err := r.ResolveDimensions(ctx); err != nil {
		return err
	}
	if err := r.Upsert(ctx); err != nil {
		return err
	}
	return r.finish(ctx)
}

// step runs fn as one life-cycle transition. A refused transition leaves the
// state untouched; a failure inside fn moves the runner to StateError.
func (r *Runner) step(ctx context.Context, stage Stage, to State, fn func(context.Context) error) error {
	if err := transition(r.state, to); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "scraper."+string(stage))
	defer span.End()

	if err := fn(ctx); err != nil {
		if cause := context.Cause(ctx); ctx.Err() != nil && errors.Is(cause, ErrRunTimeout) && !errors.Is(err, ErrRunTimeout) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail()
		return &StageError{Job: r.job.Name(), Stage: stage, Err: err}
	}

	r.state = to
	r.report.State = to
	r.progress(ctx)
	return nil
}

func (r *Runner) fail() {
	r.state = StateError
	r.report.State = StateError
}

// Discover computes the run window and asks the job (and its complements)
// for sources. Codes and cache paths must be unique.
func (r *Runner) Discover(ctx context.Context) error {
	return r.step(ctx, StageDiscover, StateSourcesDiscovered, func(ctx context.Context) error {
		if r.report.StartedAt.IsZero() {
			r.report.StartedAt = r.now()
		}
		r.window = r.resolveCadence().Window(r.now(), r.full)
		r.report.Window = r.window

		sources, err := r.job.Sources(ctx, r.window)
		if err != nil {
			return err
		}
		if r.complementer != nil {
			complements, err := r.complementer.Complements(ctx, r.window)
			if err != nil {
				return fmt.Errorf("complements: %w", err)
			}
			for _, c := range complements {
				c.Complement = true
			}
			sources = append(sources, complements...)
		}

		root := filepath.Join(r.cacheDir, r.job.Name())
		for _, src := range sources {
			src.root = root
		}
		if err := validateSources(sources); err != nil {
			return err
		}

		r.sources = sources
		r.report.Sources = sources
		r.stats.discovered.Store(int64(len(sources)))
		r.logger.InfoContext(ctx, "sources discovered", "window", r.window.String(), "sources", len(sources))
		return nil
	})
}

// DownloadAndChecksum fetches every source (unless download is false, which
// re-processes cached files) and attaches checksums. A source that fails is
// logged, left without a checksum and reported in Report.FetchErrors; its
// siblings continue. The step fails only when no primary source survived.
func (r *Runner) DownloadAndChecksum(ctx context.Context, download, parallel bool) error {
	return r.step(ctx, StageFetch, StateFetched, func(ctx context.Context) error {
		workers := 1
		if parallel {
			workers = r.resolveFetchWorkers()
		}

		errs := FetchAll(ctx, r.resolveFetcher(), r.sources, FetchOptions{
			Job:       r.job.Name(),
			Workers:   workers,
			Download:  download,
			Checksums: r.checksums,
			Now:       r.now,
			Logger:    r.logger,
		})
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		r.report.FetchErrors = errs

		primaries, live := 0, 0
		for _, src := range r.sources {
			if src.Live() {
				r.stats.fetched.Add(1)
				if src.Unchanged {
					r.stats.unchanged.Add(1)
				}
			}
			if !src.Complement {
				primaries++
				if src.Live() {
					live++
				}
			}
		}
		r.stats.fetchFailed.Store(int64(len(errs)))

		r.logger.InfoContext(ctx, "sources fetched", "live", r.stats.Fetched(), "failed", len(errs), "unchanged", r.stats.Unchanged())
		if primaries > 0 && live == 0 {
			return fmt.Errorf("%w (%d sources): %w", ErrNoLiveSources, primaries, errs[0])
		}
		return nil
	})
}

// transformSources returns the sources handed to transform: every source,
// minus unchanged primaries when the job opted into SkipUnchanged. A full
// table reload replaces the whole dataset and always sees every source.
func (r *Runner) transformSources() []*Source {
	if r.skipUnchanged == nil || !r.skipUnchanged.SkipUnchanged() {
		return r.sources
	}
	if r.reloadsTable() {
		r.logger.Debug("full reload: unchanged sources are transformed too")
		return r.sources
	}
	out := make([]*Source, 0, len(r.sources))
	for _, src := range r.sources {
		if src.Unchanged && !src.Complement {
			r.logger.Debug("skipping unchanged source", "source", src.Code)
			continue
		}
		out = append(out, src)
	}
	return out
}

// Transform runs the job's Transformer or SourceParser over the fetched
// artifacts.
func (r *Runner) Transform(ctx context.Context) error {
	return r.step(ctx, StageTransform, StateTransformed, func(ctx context.Context) error {
		sources := r.transformSources()

		switch r.txMode {
		case transformModeTransformer:
			if err := r.transformer.Transform(ctx, sources, r.output); err != nil {
				return err
			}
			for _, src := range sources {
				if src.Live() && !src.Complement {
					r.stats.parsed.Add(1)
				}
			}
		case transformModeParser:
			if err := r.parseAll(ctx, sources); err != nil {
				return err
			}
		default:
			panic("scraper: unknown transform mode")
		}

		r.logger.InfoContext(ctx, "transform complete",
			"facts", r.output.FactCount(), "dimension_candidates", r.output.Dimensions().Len())
		return nil
	})
}

func (r *Runner) parseAll(ctx context.Context, sources []*Source) error {
	var live []*Source
	for _, src := range sources {
		if src.Live() && !src.Complement {
			live = append(live, src)
		}
	}

	workers := 1
	if r.parallel {
		workers = r.resolveParseWorkers()
	}

	return ParallelEach(ctx, live, workers, func(ctx context.Context, src *Source) error {
		err := r.parser.Parse(ctx, src, r.output)
		if err == nil {
			r.stats.parsed.Add(1)
			return nil
		}

		srcErr := &SourceError{Stage: StageTransform, Code: src.Code, URL: src.URL, Err: err}
		action := ActionFail
		if r.parseHandler != nil {
			action = r.parseHandler.OnParseError(ctx, src, err)
		}
		if action != ActionSkip {
			return srcErr
		}

		r.mu.Lock()
		r.report.ParseErrors = append(r.report.ParseErrors, srcErr)
		r.mu.Unlock()
		r.stats.parseSkipped.Add(1)
		r.logger.WarnContext(ctx, "skipping malformed source", "source", src.Code, "error", err)
		return nil
	})
}

// ResolveDimensions drops every dimension candidate that already exists
// upstream and creates the remainder, one POST per dimension.
func (r *Runner) ResolveDimensions(ctx context.Context) error {
	return r.step(ctx, StageDimensions, StateDimensionsResolved, func(ctx context.Context) error {
		dims := r.output.Dimensions()
		names := dims.Names()
		if dims.Len() == 0 {
			return nil
		}
		if r.dims == nil {
			return ErrNoDimensionClient
		}

		for _, name := range names {
			var filter url.Values
			if r.dimFilter != nil {
				filter = r.dimFilter.DimensionFilter(name)
			}
			if _, err := r.RemoveExistingDimension(ctx, name, filter); err != nil {
				return err
			}

			rows := dims.Rows(name)
			if err := r.dims.Create(ctx, name, rows); err != nil {
				return fmt.Errorf("dimension %s: %w", name, err)
			}
			r.stats.dimensionsSubmitted.Add(int64(len(rows)))
			if len(rows) > 0 {
				r.logger.InfoContext(ctx, "dimension rows created", "dimension", name, "rows", len(rows))
			}
		}
		return nil
	})
}

// RemoveExistingDimension removes candidates of the named dynamic dimension
// whose code already exists upstream, narrowing the lookup with extra. The
// existing row always wins. It is only valid after Transform.
func (r *Runner) RemoveExistingDimension(ctx context.Context, name string, extra url.Values) (int, error) {
	if r.state != StateTransformed {
		return 0, fmt.Errorf("%w: remove existing %s in state %s", ErrInvalidTransition, name, r.state)
	}
	if r.dims == nil {
		return 0, ErrNoDimensionClient
	}

	removed, err := r.dims.RemoveExisting(ctx, r.output.Dimensions(), name, extra)
	if err != nil {
		return 0, err
	}
	r.stats.dimensionsExisting.Add(int64(removed))
	return removed, nil
}

// Upsert writes the fact rows: into the job's dedicated table when it
// implements TableTarget, to the fact API otherwise.
func (r *Runner) Upsert(ctx context.Context) error {
	return r.step(ctx, StageUpload, StateUploaded, func(ctx context.Context) error {
		if r.tableTarget != nil {
			return r.loadTable(ctx)
		}
		return r.uploadFacts(ctx)
	})
}

func (r *Runner) reloadsTable() bool {
	return r.tableTarget != nil && r.tableTarget.Table().Mode(r.full) == LoadFullReload
}

func (r *Runner) loadTable(ctx context.Context) error {
	if r.tables == nil {
		return fmt.Errorf("%w: job writes a dedicated table but no table loader is set", ErrNoSink)
	}
	if !slices.ContainsFunc(r.sources, func(src *Source) bool { return !src.Complement }) {
		r.logger.InfoContext(ctx, "nothing discovered, table left untouched")
		return nil
	}

	table := r.tableTarget.Table()
	mode := table.Mode(r.full)
	n, err := r.tables.Load(ctx, table, mode, r.output.Facts())
	if err != nil {
		return err
	}

	r.stats.uploaded.Store(int64(n))
	r.stats.batches.Store(1)
	r.report.Upload = UploadResult{Batches: 1, Rows: n}
	return nil
}

func (r *Runner) uploadFacts(ctx context.Context) error {
	facts := r.output.Facts()
	if r.uploader == nil {
		for range facts {
			return ErrNoSink
		}
		return nil
	}

	u := *r.uploader
	u.batchSize = r.resolveUploadBatchSize()
	u.logger = r.logger
	u.onBatch = func(ctx context.Context, res UploadResult) {
		r.stats.uploaded.Store(int64(res.Rows))
		r.stats.batches.Store(int64(res.Batches))
		r.report.Upload = res
		r.progress(ctx)
	}

	res, err := u.Upload(ctx, facts)
	r.report.Upload = res
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "facts uploaded", "rows", res.Rows, "batches", res.Batches)
	return nil
}

// finish records checksums of the processed sources and completes the run.
// Checksums are only recorded here, after a successful upload, so a failed
// run is processed again in full next time.
func (r *Runner) finish(ctx context.Context) error {
	if err := transition(r.state, StateDone); err != nil {
		return err
	}
	if r.checksums != nil {
		for _, src := range r.sources {
			if !src.Live() {
				continue
			}
			if err := r.checksums.Record(ctx, r.job.Name(), src); err != nil {
				r.logger.WarnContext(ctx, "record checksum failed", "source", src.Code, "error", err)
			}
		}
	}
	r.state = StateDone
	r.report.State = StateDone
	r.progress(ctx)
	return nil
}
