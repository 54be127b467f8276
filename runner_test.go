package scraper_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scraper "github.com/alo-ngh/iea-scraper"
)

// =============================================================================
// Test Helpers
// =============================================================================

var refTime = time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)

// publisher serves one "period,value" CSV per path. Paths listed in broken
// answer 502, paths in garbage answer unparsable content.
type publisher struct {
	broken  map[string]bool
	garbage map[string]bool
}

func (p *publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case p.broken[name]:
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	case p.garbage[name]:
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	default:
		fmt.Fprintf(w, "period,value\n%s,%d\n", name, len(name))
	}
}

type env struct {
	pub     *publisher
	pubURL  string
	facts   *factAPI
	factURL string
	dims    *dimensionAPI
	dimURL  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		pub:   &publisher{broken: map[string]bool{}, garbage: map[string]bool{}},
		facts: &factAPI{},
		dims:  newDimensionAPI(),
	}
	pubSrv := httptest.NewServer(e.pub)
	factSrv := httptest.NewServer(e.facts)
	dimSrv := httptest.NewServer(e.dims)
	t.Cleanup(func() {
		pubSrv.Close()
		factSrv.Close()
		dimSrv.Close()
	})
	e.pubURL, e.factURL, e.dimURL = pubSrv.URL, factSrv.URL, dimSrv.URL
	return e
}

func (e *env) runner(t *testing.T, job scraper.Job) *scraper.Runner {
	t.Helper()
	client := scraper.NewAPIClient("")
	return scraper.New(job).
		WithCacheDir(t.TempDir()).
		WithClock(func() time.Time { return refTime }).
		WithFacts(scraper.NewUploader(client, e.factURL)).
		WithDimensions(scraper.NewDimensionClient(client, e.dimURL))
}

// parseCSV reads the two-column files served by publisher.
func parseCSV(path string) ([]scraper.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []scraper.Row
	sc := bufio.NewScanner(f)
	for i := 0; sc.Scan(); i++ {
		if i == 0 {
			if sc.Text() != "period,value" {
				return nil, fmt.Errorf("unexpected header %q", sc.Text())
			}
			continue
		}
		period, value, ok := strings.Cut(sc.Text(), ",")
		if !ok {
			return nil, fmt.Errorf("line %d: missing value", i+1)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		rows = append(rows, scraper.Row{"period": period, "value": v})
	}
	return rows, sc.Err()
}

// =============================================================================
// Parser Job Implementation
// =============================================================================

// dailyJob publishes one file per day and parses each file on its own.
type dailyJob struct {
	baseURL string
	cadence scraper.Cadence
	names   []string

	mu     sync.Mutex
	parsed []string
	dims   []scraper.Row
}

var (
	_ scraper.Job          = (*dailyJob)(nil)
	_ scraper.SourceParser = (*dailyJob)(nil)
	_ scraper.Cadenced     = (*dailyJob)(nil)
)

func (j *dailyJob) Name() string { return "daily" }

func (j *dailyJob) Cadence() scraper.Cadence { return j.cadence }

func (j *dailyJob) Sources(_ context.Context, w scraper.Window) ([]*scraper.Source, error) {
	names := j.names
	if names == nil {
		for _, p := range w.Periods() {
			names = append(names, p.Format("20060102"))
		}
	}
	var out []*scraper.Source
	for _, name := range names {
		out = append(out, scraper.NewSource(name, j.baseURL+"/"+name, name+".csv"))
	}
	return out, nil
}

func (j *dailyJob) Parse(_ context.Context, src *scraper.Source, out *scraper.Output) error {
	rows, err := parseCSV(src.LocalPath())
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.parsed = append(j.parsed, src.Code)
	j.mu.Unlock()

	for _, row := range rows {
		row["source"] = src.Code
		out.AddFact(row)
	}
	for _, d := range j.dims {
		out.AddDimension("entity", d)
	}
	return nil
}

type skippingJob struct {
	dailyJob
	scraper.SkipParseErrors
}

type abortingJob struct {
	dailyJob
	scraper.AbortOnParseError
}

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunner_ThreeSourcesOneNetworkError(t *testing.T) {
	e := newEnv(t)
	e.pub.broken["b"] = true
	job := &dailyJob{baseURL: e.pubURL, names: []string{"a", "b", "c"}}

	report, err := e.runner(t, job).Run(context.Background())
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"a", "c"}, job.parsed, "transform sees exactly the readable artifacts")
	require.Equal(t, scraper.StateDone, report.State)
	require.True(t, report.Partial(), "partial success is observable")
	require.Len(t, report.FetchErrors, 1)
	require.Equal(t, "b", report.FetchErrors[0].Code)

	var statusErr *scraper.StatusError
	require.ErrorAs(t, report.FetchErrors[0], &statusErr)

	require.Equal(t, int64(3), report.Stats.Discovered())
	require.Equal(t, int64(2), report.Stats.Fetched())
	require.Equal(t, int64(1), report.Stats.FetchFailed())
	require.Equal(t, int64(2), report.Stats.Uploaded())
	require.Equal(t, 2, e.facts.rows())

	for _, src := range report.Sources {
		require.Equal(t, src.Code != "b", src.Checksum != "", "checksum for %s", src.Code)
	}
}

func TestRunner_ExistingDimensionWins(t *testing.T) {
	e := newEnv(t)
	e.dims.seed("entity", scraper.Row{"code": "X", "long_name": "old"})

	job := &dailyJob{
		baseURL: e.pubURL,
		names:   []string{"a"},
		dims: []scraper.Row{
			{"code": "X", "long_name": "new"},
			{"code": "Y", "long_name": "new"},
		},
	}

	report, err := e.runner(t, job).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, e.dims.posts["entity"], 1)
	posted := e.dims.posts["entity"][0]
	require.Len(t, posted, 1)
	require.Equal(t, "Y", posted[0].Code())

	for _, row := range e.dims.rows["entity"] {
		if row.Code() == "X" {
			require.Equal(t, "old", row["long_name"])
		}
	}
	require.Equal(t, int64(1), report.Stats.DimensionsExisting())
	require.Equal(t, int64(1), report.Stats.DimensionsSubmitted())
}

func TestRunner_DiscoveryIsIdempotent(t *testing.T) {
	job := &dailyJob{
		baseURL: "https://example.org",
		cadence: scraper.Cadence{Unit: scraper.Daily, Delay: 1, Lookback: 5},
	}
	w := job.Cadence().Window(refTime, false)

	codes := func() []string {
		sources, err := job.Sources(context.Background(), w)
		require.NoError(t, err)
		var out []string
		for _, s := range sources {
			out = append(out, s.Code)
		}
		return out
	}

	first := codes()
	require.Len(t, first, 5)
	require.Equal(t, first, codes())

	r := scraper.New(job).WithClock(func() time.Time { return refTime })
	require.NoError(t, r.Discover(context.Background()))
	require.Len(t, r.Sources(), 5)
	require.Equal(t, "20240313", r.Sources()[4].Code)
}

func TestRunner_FullLoadCoversIncremental(t *testing.T) {
	job := &dailyJob{
		baseURL: "https://example.org",
		cadence: scraper.Cadence{Unit: scraper.Daily, Delay: 1, Lookback: 2, Since: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
	}
	clock := func() time.Time { return refTime }

	inc := scraper.New(job).WithClock(clock)
	require.NoError(t, inc.Discover(context.Background()))
	full := scraper.New(job).WithClock(clock).WithFullLoad(true)
	require.NoError(t, full.Discover(context.Background()))

	fullCodes := map[string]bool{}
	for _, s := range full.Sources() {
		fullCodes[s.Code] = true
	}
	for _, s := range inc.Sources() {
		require.True(t, fullCodes[s.Code], "full load misses %s", s.Code)
	}
	require.Len(t, full.Sources(), 13)
	require.Len(t, inc.Sources(), 2)
}

func TestRunner_StepsMustRunInOrder(t *testing.T) {
	r := scraper.New(&dailyJob{names: []string{"a"}})

	err := r.Transform(context.Background())
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)
	require.Equal(t, scraper.StateCreated, r.State(), "a refused step leaves the state untouched")

	_, err = r.RemoveExistingDimension(context.Background(), "entity", nil)
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)
}

func TestRunner_IsSingleUse(t *testing.T) {
	e := newEnv(t)
	r := e.runner(t, &dailyJob{baseURL: e.pubURL, names: []string{"a"}})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)
}

func TestRunner_DuplicateCodeFailsDiscovery(t *testing.T) {
	e := newEnv(t)
	r := e.runner(t, &dailyJob{baseURL: e.pubURL, names: []string{"a", "a"}})

	report, err := r.Run(context.Background())

	var stageErr *scraper.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, scraper.StageDiscover, stageErr.Stage)
	require.ErrorIs(t, err, scraper.ErrDuplicateCode)
	require.Equal(t, scraper.StateError, report.State)
}

func TestRunner_AllSourcesFailed(t *testing.T) {
	e := newEnv(t)
	e.pub.broken["a"] = true
	e.pub.broken["b"] = true

	report, err := e.runner(t, &dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}}).Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrNoLiveSources)
	require.Len(t, report.FetchErrors, 2)
	require.Equal(t, scraper.StateError, report.State)
}

func TestRunner_EmptyDiscoveryFinishes(t *testing.T) {
	e := newEnv(t)
	report, err := e.runner(t, &dailyJob{baseURL: e.pubURL, names: []string{}}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, scraper.StateDone, report.State)
	require.Zero(t, e.facts.requests)
}

func TestRunner_ParseErrorPolicy(t *testing.T) {
	tests := []struct {
		name     string
		job      func(base string) scraper.Job
		wantErr  bool
		skipped  int
		uploaded int
	}{
		{
			name: "default fails",
			job: func(base string) scraper.Job {
				return &dailyJob{baseURL: base, names: []string{"a", "bad", "c"}}
			},
			wantErr: true,
		},
		{
			name: "abort",
			job: func(base string) scraper.Job {
				return &abortingJob{dailyJob: dailyJob{baseURL: base, names: []string{"a", "bad", "c"}}}
			},
			wantErr: true,
		},
		{
			name: "skip",
			job: func(base string) scraper.Job {
				return &skippingJob{dailyJob: dailyJob{baseURL: base, names: []string{"a", "bad", "c"}}}
			},
			skipped:  1,
			uploaded: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.pub.garbage["bad"] = true

			report, err := e.runner(t, tt.job(e.pubURL)).Run(context.Background())
			if tt.wantErr {
				var stageErr *scraper.StageError
				require.ErrorAs(t, err, &stageErr)
				require.Equal(t, scraper.StageTransform, stageErr.Stage)

				var srcErr *scraper.SourceError
				require.ErrorAs(t, err, &srcErr)
				require.Equal(t, "bad", srcErr.Code)
				require.Zero(t, e.facts.requests, "nothing is uploaded")
				return
			}

			require.NoError(t, err)
			require.Len(t, report.ParseErrors, tt.skipped)
			require.Equal(t, int64(tt.skipped), report.Stats.ParseSkipped())
			require.Equal(t, tt.uploaded, e.facts.rows())
			require.True(t, report.Partial())
		})
	}
}

func TestRunner_UploadFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	e.facts.failAt = 2

	job := &dailyJob{baseURL: e.pubURL, names: []string{"a", "b", "c"}}
	report, err := e.runner(t, job).WithUploadBatchSize(1).WithParallel(false).Run(context.Background())

	var batchErr *scraper.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 1, batchErr.Index)
	require.Equal(t, scraper.StateError, report.State)
	require.Equal(t, scraper.UploadResult{Batches: 1, Rows: 1}, report.Upload)
}

func TestRunner_NoSink(t *testing.T) {
	e := newEnv(t)
	job := &dailyJob{baseURL: e.pubURL, names: []string{"a"}}

	_, err := scraper.New(job).
		WithCacheDir(t.TempDir()).
		Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrNoSink)
}

func TestRunner_MissingDimensionClient(t *testing.T) {
	e := newEnv(t)
	job := &dailyJob{baseURL: e.pubURL, names: []string{"a"}, dims: []scraper.Row{{"code": "N"}}}

	_, err := scraper.New(job).
		WithCacheDir(t.TempDir()).
		WithFacts(scraper.NewUploader(scraper.NewAPIClient(""), e.factURL)).
		Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrNoDimensionClient)
}

// =============================================================================
// Transformer Job Implementation
// =============================================================================

// bundleJob needs a lookup complement to decode its primary files.
type bundleJob struct {
	baseURL string
	seen    []string
	hooks   []string
	stopErr error
	report  *scraper.Report
}

var (
	_ scraper.Job          = (*bundleJob)(nil)
	_ scraper.Transformer  = (*bundleJob)(nil)
	_ scraper.Complementer = (*bundleJob)(nil)
	_ scraper.Starter      = (*bundleJob)(nil)
	_ scraper.Stopper      = (*bundleJob)(nil)
)

func (j *bundleJob) Name() string { return "bundle" }

func (j *bundleJob) Sources(context.Context, scraper.Window) ([]*scraper.Source, error) {
	return []*scraper.Source{
		scraper.NewSource("p1", j.baseURL+"/p1", "p1.csv"),
		scraper.NewSource("p2", j.baseURL+"/p2", "p2.csv"),
	}, nil
}

func (j *bundleJob) Complements(context.Context, scraper.Window) ([]*scraper.Source, error) {
	return []*scraper.Source{scraper.NewSource("lookup", j.baseURL+"/lookup", "lookup.csv")}, nil
}

func (j *bundleJob) Transform(_ context.Context, sources []*scraper.Source, out *scraper.Output) error {
	for _, src := range sources {
		j.seen = append(j.seen, fmt.Sprintf("%s:%t", src.Code, src.Complement))
		if src.Complement || !src.Live() {
			continue
		}
		rows, err := parseCSV(src.LocalPath())
		if err != nil {
			return err
		}
		out.AddFacts(rows)
	}
	return nil
}

func (j *bundleJob) Start(ctx context.Context) context.Context {
	j.hooks = append(j.hooks, "start")
	return ctx
}

func (j *bundleJob) Stop(_ context.Context, report *scraper.Report, err error) {
	j.hooks = append(j.hooks, "stop")
	j.report = report
	j.stopErr = err
}

// transformerAndParser implements both strategies; Transformer wins.
type transformerAndParser struct {
	bundleJob
	parseCalls int
}

func (j *transformerAndParser) Parse(context.Context, *scraper.Source, *scraper.Output) error {
	j.parseCalls++
	return nil
}

type sourcesOnly struct{}

func (sourcesOnly) Name() string { return "nothing" }
func (sourcesOnly) Sources(context.Context, scraper.Window) ([]*scraper.Source, error) {
	return nil, nil
}

func TestRunner_TransformerWithComplements(t *testing.T) {
	e := newEnv(t)
	job := &bundleJob{baseURL: e.pubURL}

	report, err := e.runner(t, job).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"p1:false", "p2:false", "lookup:true"}, job.seen)
	require.Equal(t, []string{"start", "stop"}, job.hooks)
	require.Same(t, report, job.report)
	require.NoError(t, job.stopErr)
	require.Equal(t, int64(3), report.Stats.Fetched())
	require.Equal(t, int64(2), report.Stats.Parsed())
	require.Equal(t, 2, e.facts.rows(), "complements are never facts")
}

func TestRunner_TransformerTakesPrecedence(t *testing.T) {
	e := newEnv(t)
	job := &transformerAndParser{bundleJob: bundleJob{baseURL: e.pubURL}}

	_, err := e.runner(t, job).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, job.parseCalls)
	require.NotEmpty(t, job.seen)
}

func TestNew_PanicsWithoutTransform(t *testing.T) {
	require.PanicsWithValue(t, "scraper: job must implement Transformer or SourceParser", func() {
		scraper.New(sourcesOnly{})
	})
}

// =============================================================================
// Change Detection
// =============================================================================

type gatedJob struct {
	dailyJob
}

func (j *gatedJob) SkipUnchanged() bool { return true }

func TestRunner_ChecksumsRecordedAfterSuccess(t *testing.T) {
	e := newEnv(t)
	store := scraper.NewMemoryChecksums()
	cache := t.TempDir()

	run := func(job scraper.Job) (*scraper.Report, error) {
		return e.runner(t, job).WithCacheDir(cache).WithChecksums(store).Run(context.Background())
	}

	// A failed upload records nothing.
	e.facts.failAt = 1
	_, err := run(&dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}})
	require.Error(t, err)
	_, ok, err := store.Previous(context.Background(), "daily", "a")
	require.NoError(t, err)
	require.False(t, ok)

	// A successful run records every live source.
	e.facts.failAt = 0
	report, err := run(&dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}})
	require.NoError(t, err)
	require.Zero(t, report.Stats.Unchanged())
	sum, ok, err := store.Previous(context.Background(), "daily", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, report.Sources[0].Checksum, sum)

	// Informational by default: unchanged sources are still parsed.
	job := &dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}}
	report, err = run(job)
	require.NoError(t, err)
	require.Equal(t, int64(2), report.Stats.Unchanged())
	require.Len(t, job.parsed, 2)

	// Opted in: unchanged sources are skipped.
	gated := &gatedJob{dailyJob: dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}}}
	_, err = run(gated)
	require.NoError(t, err)
	require.Empty(t, gated.parsed)
}

// reloadJob rebuilds its whole table on every run and skips unchanged files.
type reloadJob struct {
	gatedJob
	scraper.SkipParseErrors
}

func (j *reloadJob) Table() scraper.Table {
	return scraper.Table{
		Name:           "readings",
		Columns:        []string{"provider", "source", "period", "value"},
		Key:            []string{"provider", "source", "period"},
		ProviderColumn: "provider",
		Provider:       "daily",
		NoIncrement:    true,
	}
}

func (j *reloadJob) Parse(ctx context.Context, src *scraper.Source, out *scraper.Output) error {
	sub := scraper.NewOutput()
	if err := j.dailyJob.Parse(ctx, src, sub); err != nil {
		return err
	}
	for row := range sub.Facts() {
		row["provider"] = "daily"
		out.AddFact(row)
	}
	return nil
}

func TestRunner_FullReloadKeepsUnchangedSources(t *testing.T) {
	e := newEnv(t)
	db := openSQLite(t)
	_, err := db.Exec(`CREATE TABLE readings (provider TEXT, source TEXT, period TEXT, value REAL)`)
	require.NoError(t, err)

	store := scraper.NewMemoryChecksums()
	cache := t.TempDir()
	run := func() (*scraper.Report, error) {
		job := &reloadJob{gatedJob: gatedJob{dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}}}}
		return e.runner(t, job).
			WithCacheDir(cache).
			WithChecksums(store).
			WithTableLoader(scraper.NewTableLoader(db, scraper.SQLite)).
			Run(context.Background())
	}
	count := func() int {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n))
		return n
	}

	_, err = run()
	require.NoError(t, err)
	require.Equal(t, 2, count())

	report, err := run()
	require.NoError(t, err)
	require.Equal(t, int64(2), report.Stats.Unchanged())
	require.Equal(t, int64(2), report.Stats.Parsed())
	require.Equal(t, 2, count(), "unchanged sources are reloaded, not dropped")

	// Every file unreadable: the reload is refused and the rows stay.
	e.pub.garbage["a"], e.pub.garbage["b"] = true, true
	report, err = run()
	require.ErrorIs(t, err, scraper.ErrEmptyReload)
	require.Equal(t, scraper.StateError, report.State)
	require.Equal(t, 2, count())
}

func TestRunner_NoDownloadReprocessesCache(t *testing.T) {
	e := newEnv(t)
	cache := t.TempDir()

	_, err := e.runner(t, &dailyJob{baseURL: e.pubURL, names: []string{"a"}}).WithCacheDir(cache).Run(context.Background())
	require.NoError(t, err)

	offline := &dailyJob{baseURL: "http://127.0.0.1:1", names: []string{"a"}}
	report, err := e.runner(t, offline).WithCacheDir(cache).WithDownload(false).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, offline.parsed)
	require.True(t, report.Sources[0].LastDownload.IsZero())
}

// =============================================================================
// Timeout and Configuration
// =============================================================================

type slowFetcher struct{}

func (slowFetcher) Fetch(ctx context.Context, _ *scraper.Source) error {
	<-ctx.Done()
	return ctx.Err()
}

type slowJob struct {
	dailyJob
}

func (j *slowJob) Fetcher() scraper.Fetcher { return slowFetcher{} }

func (j *slowJob) RunTimeout() time.Duration { return 20 * time.Millisecond }

func TestRunner_Timeout(t *testing.T) {
	e := newEnv(t)
	job := &slowJob{dailyJob: dailyJob{baseURL: e.pubURL, names: []string{"a", "b"}}}

	start := time.Now()
	report, err := e.runner(t, job).Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrRunTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, scraper.StateError, report.State)
}

type batchedJob struct {
	dailyJob
}

func (j *batchedJob) UploadBatchSize() int { return 1 }

func TestRunner_UploadBatchSizePriority(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}

	t.Run("interface", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.runner(t, &batchedJob{dailyJob{baseURL: e.pubURL, names: names}}).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 5, e.facts.requests)
	})

	t.Run("builder overrides interface", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.runner(t, &batchedJob{dailyJob{baseURL: e.pubURL, names: names}}).
			WithUploadBatchSize(2).
			Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, e.facts.requests)
	})
}

// =============================================================================
// Dimension Filter
// =============================================================================

type filteredJob struct {
	dailyJob
}

func (j *filteredJob) DimensionFilter(name string) url.Values {
	if name == "entity" {
		return url.Values{"category": {"site"}}
	}
	return nil
}

func TestRunner_DimensionFilter(t *testing.T) {
	e := newEnv(t)
	e.dims.seed("entity", scraper.Row{"code": "X", "category": "plant"})

	job := &filteredJob{dailyJob{baseURL: e.pubURL, names: []string{"a"}, dims: []scraper.Row{{"code": "X", "category": "site"}}}}
	_, err := e.runner(t, job).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, "site", e.dims.queries[0].Get("category"))
	require.Len(t, e.dims.posts["entity"], 1, "X exists only in another category")
}

func TestStageError_Unwrap(t *testing.T) {
	inner := errors.New("listing page unreachable")
	err := &scraper.StageError{Job: "grid", Stage: scraper.StageDiscover, Err: inner}
	require.ErrorIs(t, err, inner)
	require.Equal(t, "grid: discover: listing page unreachable", err.Error())
}
