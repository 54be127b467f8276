package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Fetcher downloads one artifact to src.LocalPath(). Implementations must not
// touch any path other than the source's own.
type Fetcher interface {
	Fetch(ctx context.Context, src *Source) error
}

// FetcherFunc adapts a plain function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, src *Source) error

func (f FetcherFunc) Fetch(ctx context.Context, src *Source) error {
	return f(ctx, src)
}

// StatusError is returned by HTTPFetcher for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// HTTPFetcher downloads artifacts over HTTP(S).
//
// The method defaults to GET. Sources may switch to POST through the
// "http.method" metadata key; "form.<name>" keys become form fields and
// "header.<name>" keys become request headers.
//
// The body is streamed to a temporary file next to the destination and
// renamed on success, so a failed download never leaves a truncated artifact.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher returns a fetcher with a 2 minute request timeout.
func NewHTTPFetcher() *HTTPFetcher {
	client := resty.New()
	client.SetTimeout(2 * time.Minute)
	client.SetHeader("User-Agent", "iea-scraper/1.0")
	return &HTTPFetcher{client: client}
}

// NewHTTPFetcherWithClient wraps an existing resty client (cookies, auth,
// redirect policy).
func NewHTTPFetcherWithClient(client *resty.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// WithRateLimit bounds the request rate to rps requests per second with the
// given burst.
func (f *HTTPFetcher) WithRateLimit(rps float64, burst int) *HTTPFetcher {
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	f.client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	return f
}

// Client exposes the underlying resty client.
func (f *HTTPFetcher) Client() *resty.Client {
	return f.client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src *Source) error {
	req := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)

	for name, value := range src.Metadata.prefixed(MetaHeaderPrefix) {
		req.SetHeader(name, value)
	}

	method := src.Meta(MetaMethod)
	if method == "" {
		method = http.MethodGet
	}
	if form := src.Metadata.prefixed(MetaFormPrefix); len(form) > 0 {
		req.SetFormData(form)
	}

	res, err := req.Execute(method, src.URL)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, src.URL, err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return &StatusError{URL: src.URL, Status: res.StatusCode()}
	}

	return writeAtomic(src.LocalPath(), body)
}

// FileFetcher copies artifacts from a local or mounted directory. It serves
// file:// URLs and plain paths, which allows re-processing a previously
// archived cache without network access.
type FileFetcher struct {
	// Root resolves relative URLs. Empty means the working directory.
	Root string
}

func (f FileFetcher) Fetch(_ context.Context, src *Source) error {
	path := src.URL
	if u, err := url.Parse(src.URL); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	return writeAtomic(src.LocalPath(), in)
}

// writeAtomic copies r into a temporary file in dst's directory and renames
// it onto dst.
func writeAtomic(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}

// FetchOptions configures [FetchAll].
type FetchOptions struct {
	// Job scopes checksum lookups.
	Job string
	// Workers bounds concurrent downloads. Values < 1 mean sequential.
	Workers int
	// Download false skips the network and checksums the cached files only.
	Download bool
	// Checksums, when set, is consulted for the previous checksum of each source.
	Checksums ChecksumStore
	// Now stamps LastDownload. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// FetchAll downloads (when opts.Download is set) and checksums every source.
//
// A failed fetch never aborts its siblings: the error is logged, stored on
// the Source's Err field and returned in the result list. Each worker writes
// only its own source, so no further synchronization is needed.
func FetchAll(ctx context.Context, f Fetcher, sources []*Source, opts FetchOptions) []*SourceError {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// Indexed by position so failures seen before a cancellation are kept.
	errs := make([]*SourceError, len(sources))
	positions := make([]int, len(sources))
	for i := range positions {
		positions[i] = i
	}

	_ = ParallelEach(ctx, positions, opts.Workers, func(ctx context.Context, i int) error {
		src := sources[i]
		err := fetchOne(ctx, f, src, opts, now)
		if err == nil {
			logger.DebugContext(ctx, "source ready", "job", opts.Job, "source", src.Code, "checksum", src.Checksum, "unchanged", src.Unchanged)
			return nil
		}

		src.Err = err
		src.Checksum = ""
		logger.WarnContext(ctx, "source fetch failed", "job", opts.Job, "source", src.Code, "url", src.URL, "error", err)
		errs[i] = &SourceError{Stage: StageFetch, Code: src.Code, URL: src.URL, Err: err}
		return nil
	})

	var out []*SourceError
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func fetchOne(ctx context.Context, f Fetcher, src *Source, opts FetchOptions, now func() time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.Download {
		if err := f.Fetch(ctx, src); err != nil {
			return err
		}
		src.LastDownload = now()
	}

	sum, err := Checksum(src.LocalPath())
	if err != nil {
		return err
	}
	src.Checksum = sum

	if opts.Checksums != nil {
		prev, ok, err := opts.Checksums.Previous(ctx, opts.Job, src.Code)
		if err != nil {
			return err
		}
		if ok {
			src.PreviousChecksum = prev
			src.Unchanged = prev == sum
		}
	}
	return nil
}
