package scraper_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scraper "github.com/alo-ngh/iea-scraper"
)

func TestHTTPFetcher_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Method+" "+r.Header.Get("X-Api-Key"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := scraper.NewSource("a", srv.URL+"/a.csv", filepath.Join(dir, "nested", "a.csv"))
	src.SetMeta("header.X-Api-Key", "token")

	require.NoError(t, scraper.NewHTTPFetcher().Fetch(context.Background(), src))

	data, err := os.ReadFile(src.LocalPath())
	require.NoError(t, err)
	require.Equal(t, "GET token", string(data))
}

func TestHTTPFetcher_PostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, r.Method+" "+r.PostForm.Get("date")+"/"+r.PostForm.Get("market"))
	}))
	defer srv.Close()

	src := scraper.NewSource("a", srv.URL, filepath.Join(t.TempDir(), "a.txt"))
	src.SetMeta(scraper.MetaMethod, http.MethodPost)
	src.SetMeta("form.date", "2024-03-14")
	src.SetMeta("form.market", "spot")

	require.NoError(t, scraper.NewHTTPFetcher().Fetch(context.Background(), src))

	data, err := os.ReadFile(src.LocalPath())
	require.NoError(t, err)
	require.Equal(t, "POST 2024-03-14/spot", string(data))
}

func TestHTTPFetcher_StatusErrorKeepsPreviousFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.csv", []byte("previous"))
	src := scraper.NewSource("a", srv.URL, path)

	err := scraper.NewHTTPFetcher().Fetch(context.Background(), src)
	var statusErr *scraper.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "previous", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file left behind")
}

func TestFileFetcher(t *testing.T) {
	archive := t.TempDir()
	writeFile(t, archive, "a.csv", []byte("archived"))

	cache := t.TempDir()
	src := scraper.NewSource("a", "file://"+filepath.Join(archive, "a.csv"), filepath.Join(cache, "a.csv"))
	require.NoError(t, scraper.FileFetcher{}.Fetch(context.Background(), src))

	rel := scraper.NewSource("b", "a.csv", filepath.Join(cache, "b.csv"))
	require.NoError(t, scraper.FileFetcher{Root: archive}.Fetch(context.Background(), rel))

	for _, p := range []string{src.LocalPath(), rel.LocalPath()} {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Equal(t, "archived", string(data))
	}
}

func TestFetchAll_OneFailureDoesNotAbortSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var sources []*scraper.Source
	for _, name := range []string{"a", "b", "broken", "c", "d"} {
		sources = append(sources, scraper.NewSource(name, srv.URL+"/"+name, filepath.Join(dir, name)))
	}

	at := time.Date(2024, 3, 14, 6, 0, 0, 0, time.UTC)
	errs := scraper.FetchAll(context.Background(), scraper.NewHTTPFetcher(), sources, scraper.FetchOptions{
		Job:      "test",
		Workers:  3,
		Download: true,
		Now:      func() time.Time { return at },
	})

	require.Len(t, errs, 1)
	require.Equal(t, "broken", errs[0].Code)
	require.Equal(t, scraper.StageFetch, errs[0].Stage)

	for _, src := range sources {
		if src.Code == "broken" {
			require.Error(t, src.Err)
			require.Empty(t, src.Checksum)
			require.False(t, src.Live())
			continue
		}
		require.NoError(t, src.Err)
		require.Len(t, src.Checksum, 32)
		require.Equal(t, at, src.LastDownload)
	}
}

func TestFetchAll_NoDownloadChecksumsCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a", []byte("cached"))

	fetcher := scraper.FetcherFunc(func(context.Context, *scraper.Source) error {
		t.Error("fetcher must not be called")
		return nil
	})

	cached := scraper.NewSource("a", "https://example.org/a", filepath.Join(dir, "a"))
	missing := scraper.NewSource("b", "https://example.org/b", filepath.Join(dir, "b"))

	errs := scraper.FetchAll(context.Background(), fetcher, []*scraper.Source{cached, missing}, scraper.FetchOptions{})
	require.Len(t, errs, 1)
	require.ErrorIs(t, missing.Err, os.ErrNotExist)
	require.True(t, cached.Live())
	require.True(t, cached.LastDownload.IsZero())
}

func TestFetchAll_ComparesPreviousChecksum(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "same", []byte("same"))
	writeFile(t, dir, "changed", []byte("new content"))

	same := scraper.NewSource("same", "", filepath.Join(dir, "same"))
	changed := scraper.NewSource("changed", "", filepath.Join(dir, "changed"))
	fresh := scraper.NewSource("fresh", "", filepath.Join(dir, "same"))

	sameSum, err := scraper.Checksum(same.LocalPath())
	require.NoError(t, err)

	store := scraper.NewMemoryChecksums()
	require.NoError(t, store.Record(ctx, "job", &scraper.Source{Code: "same", Checksum: sameSum}))
	require.NoError(t, store.Record(ctx, "job", &scraper.Source{Code: "changed", Checksum: sameSum}))

	errs := scraper.FetchAll(ctx, nil, []*scraper.Source{same, changed, fresh}, scraper.FetchOptions{
		Job:       "job",
		Checksums: store,
	})
	require.Empty(t, errs)

	require.True(t, same.Unchanged)
	require.False(t, changed.Unchanged)
	require.Equal(t, sameSum, changed.PreviousChecksum)
	require.False(t, fresh.Unchanged)
	require.Empty(t, fresh.PreviousChecksum)
}

func TestFetchAll_KeepsFailuresWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	fetcher := scraper.FetcherFunc(func(_ context.Context, src *scraper.Source) error {
		if src.Code == "broken" {
			return boom
		}
		cancel()
		return context.Canceled
	})

	broken := scraper.NewSource("broken", "https://example.org/broken", filepath.Join(dir, "broken"))
	last := scraper.NewSource("last", "https://example.org/last", filepath.Join(dir, "last"))
	never := scraper.NewSource("never", "https://example.org/never", filepath.Join(dir, "never"))

	errs := scraper.FetchAll(ctx, fetcher, []*scraper.Source{broken, last, never}, scraper.FetchOptions{Download: true})
	require.Len(t, errs, 2)
	require.Equal(t, "broken", errs[0].Code)
	require.ErrorIs(t, errs[0], boom)
	require.Equal(t, "last", errs[1].Code)
	require.ErrorIs(t, errs[1], context.Canceled)
	require.NoError(t, never.Err, "sources not started after the cancellation are left alone")
	require.False(t, never.Live())
}
