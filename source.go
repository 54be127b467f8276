package scraper

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Well-known Metadata keys understood by HTTPFetcher.
const (
	MetaMethod       = "http.method"
	MetaFormPrefix   = "form."
	MetaHeaderPrefix = "header."
)

// Metadata is a bag of provider-specific key/values attached to a Source,
// e.g. POST parameters or HTML element ids.
type Metadata map[string]string

// Source describes one downloadable artifact and where it is cached locally.
//
// A Source is created by a job's discovery step, mutated by the fetch step
// (Checksum, LastDownload, Err, PreviousChecksum, Unchanged) and read-only
// afterwards.
type Source struct {
	// Code identifies the source; unique within one run.
	Code string
	// URL is the origin of the artifact.
	URL string
	// Path is the cache key, relative to the run's cache directory unless absolute.
	// Unique within one run: each fetch worker owns exactly one path.
	Path string
	// Metadata holds provider-specific values.
	Metadata Metadata

	// Complement marks an auxiliary artifact needed by transform but not a
	// primary fact source.
	Complement bool

	Checksum         string
	PreviousChecksum string
	// Unchanged is set when a ChecksumStore knows a previous checksum equal to Checksum.
	Unchanged    bool
	LastDownload time.Time
	// Err is the fetch error, if the download or checksum failed.
	Err error

	root string
}

// NewSource is a convenience constructor for the common code/url/path triple.
func NewSource(code, url, path string) *Source {
	return &Source{Code: code, URL: url, Path: path, Metadata: Metadata{}}
}

// LocalPath returns the artifact location on disk. Relative paths are resolved
// against the cache directory assigned by the runner.
func (s *Source) LocalPath() string {
	if filepath.IsAbs(s.Path) || s.root == "" {
		return s.Path
	}
	return filepath.Join(s.root, s.Path)
}

// Live reports whether the artifact was fetched and checksummed successfully.
// Transform implementations decide themselves whether to skip dead sources;
// Runner only hands live sources to SourceParser.
func (s *Source) Live() bool {
	return s.Err == nil && s.Checksum != ""
}

// Meta returns a metadata value, or "" if absent.
func (s *Source) Meta(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map if needed.
func (s *Source) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = Metadata{}
	}
	s.Metadata[key] = value
}

func (s *Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Code, s.URL)
}

// prefixed returns metadata entries whose key starts with prefix, with the
// prefix stripped.
func (m Metadata) prefixed(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range m {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" {
			out[name] = v
		}
	}
	return out
}

// validateSources enforces unique codes and unique local paths.
func validateSources(sources []*Source) error {
	codes := make(map[string]struct{}, len(sources))
	paths := make(map[string]string, len(sources))
	for _, src := range sources {
		if src.Code == "" {
			return fmt.Errorf("%w: empty code for %s", ErrDuplicateCode, src.URL)
		}
		if _, ok := codes[src.Code]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateCode, src.Code)
		}
		codes[src.Code] = struct{}{}

		p := filepath.Clean(src.LocalPath())
		if other, ok := paths[p]; ok {
			return fmt.Errorf("%w: %q used by %q and %q", ErrDuplicatePath, p, other, src.Code)
		}
		paths[p] = src.Code
	}
	return nil
}
