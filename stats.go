package scraper

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// Stats provides run counters with thread-safe access. Fetch and parse
// workers update them concurrently.
type Stats struct {
	discovered          atomic.Int64
	fetched             atomic.Int64
	fetchFailed         atomic.Int64
	unchanged           atomic.Int64
	parsed              atomic.Int64
	parseSkipped        atomic.Int64
	uploaded            atomic.Int64
	batches             atomic.Int64
	dimensionsSubmitted atomic.Int64
	dimensionsExisting  atomic.Int64
}

// Discovered returns the number of sources (complements included) discovered.
func (s *Stats) Discovered() int64 { return s.discovered.Load() }

// Fetched returns the number of sources downloaded and checksummed.
func (s *Stats) Fetched() int64 { return s.fetched.Load() }

// FetchFailed returns the number of sources whose fetch failed.
func (s *Stats) FetchFailed() int64 { return s.fetchFailed.Load() }

// Unchanged returns the number of sources whose checksum matched the last recorded one.
func (s *Stats) Unchanged() int64 { return s.unchanged.Load() }

// Parsed returns the number of sources parsed successfully.
func (s *Stats) Parsed() int64 { return s.parsed.Load() }

// ParseSkipped returns the number of sources dropped by a skip parse policy.
func (s *Stats) ParseSkipped() int64 { return s.parseSkipped.Load() }

// Uploaded returns the number of fact rows written.
func (s *Stats) Uploaded() int64 { return s.uploaded.Load() }

// Batches returns the number of accepted upload batches.
func (s *Stats) Batches() int64 { return s.batches.Load() }

// DimensionsSubmitted returns the number of dimension rows created.
func (s *Stats) DimensionsSubmitted() int64 { return s.dimensionsSubmitted.Load() }

// DimensionsExisting returns the number of dimension candidates dropped
// because their code already existed.
func (s *Stats) DimensionsExisting() int64 { return s.dimensionsExisting.Load() }

// LogValue implements slog.LogValuer for structured logging.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("discovered", s.Discovered()),
		slog.Int64("fetched", s.Fetched()),
		slog.Int64("fetch_failed", s.FetchFailed()),
		slog.Int64("unchanged", s.Unchanged()),
		slog.Int64("parsed", s.Parsed()),
		slog.Int64("parse_skipped", s.ParseSkipped()),
		slog.Int64("uploaded", s.Uploaded()),
		slog.Int64("batches", s.Batches()),
		slog.Int64("dimensions_submitted", s.DimensionsSubmitted()),
		slog.Int64("dimensions_existing", s.DimensionsExisting()),
	)
}

type statsJSON struct {
	Discovered          int64 `json:"discovered"`
	Fetched             int64 `json:"fetched"`
	FetchFailed         int64 `json:"fetch_failed"`
	Unchanged           int64 `json:"unchanged"`
	Parsed              int64 `json:"parsed"`
	ParseSkipped        int64 `json:"parse_skipped"`
	Uploaded            int64 `json:"uploaded"`
	Batches             int64 `json:"batches"`
	DimensionsSubmitted int64 `json:"dimensions_submitted"`
	DimensionsExisting  int64 `json:"dimensions_existing"`
}

// MarshalJSON implements json.Marshaler; run logs persist stats this way.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Discovered:          s.Discovered(),
		Fetched:             s.Fetched(),
		FetchFailed:         s.FetchFailed(),
		Unchanged:           s.Unchanged(),
		Parsed:              s.Parsed(),
		ParseSkipped:        s.ParseSkipped(),
		Uploaded:            s.Uploaded(),
		Batches:             s.Batches(),
		DimensionsSubmitted: s.DimensionsSubmitted(),
		DimensionsExisting:  s.DimensionsExisting(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var v statsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.discovered.Store(v.Discovered)
	s.fetched.Store(v.Fetched)
	s.fetchFailed.Store(v.FetchFailed)
	s.unchanged.Store(v.Unchanged)
	s.parsed.Store(v.Parsed)
	s.parseSkipped.Store(v.ParseSkipped)
	s.uploaded.Store(v.Uploaded)
	s.batches.Store(v.Batches)
	s.dimensionsSubmitted.Store(v.DimensionsSubmitted)
	s.dimensionsExisting.Store(v.DimensionsExisting)
	return nil
}
