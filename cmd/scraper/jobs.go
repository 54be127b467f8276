package main

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	scraper "github.com/alo-ngh/iea-scraper"
	"github.com/alo-ngh/iea-scraper/config"
	"github.com/alo-ngh/iea-scraper/providers/gridstats"
	"github.com/alo-ngh/iea-scraper/providers/settlement"
	"github.com/alo-ngh/iea-scraper/schedule"
)

// jobDef registers a provider with the CLI.
type jobDef struct {
	name string
	// spec is used when the configuration sets no schedule.
	spec  string
	build func(a *app, cfg config.JobConfig) scraper.Job
	// ensure creates the provider's dedicated tables.
	ensure func(ctx context.Context, db *sql.DB, dialect scraper.Dialect) error
}

var registry = []jobDef{
	{
		name: gridstats.Name,
		spec: "0 6 * * *",
		build: func(a *app, cfg config.JobConfig) scraper.Job {
			return gridstats.New(cfg.BaseURL, a.fetcher.Client())
		},
	},
	{
		name: settlement.Name,
		spec: "30 7 * * 1-5",
		build: func(_ *app, cfg config.JobConfig) scraper.Job {
			return settlement.New(cfg.BaseURL)
		},
		ensure: settlement.EnsureTable,
	},
}

// runFlags are the per-invocation overrides of the run command.
type runFlags struct {
	full       bool
	noDownload bool
	sequential bool
}

// entries returns the schedule entries for the named jobs, or for every
// enabled job when names is empty.
func (a *app) entries(names []string, flags runFlags) ([]schedule.Entry, error) {
	for _, name := range names {
		if !slices.ContainsFunc(registry, func(d jobDef) bool { return d.name == name }) {
			return nil, fmt.Errorf("unknown job %q", name)
		}
	}

	var out []schedule.Entry
	for _, def := range registry {
		cfg := a.cfg.Job(def.name)
		if len(names) > 0 && !slices.Contains(names, def.name) {
			continue
		}
		if len(names) == 0 && cfg.Disabled {
			continue
		}

		spec := cfg.Schedule
		if spec == "" {
			spec = def.spec
		}
		out = append(out, schedule.Entry{
			Name: def.name,
			Spec: spec,
			Build: func(context.Context) (*scraper.Runner, error) {
				return a.runner(def.build(a, cfg), cfg, flags), nil
			},
		})
	}
	return out, nil
}

// runner wires the shared clients and the job's configuration snapshot.
func (a *app) runner(job scraper.Job, cfg config.JobConfig, flags runFlags) *scraper.Runner {
	r := scraper.New(job).
		WithLogger(a.logger).
		WithCacheDir(a.cfg.CacheDir).
		WithFullLoad(flags.full || cfg.FullLoad).
		WithDownload(!flags.noDownload).
		WithParallel(!flags.sequential).
		WithFetchWorkers(cfg.FetchWorkers).
		WithParseWorkers(cfg.ParseWorkers).
		WithUploadBatchSize(cfg.BatchSize).
		WithChecksums(a.checksums)

	if cfg.Timeout > 0 {
		r.WithTimeout(cfg.Timeout)
	}
	if a.cfg.API.RateLimit > 0 {
		r.WithFetcher(a.fetcher)
	}
	if a.cfg.API.FactURL != "" {
		r.WithFacts(scraper.NewUploader(a.api, a.cfg.API.FactURL))
	}
	if a.dims != nil {
		r.WithDimensions(a.dims)
	}
	if a.tables != nil {
		r.WithTableLoader(a.tables)
	}
	return r
}
