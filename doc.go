// Package scraper is the job framework shared by the energy publication
// scrapers. A job locates publications, the runner downloads and checksums
// them, the job normalizes them into fact rows, and the runner submits new
// dimension rows and the facts.
//
// Jobs implement small interfaces. The runner auto-detects the optional ones
// and configures itself accordingly; runtime overrides are available through
// method chaining.
//
// # Quick Start
//
// Implement Job plus one of Transformer or SourceParser:
//
//	type Prices struct{}
//
//	func (j *Prices) Name() string { return "prices" }
//
//	func (j *Prices) Sources(ctx context.Context, w scraper.Window) ([]*scraper.Source, error) {
//	    var out []*scraper.Source
//	    for _, day := range w.Periods() {
//	        d := day.Format("20060102")
//	        out = append(out, scraper.NewSource(d, "https://example.org/prices/"+d+".csv", d+".csv"))
//	    }
//	    return out, nil
//	}
//
//	func (j *Prices) Parse(ctx context.Context, src *scraper.Source, out *scraper.Output) error {
//	    rows, err := readCSV(src.LocalPath())
//	    if err != nil {
//	        return err
//	    }
//	    out.AddFacts(rows)
//	    return nil
//	}
//
//	report, err := scraper.New(&Prices{}).
//	    WithFacts(scraper.NewUploader(client, factURL)).
//	    Run(ctx)
//
// # Life-cycle
//
// A run moves through fixed states and never skips one:
//
//	created -> sources_discovered -> fetched -> transformed
//	        -> dimensions_resolved -> uploaded -> done
//
// Any fatal error moves it to error and is returned as a *StageError naming
// the stage. The individual steps (Discover, DownloadAndChecksum, Transform,
// ResolveDimensions, Upsert) are exported for re-processing tools and tests;
// calling them out of order returns ErrInvalidTransition.
//
// # Full and Incremental Loads
//
// Sources receives a Window. Incremental windows cover the Lookback most
// recent periods after the job's publication Delay; full windows reach back to
// Cadence.Since. Declare the cadence by implementing Cadenced:
//
//	func (j *Prices) Cadence() scraper.Cadence {
//	    return scraper.Cadence{Unit: scraper.Daily, Delay: 1, Lookback: 3,
//	        Since: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)}
//	}
//
// # Failure Policy
//
// A failed download is logged, kept on Source.Err and reported in
// Report.FetchErrors; the other sources go on. Parse failures follow the job's
// ParseErrorHandler (embed SkipParseErrors or AbortOnParseError). Discovery,
// dimension and upload errors are fatal. Earlier upload batches are never
// rolled back.
//
// # Change Detection
//
// Every fetched artifact gets an MD5 checksum. With a ChecksumStore the runner
// sets Source.PreviousChecksum and Source.Unchanged, and records the new
// checksums after a successful upload. Checksums are informational unless the
// job implements SkipUnchanged.
//
// # Dimensions
//
// Transform proposes dimension rows with Output.AddDimension. Before upload,
// candidates whose code already exists upstream are dropped (the existing row
// wins, there is no update path) and the rest are created. Implement
// DimensionFilterer to narrow the lookup, e.g. to one category.
//
// # Configuration
//
// Every numeric knob has a WithXxx builder method and a matching Xxx
// interface. Priority (highest to lowest):
//  1. WithXxx() method overrides
//  2. Interface implementations
//  3. Default values
//
//	report, err := scraper.New(job).
//	    WithFullLoad(true).
//	    WithFetchWorkers(8).
//	    WithUploadBatchSize(5000).
//	    WithTimeout(30 * time.Minute).
//	    Run(ctx)
//
// # Dedicated Tables
//
// Jobs implementing TableTarget write facts straight into a SQL table through
// a TableLoader. Full loads delete the provider's rows and insert the new
// dataset; incremental loads merge through a staging table by the declared
// key. Both run in one transaction.
package scraper
