// Package settlement scrapes the daily exchange settlement prices. The
// exchange publishes one CSV per trading day, one business day after the
// session, at a predictable URL. Prices go to a dedicated table.
package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	scraper "github.com/alo-ngh/iea-scraper"
)

const (
	Name           = "settlement"
	DefaultBaseURL = "https://exchange.example.org/settlement"
	TableName      = "settlement_prices"
)

// History starts with the first archived session.
var History = time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

// PriceTable is the dedicated table the job writes to.
var PriceTable = scraper.Table{
	Name:           TableName,
	Columns:        []string{"provider", "source", "period", "product", "price", "currency", "volume"},
	Key:            []string{"provider", "source", "period", "product"},
	ProviderColumn: "provider",
	Provider:       Name,
}

type record struct {
	Product  string  `csv:"product"`
	Period   string  `csv:"delivery_period"`
	Price    float64 `csv:"settlement_price"`
	Currency string  `csv:"currency"`
	Volume   float64 `csv:"volume,omitempty"`
}

// Job fetches one file per trading day. Any malformed file aborts the run:
// a partial price curve is worse than none.
type Job struct {
	scraper.AbortOnParseError

	baseURL string
}

var (
	_ scraper.Job          = (*Job)(nil)
	_ scraper.SourceParser = (*Job)(nil)
	_ scraper.Cadenced     = (*Job)(nil)
	_ scraper.TableTarget  = (*Job)(nil)
	_ scraper.FetchWorkers = (*Job)(nil)
	_ scraper.RunTimeout   = (*Job)(nil)
)

// New returns the job. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Job {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Job{baseURL: strings.TrimRight(baseURL, "/")}
}

func (j *Job) Name() string { return Name }

func (j *Job) Cadence() scraper.Cadence {
	return scraper.Cadence{Unit: scraper.Daily, Delay: 1, Lookback: 5, Since: History}
}

func (j *Job) Table() scraper.Table { return PriceTable }

// FetchWorkers is low: the exchange throttles aggressive clients.
func (j *Job) FetchWorkers() int { return 2 }

func (j *Job) RunTimeout() time.Duration { return 30 * time.Minute }

// URL returns the address of the file for a trading day.
func (j *Job) URL(day time.Time) string {
	return fmt.Sprintf("%s/%d/settle-%s.csv", j.baseURL, day.Year(), day.Format("20060102"))
}

// Sources lists every trading day of the window. Weekends have no session.
func (j *Job) Sources(_ context.Context, w scraper.Window) ([]*scraper.Source, error) {
	var out []*scraper.Source
	for _, day := range w.Periods() {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		code := day.Format(time.DateOnly)
		out = append(out, scraper.NewSource(code, j.URL(day), fmt.Sprintf("%d/settle-%s.csv", day.Year(), day.Format("20060102"))))
	}
	return out, nil
}

// Parse reads one session. When a product and delivery period appear twice in
// a file, the later line wins.
func (j *Job) Parse(_ context.Context, src *scraper.Source, out *scraper.Output) error {
	data, err := os.ReadFile(src.LocalPath())
	if err != nil {
		return err
	}

	var records []record
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode %s: %w", src.Code, err)
	}

	index := make(map[string]int, len(records))
	var rows []scraper.Row
	for i, r := range records {
		if r.Product == "" || r.Period == "" {
			return fmt.Errorf("decode %s: row %d: missing product or delivery period", src.Code, i+2)
		}
		if r.Currency == "" {
			r.Currency = "EUR"
		}
		row := scraper.Row{
			"provider": Name,
			"source":   src.Code,
			"period":   r.Period,
			"product":  r.Product,
			"price":    r.Price,
			"currency": r.Currency,
			"volume":   r.Volume,
		}

		key := r.Product + "|" + r.Period
		if at, dup := index[key]; dup {
			rows[at] = row
			continue
		}
		index[key] = len(rows)
		rows = append(rows, row)
	}

	out.AddFacts(rows)
	return nil
}

// EnsureTable creates the price table when missing.
func EnsureTable(ctx context.Context, db *sql.DB, dialect scraper.Dialect) error {
	q := dialect.Quote
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(32) NOT NULL,
		%s VARCHAR(10) NOT NULL,
		%s VARCHAR(32) NOT NULL,
		%s VARCHAR(64) NOT NULL,
		%s DOUBLE NOT NULL,
		%s CHAR(3) NOT NULL,
		%s DOUBLE,
		UNIQUE (%s, %s, %s, %s)
	)`, q(TableName), q("provider"), q("source"), q("period"), q("product"), q("price"), q("currency"), q("volume"),
		q("provider"), q("source"), q("period"), q("product"))

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}
	return nil
}
