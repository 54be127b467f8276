// Package gridstats scrapes the monthly regional grid statistics. Every month
// is published as one CSV file linked from an index page; rows carry one
// measure for one measurement site and day.
package gridstats

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/jszwec/csvutil"

	scraper "github.com/alo-ngh/iea-scraper"
)

const (
	Name            = "gridstats"
	DefaultIndexURL = "https://gridstats.example.org/monthly/"

	// EntityDimension holds the measurement sites.
	EntityDimension = "entity"
	siteCategory    = "site"
)

// History starts with the first published month.
var History = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// fileRe matches links such as "files/grid-2024-02.csv".
var fileRe = regexp.MustCompile(`(\d{4})-(\d{2})\.csv$`)

type record struct {
	Site     string  `csv:"site_code"`
	SiteName string  `csv:"site_name"`
	Region   string  `csv:"region"`
	Date     string  `csv:"date"`
	Measure  string  `csv:"measure"`
	Value    float64 `csv:"value"`
	Unit     string  `csv:"unit"`
}

// Job discovers monthly files on the index page and parses them one by one.
// A malformed month is skipped; the others are still uploaded.
type Job struct {
	scraper.SkipParseErrors

	indexURL string
	client   *resty.Client
}

var (
	_ scraper.Job               = (*Job)(nil)
	_ scraper.SourceParser      = (*Job)(nil)
	_ scraper.Cadenced          = (*Job)(nil)
	_ scraper.DimensionFilterer = (*Job)(nil)
	_ scraper.FetcherProvider   = (*Job)(nil)
	_ scraper.ParseWorkers      = (*Job)(nil)
)

// New returns the job. An empty indexURL uses DefaultIndexURL; a nil client
// gets a fresh one.
func New(indexURL string, client *resty.Client) *Job {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if client == nil {
		client = scraper.NewHTTPFetcher().Client()
	}
	return &Job{indexURL: indexURL, client: client}
}

func (j *Job) Name() string { return Name }

// Cadence: a month is published about one month after it ends.
func (j *Job) Cadence() scraper.Cadence {
	return scraper.Cadence{Unit: scraper.Monthly, Delay: 1, Lookback: 3, Since: History}
}

func (j *Job) Fetcher() scraper.Fetcher {
	return scraper.NewHTTPFetcherWithClient(j.client)
}

func (j *Job) ParseWorkers() int { return 2 }

func (j *Job) DimensionFilter(name string) url.Values {
	if name == EntityDimension {
		return url.Values{"category": {siteCategory}}
	}
	return nil
}

// Sources lists the monthly files linked from the index page that fall into
// the window, oldest first.
func (j *Job) Sources(ctx context.Context, w scraper.Window) ([]*scraper.Source, error) {
	base, err := url.Parse(j.indexURL)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}

	res, err := j.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(j.indexURL)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	body := res.RawBody()
	defer body.Close()
	if res.StatusCode() != http.StatusOK {
		return nil, &scraper.StatusError{URL: j.indexURL, Status: res.StatusCode()}
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	seen := map[string]bool{}
	var sources []*scraper.Source
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := fileRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return
		}
		period := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, w.Start.Location())
		code := period.Format("2006-01")
		if !w.Contains(period) || seen[code] {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		seen[code] = true

		src := scraper.NewSource(code, ref.String(), fmt.Sprintf("gridstats-%s.csv", code))
		src.SetMeta("period", code)
		sources = append(sources, src)
	})

	slices.SortFunc(sources, func(a, b *scraper.Source) int {
		return strings.Compare(a.Code, b.Code)
	})
	return sources, nil
}

// Parse turns one monthly file into facts and site candidates.
func (j *Job) Parse(_ context.Context, src *scraper.Source, out *scraper.Output) error {
	data, err := os.ReadFile(src.LocalPath())
	if err != nil {
		return err
	}

	var records []record
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode %s: %w", src.Code, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("decode %s: no rows", src.Code)
	}

	facts := make([]scraper.Row, 0, len(records))
	for i, r := range records {
		if r.Site == "" || r.Measure == "" {
			return fmt.Errorf("decode %s: row %d: missing site or measure", src.Code, i+2)
		}
		day, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return fmt.Errorf("decode %s: row %d: %w", src.Code, i+2, err)
		}
		facts = append(facts, scraper.Row{
			"provider": Name,
			"source":   src.Code,
			"entity":   r.Site,
			"period":   day.Format(time.DateOnly),
			"flow":     r.Measure,
			"value":    r.Value,
			"unit":     r.Unit,
		})
	}

	// Nothing is emitted for a file that fails halfway.
	out.AddFacts(facts)
	for _, r := range records {
		out.AddDimension(EntityDimension, scraper.Row{
			"code":      r.Site,
			"long_name": r.SiteName,
			"category":  siteCategory,
			"region":    r.Region,
		})
	}
	return nil
}
