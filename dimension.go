package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DimensionClient talks to the dimension API:
//
//	GET  {endpoint}/dimension/{name}?{filter}  -> JSON array of rows with at least "code"
//	POST {endpoint}/dimension/{name}           <- JSON array of rows, 201 on success
//
// The API is insert-only: once created, a dimension row is immutable from the
// scraper's point of view. Snapshots returned by List are cached for a short
// time per (name, filter) and dropped whenever Create touches the dimension.
type DimensionClient struct {
	client   *resty.Client
	endpoint string
	cache    *expirable.LRU[string, []Row]
	logger   *slog.Logger
}

// NewDimensionClient returns a client for the API rooted at endpoint.
func NewDimensionClient(client *resty.Client, endpoint string) *DimensionClient {
	return &DimensionClient{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		cache:    expirable.NewLRU[string, []Row](256, nil, 10*time.Minute),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for resolution summaries.
func (c *DimensionClient) WithLogger(logger *slog.Logger) *DimensionClient {
	c.logger = logger
	return c
}

func (c *DimensionClient) url(name string) string {
	return fmt.Sprintf("%s/dimension/%s", c.endpoint, url.PathEscape(name))
}

func cacheKey(name string, filter url.Values) string {
	return name + "?" + filter.Encode()
}

// List returns the existing rows of a dimension, optionally filtered.
func (c *DimensionClient) List(ctx context.Context, name string, filter url.Values) ([]Row, error) {
	key := cacheKey(name, filter)
	if rows, ok := c.cache.Get(key); ok {
		return rows, nil
	}

	var rows []Row
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(filter).
		ForceContentType("application/json").
		SetResult(&rows).
		Get(c.url(name))
	if err != nil {
		return nil, fmt.Errorf("list dimension %s: %w", name, err)
	}
	if err := checkResponse(res); err != nil {
		return nil, err
	}

	c.cache.Add(key, rows)
	return rows, nil
}

// Create submits new rows for a dimension. An empty list is a no-op.
func (c *DimensionClient) Create(ctx context.Context, name string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(rows).
		Post(c.url(name))
	c.invalidate(name)
	if err != nil {
		return fmt.Errorf("create dimension %s: %w", name, err)
	}
	return checkResponse(res)
}

func (c *DimensionClient) invalidate(name string) {
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, name+"?") {
			c.cache.Remove(key)
		}
	}
}

// RemoveExisting drops from dims every candidate of the named dimension whose
// code already exists upstream. Comparison is by code only: when a candidate
// differs from the existing row in any other column, the existing row wins and
// the candidate is discarded. Returns the number of dropped candidates.
func (c *DimensionClient) RemoveExisting(ctx context.Context, dims *Dimensions, name string, filter url.Values) (int, error) {
	existing, err := c.List(ctx, name, filter)
	if err != nil {
		return 0, err
	}

	codes := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		codes[row.Code()] = struct{}{}
	}

	removed := dims.Remove(name, codes)
	if removed > 0 {
		c.logger.DebugContext(ctx, "dropped existing dimension candidates",
			"dimension", name, "existing", removed, "remaining", len(dims.Rows(name)))
	}
	return removed, nil
}
