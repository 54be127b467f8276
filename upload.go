package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
)

// DefaultUploadBatchSize is the number of fact rows per POST.
const DefaultUploadBatchSize = 1000

// UploadResult reports what reached the server. After a failure it describes
// the batches applied before the failing one; those are not rolled back.
type UploadResult struct {
	Batches int
	Rows    int
}

// BatchError is a rejected batch. Index is zero-based.
type BatchError struct {
	Index  int
	Rows   int
	Bytes  int
	Status int
	Body   string
	Err    error
}

func (e *BatchError) Error() string {
	size := humanize.Bytes(uint64(e.Bytes))
	if e.Err != nil {
		return fmt.Sprintf("upload batch %d (%d rows, %s): %v", e.Index, e.Rows, size, e.Err)
	}
	return fmt.Sprintf("upload batch %d (%d rows, %s): status %d: %s", e.Index, e.Rows, size, e.Status, e.Body)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Uploader posts fact rows to the fact API in fixed-size batches.
//
// Batches are sent one after another, never concurrently: the server sees a
// stable mutation order and memory stays bounded for streamed datasets. The
// first non-2xx response aborts the upload.
type Uploader struct {
	client    *resty.Client
	endpoint  string
	batchSize int
	onBatch   func(context.Context, UploadResult)
	logger    *slog.Logger
}

// NewUploader returns an uploader posting to endpoint.
func NewUploader(client *resty.Client, endpoint string) *Uploader {
	return &Uploader{
		client:    client,
		endpoint:  endpoint,
		batchSize: DefaultUploadBatchSize,
		logger:    slog.Default(),
	}
}

// WithBatchSize sets the number of rows per request. Values less than 1 are ignored.
func (u *Uploader) WithBatchSize(n int) *Uploader {
	if n >= 1 {
		u.batchSize = n
	}
	return u
}

// WithLogger sets the logger.
func (u *Uploader) WithLogger(logger *slog.Logger) *Uploader {
	u.logger = logger
	return u
}

// OnBatch registers a callback invoked after every accepted batch with the
// running totals.
func (u *Uploader) OnBatch(fn func(context.Context, UploadResult)) *Uploader {
	u.onBatch = fn
	return u
}

// Upload sends rows in batches of the configured size: R rows cost
// ceil(R/B) requests. A row stream error aborts before the pending batch is
// sent.
func (u *Uploader) Upload(ctx context.Context, rows iter.Seq2[Row, error]) (UploadResult, error) {
	var result UploadResult

	for batch, err := range Chunk(rows, u.batchSize) {
		if err != nil {
			return result, fmt.Errorf("upload: read rows: %w", err)
		}

		body, err := json.Marshal(batch)
		if err != nil {
			return result, &BatchError{Index: result.Batches, Rows: len(batch), Err: err}
		}

		res, err := u.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(u.endpoint)
		if err != nil {
			return result, &BatchError{Index: result.Batches, Rows: len(batch), Bytes: len(body), Err: err}
		}
		if !res.IsSuccess() {
			return result, &BatchError{
				Index:  result.Batches,
				Rows:   len(batch),
				Bytes:  len(body),
				Status: res.StatusCode(),
				Body:   res.String(),
			}
		}

		result.Batches++
		result.Rows += len(batch)
		u.logger.DebugContext(ctx, "batch uploaded", "batch", result.Batches, "rows", len(batch), "bytes", humanize.Bytes(uint64(len(body))))
		if u.onBatch != nil {
			u.onBatch(ctx, result)
		}
	}

	return result, nil
}
