package scraper

import (
	"context"
	"crypto/md5" //nolint:gosec // change detection, not security
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Checksum returns the hex MD5 of the file's exact bytes. No normalization is
// applied: a line-ending conversion in transit changes the checksum, which is
// the intended byte-level drift signal. Empty files hash deterministically.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // change detection, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumStore remembers the checksum of the last successfully processed
// version of each source, so a run can tell whether an artifact changed.
//
// Checksums are informational unless the job implements [SkipUnchanged].
// The runner records checksums only after a successful upload, so a failed
// run is re-processed in full next time.
//
// Example:
//
//	store := scraper.NewSQLChecksums(db, scraper.MySQL)
//	if err := store.EnsureSchema(ctx); err != nil {
//	    return err
//	}
//	report, err := scraper.New(job).WithChecksums(store).Run(ctx)
type ChecksumStore interface {
	// Previous returns the last recorded checksum for the job's source code.
	// ok is false when nothing was recorded yet.
	Previous(ctx context.Context, job, code string) (sum string, ok bool, err error)

	// Record persists the source's current checksum and download time.
	Record(ctx context.Context, job string, src *Source) error
}

// MemoryChecksums is an in-process ChecksumStore, useful in tests and for
// long-running schedulers that do not need persistence across restarts.
type MemoryChecksums struct {
	mu   sync.Mutex
	sums map[string]string
}

// NewMemoryChecksums returns an empty in-memory store.
func NewMemoryChecksums() *MemoryChecksums {
	return &MemoryChecksums{sums: make(map[string]string)}
}

func (m *MemoryChecksums) Previous(_ context.Context, job, code string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.sums[job+"\x00"+code]
	return sum, ok, nil
}

func (m *MemoryChecksums) Record(_ context.Context, job string, src *Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums[job+"\x00"+src.Code] = src.Checksum
	return nil
}

// SQLChecksums stores checksums in a source_versions table.
type SQLChecksums struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLChecksums returns a store backed by db using the given dialect.
func NewSQLChecksums(db *sql.DB, dialect Dialect) *SQLChecksums {
	return &SQLChecksums{db: db, dialect: dialect, table: "source_versions"}
}

var sourceVersionColumns = []string{"job", "code", "url", "checksum", "last_download", "updated_at"}

// EnsureSchema creates the source_versions table if it does not exist.
func (s *SQLChecksums) EnsureSchema(ctx context.Context) error {
	q := s.dialect.Quote
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(128) NOT NULL,
		%s VARCHAR(255) NOT NULL,
		%s TEXT,
		%s CHAR(32) NOT NULL,
		%s TIMESTAMP NULL,
		%s TIMESTAMP NULL,
		PRIMARY KEY (%s, %s)
	)`, q(s.table), q("job"), q("code"), q("url"), q("checksum"), q("last_download"), q("updated_at"), q("job"), q("code"))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLChecksums) Previous(ctx context.Context, job, code string) (string, bool, error) {
	q := s.dialect.Quote
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ?", q("checksum"), q(s.table), q("job"), q("code"))

	var sum string
	err := s.db.QueryRowContext(ctx, query, job, code).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("previous checksum for %s/%s: %w", job, code, err)
	}
	return sum, true, nil
}

func (s *SQLChecksums) Record(ctx context.Context, job string, src *Source) error {
	var lastDownload sql.NullTime
	if !src.LastDownload.IsZero() {
		lastDownload = sql.NullTime{Time: src.LastDownload.UTC(), Valid: true}
	}

	query := s.dialect.UpsertSQL(s.table, sourceVersionColumns, []string{"job", "code"}, 1)
	_, err := s.db.ExecContext(ctx, query, job, src.Code, src.URL, src.Checksum, lastDownload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record checksum for %s/%s: %w", job, src.Code, err)
	}
	return nil
}
