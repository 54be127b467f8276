package scraper

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Table declares a dedicated fact table for jobs whose volume or schema does
// not fit the generic fact API.
type Table struct {
	// Name of the target table.
	Name string
	// Columns written, in order. Row values are read by column name.
	Columns []string
	// Key lists the columns that uniquely identify a fact row. The table must
	// carry a unique index over them for merges to upsert.
	Key []string
	// ProviderColumn and Provider scope a full reload: only rows with
	// ProviderColumn = Provider are deleted before the new dataset is inserted.
	ProviderColumn string
	Provider       string
	// NoIncrement forces a full reload on every run, for sources without a
	// notion of incremental delta.
	NoIncrement bool
}

// LoadMode selects how a dataset is written into a dedicated table.
type LoadMode string

const (
	// LoadFullReload deletes the provider's rows and inserts the new dataset.
	LoadFullReload LoadMode = "full_reload"
	// LoadMerge inserts into a staging table and merges by key.
	LoadMerge LoadMode = "merge"
)

// Mode returns the load mode for a run.
func (t Table) Mode(full bool) LoadMode {
	if full || t.NoIncrement {
		return LoadFullReload
	}
	return LoadMerge
}

func (t Table) validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("table: empty name")
	case len(t.Columns) == 0:
		return fmt.Errorf("table %s: no columns", t.Name)
	case len(t.Key) == 0:
		return fmt.Errorf("table %s: no key columns", t.Name)
	case t.ProviderColumn == "" || t.Provider == "":
		return fmt.Errorf("table %s: provider column and value are required", t.Name)
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		cols[c] = true
	}
	for _, k := range slices.Concat(t.Key, []string{t.ProviderColumn}) {
		if !cols[k] {
			return fmt.Errorf("table %s: column %q is not in Columns", t.Name, k)
		}
	}
	return nil
}

// DuplicateKeyError reports two rows sharing a key inside one load. Merge
// behavior with duplicate keys is undefined, so the load is refused.
type DuplicateKeyError struct {
	Table string
	Key   string
	Rows  [2]int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("table %s: duplicate key %s at rows %d and %d", e.Table, e.Key, e.Rows[0], e.Rows[1])
}

// TableLoader writes fact rows directly into dedicated tables.
type TableLoader struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewTableLoader returns a loader writing through db.
func NewTableLoader(db *sql.DB, dialect Dialect) *TableLoader {
	return &TableLoader{db: db, dialect: dialect, logger: slog.Default()}
}

// WithLogger sets the logger used for load summaries.
func (l *TableLoader) WithLogger(logger *slog.Logger) *TableLoader {
	l.logger = logger
	return l
}

// Load writes rows into t using mode. Each mode runs in a single transaction,
// so a SQL error leaves the table untouched. Returns the number of rows written.
func (l *TableLoader) Load(ctx context.Context, t Table, mode LoadMode, rows iter.Seq2[Row, error]) (int, error) {
	if err := t.validate(); err != nil {
		return 0, err
	}

	data, err := l.collect(t, rows)
	if err != nil {
		return 0, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("table %s: begin: %w", t.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	switch mode {
	case LoadFullReload:
		err = l.fullReload(ctx, tx, t, data)
	case LoadMerge:
		err = l.merge(ctx, tx, t, data)
	default:
		err = fmt.Errorf("table %s: unknown load mode %q", t.Name, mode)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("table %s: commit: %w", t.Name, err)
	}

	l.logger.InfoContext(ctx, "table loaded", "table", t.Name, "mode", mode, "rows", len(data))
	return len(data), nil
}

// collect materializes the rows as value tuples and rejects duplicate keys.
func (l *TableLoader) collect(t Table, rows iter.Seq2[Row, error]) ([][]any, error) {
	var data [][]any
	seen := make(map[string]int)
	for row, err := range rows {
		if err != nil {
			return nil, fmt.Errorf("table %s: row %d: %w", t.Name, len(data), err)
		}
		key := keyOf(row, t.Key)
		if first, dup := seen[key]; dup {
			return nil, &DuplicateKeyError{Table: t.Name, Key: key, Rows: [2]int{first, len(data)}}
		}
		seen[key] = len(data)

		values := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			values[i] = row[c]
		}
		data = append(data, values)
	}
	return data, nil
}

func keyOf(row Row, key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = row.String(k)
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// fullReload replaces the provider's rows. An empty dataset is refused so a
// run that produced nothing never clears the table.
func (l *TableLoader) fullReload(ctx context.Context, tx *sql.Tx, t Table, data [][]any) error {
	if len(data) == 0 {
		return fmt.Errorf("table %s: provider %s: %w", t.Name, t.Provider, ErrEmptyReload)
	}
	q := l.dialect.Quote
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", q(t.Name), q(t.ProviderColumn)), t.Provider)
	if err != nil {
		return fmt.Errorf("table %s: delete provider %s: %w", t.Name, t.Provider, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		l.logger.DebugContext(ctx, "cleared provider rows", "table", t.Name, "provider", t.Provider, "rows", n)
	}
	return l.bulkInsert(ctx, tx, t.Name, t.Columns, data)
}

func (l *TableLoader) merge(ctx context.Context, tx *sql.Tx, t Table, data [][]any) error {
	if len(data) == 0 {
		return nil
	}
	staging := fmt.Sprintf("%s_staging_%s", t.Name, uuid.NewString()[:8])

	if _, err := tx.ExecContext(ctx, l.dialect.CreateStagingSQL(staging, t.Name)); err != nil {
		return fmt.Errorf("table %s: create staging: %w", t.Name, err)
	}
	if err := l.bulkInsert(ctx, tx, staging, t.Columns, data); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, l.dialect.MergeSQL(t.Name, staging, t.Columns, t.Key)); err != nil {
		return fmt.Errorf("table %s: merge: %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx, l.dialect.DropStagingSQL(staging)); err != nil {
		return fmt.Errorf("table %s: drop staging: %w", t.Name, err)
	}
	return nil
}

// bulkInsert writes data with multi-row INSERTs sized to the dialect's
// parameter limit.
func (l *TableLoader) bulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, data [][]any) error {
	perStatement := max(l.dialect.MaxParams()/len(cols), 1)
	for i, batch := range chunk(data, perStatement) {
		args := make([]any, 0, len(batch)*len(cols))
		for _, values := range batch {
			args = append(args, values...)
		}
		if _, err := tx.ExecContext(ctx, l.dialect.InsertSQL(table, cols, len(batch)), args...); err != nil {
			return fmt.Errorf("table %s: insert batch %d: %w", table, i, err)
		}
	}
	return nil
}
