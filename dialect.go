package scraper

import (
	"fmt"
	"strings"
)

// Dialect renders the SQL that differs between fact stores.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// MaxParams is the number of bind parameters allowed in one statement.
	MaxParams() int
	// InsertSQL renders a multi-row INSERT for rows rows.
	InsertSQL(table string, cols []string, rows int) string
	// UpsertSQL renders a multi-row INSERT that updates non-key columns on key conflict.
	UpsertSQL(table string, cols, key []string, rows int) string
	// CreateStagingSQL renders a statement creating an empty temporary copy of table.
	CreateStagingSQL(staging, table string) string
	// MergeSQL renders a statement upserting every staging row into table.
	MergeSQL(table, staging string, cols, key []string) string
	// DropStagingSQL renders a statement dropping the staging table.
	DropStagingSQL(staging string) string
}

// MySQL is the production fact store dialect (github.com/go-sql-driver/mysql).
var MySQL Dialect = mysqlDialect{}

// SQLite is the dialect for modernc.org/sqlite, used for local runs and tests.
var SQLite Dialect = sqliteDialect{}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported sql driver %q", driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) MaxParams() int { return 65535 }

func (d mysqlDialect) InsertSQL(table string, cols []string, rows int) string {
	return insertSQL(d, table, cols, rows)
}

func (d mysqlDialect) UpsertSQL(table string, cols, key []string, rows int) string {
	return insertSQL(d, table, cols, rows) + " ON DUPLICATE KEY UPDATE " + assignments(d, cols, key, "VALUES(%s)")
}

func (d mysqlDialect) CreateStagingSQL(staging, table string) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s LIKE %s", d.Quote(staging), d.Quote(table))
}

func (d mysqlDialect) MergeSQL(table, staging string, cols, key []string) string {
	list := columnList(d, cols)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON DUPLICATE KEY UPDATE %s",
		d.Quote(table), list, list, d.Quote(staging), assignments(d, cols, key, "VALUES(%s)"))
}

func (d mysqlDialect) DropStagingSQL(staging string) string {
	return "DROP TEMPORARY TABLE IF EXISTS " + d.Quote(staging)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// MaxParams matches SQLITE_MAX_VARIABLE_NUMBER for builds since 3.32.
func (sqliteDialect) MaxParams() int { return 32766 }

func (d sqliteDialect) InsertSQL(table string, cols []string, rows int) string {
	return insertSQL(d, table, cols, rows)
}

func (d sqliteDialect) UpsertSQL(table string, cols, key []string, rows int) string {
	return fmt.Sprintf("%s ON CONFLICT(%s) DO UPDATE SET %s",
		insertSQL(d, table, cols, rows), columnList(d, key), assignments(d, cols, key, "excluded.%s"))
}

func (d sqliteDialect) CreateStagingSQL(staging, table string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT * FROM %s WHERE 0", d.Quote(staging), d.Quote(table))
}

// MergeSQL needs the WHERE clause: SQLite cannot parse ON CONFLICT directly
// after a bare SELECT ... FROM.
func (d sqliteDialect) MergeSQL(table, staging string, cols, key []string) string {
	list := columnList(d, cols)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE true ON CONFLICT(%s) DO UPDATE SET %s",
		d.Quote(table), list, list, d.Quote(staging), columnList(d, key), assignments(d, cols, key, "excluded.%s"))
}

func (d sqliteDialect) DropStagingSQL(staging string) string {
	return "DROP TABLE IF EXISTS temp." + d.Quote(staging)
}

func columnList(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func insertSQL(d Dialect, table string, cols []string, rows int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = tuple
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", d.Quote(table), columnList(d, cols), strings.Join(values, ", "))
}

// assignments renders "col = <source>" for every non-key column. When every
// column is part of the key, the first key column is assigned to itself so
// the statement stays valid and the conflict is a no-op.
func assignments(d Dialect, cols, key []string, source string) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	var parts []string
	for _, c := range cols {
		if isKey[c] {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = "+source, d.Quote(c), d.Quote(c)))
	}
	if len(parts) == 0 && len(key) > 0 {
		parts = append(parts, fmt.Sprintf("%s = "+source, d.Quote(key[0]), d.Quote(key[0])))
	}
	return strings.Join(parts, ", ")
}
