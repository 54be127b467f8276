package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	scraper "github.com/alo-ngh/iea-scraper"
)

// DefaultRunTable is the table RunLog writes to.
const DefaultRunTable = "job_runs"

var runColumns = []string{"run_id", "job", "outcome", "state", "started_at", "duration_ms", "error", "stats"}

// RunLog keeps one row per job run, with the run counters as JSON.
type RunLog struct {
	db      *sql.DB
	dialect scraper.Dialect
	table   string
}

// Run is a row read back from the run log.
type Run struct {
	RunID     string
	Job       string
	Outcome   Outcome
	State     scraper.State
	StartedAt time.Time
	Duration  time.Duration
	Error     string
	Stats     *scraper.Stats
}

func NewRunLog(db *sql.DB, dialect scraper.Dialect) *RunLog {
	return &RunLog{db: db, dialect: dialect, table: DefaultRunTable}
}

// EnsureSchema creates the run table when missing.
func (l *RunLog) EnsureSchema(ctx context.Context) error {
	q := l.dialect.Quote
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(36) NOT NULL PRIMARY KEY,
		%s VARCHAR(128) NOT NULL,
		%s VARCHAR(8) NOT NULL,
		%s VARCHAR(32) NOT NULL,
		%s TIMESTAMP NOT NULL,
		%s BIGINT NOT NULL,
		%s TEXT,
		%s TEXT
	)`, q(l.table), q("run_id"), q("job"), q("outcome"), q("state"), q("started_at"), q("duration_ms"), q("error"), q("stats"))

	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Record stores a status. Jobs that failed before a runner existed get a
// fresh run id.
func (l *RunLog) Record(ctx context.Context, st Status) error {
	runID := st.RunID
	state := scraper.StateError
	stats := []byte("{}")
	if st.Report != nil {
		runID = st.Report.RunID
		state = st.Report.State
		var err error
		if stats, err = json.Marshal(st.Report.Stats); err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	var msg sql.NullString
	if st.Err != nil {
		msg = sql.NullString{String: st.Err.Error(), Valid: true}
	}

	query := l.dialect.InsertSQL(l.table, runColumns, 1)
	_, err := l.db.ExecContext(ctx, query,
		runID, st.Job, string(st.Outcome), string(state), st.StartedAt.UTC(), st.Duration.Milliseconds(), msg, string(stats))
	if err != nil {
		return fmt.Errorf("record run %s/%s: %w", st.Job, runID, err)
	}
	return nil
}

// Last returns the most recent run of a job.
func (l *RunLog) Last(ctx context.Context, job string) (Run, bool, error) {
	q := l.dialect.Quote
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = ? ORDER BY %s DESC LIMIT 1",
		q("run_id"), q("job"), q("outcome"), q("state"), q("started_at"), q("duration_ms"), q("error"), q("stats"),
		q(l.table), q("job"), q("started_at"))

	var (
		run      Run
		outcome  string
		state    string
		duration int64
		msg      sql.NullString
		stats    sql.NullString
	)
	err := l.db.QueryRowContext(ctx, query, job).Scan(&run.RunID, &run.Job, &outcome, &state, &run.StartedAt, &duration, &msg, &stats)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("last run of %s: %w", job, err)
	}

	run.Outcome = Outcome(outcome)
	run.State = scraper.State(state)
	run.Duration = time.Duration(duration) * time.Millisecond
	run.Error = msg.String
	run.Stats = &scraper.Stats{}
	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), run.Stats); err != nil {
			return Run{}, false, fmt.Errorf("decode stats of %s: %w", run.RunID, err)
		}
	}
	return run, true, nil
}
