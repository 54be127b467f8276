package schedule

import (
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// NewTable returns a table writer in the style used by the CLI.
func NewTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if out != nil {
		t.SetOutputMirror(out)
	}
	return t
}

// Summary renders one line per job: outcome, timing, source counts and the
// first line of the error.
func Summary(statuses []Status) string {
	t := NewTable(nil)
	t.AppendHeader(table.Row{"Job", "Result", "Started", "Duration", "Sources", "Failed", "Uploaded", "Error"})

	for _, st := range statuses {
		var sources, failed, uploaded int64
		if st.Report != nil && st.Report.Stats != nil {
			sources = st.Report.Stats.Discovered()
			failed = st.Report.Stats.FetchFailed() + st.Report.Stats.ParseSkipped()
			uploaded = st.Report.Stats.Uploaded()
		}
		t.AppendRow(table.Row{
			st.Job,
			st.Outcome,
			st.StartedAt.Format(time.DateTime),
			st.Duration.Round(time.Millisecond),
			sources,
			failed,
			uploaded,
			firstLine(st.Err),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "failed", Failures(statuses)})
	return t.Render()
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}
