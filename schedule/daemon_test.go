package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scraper "github.com/alo-ngh/iea-scraper"
	"github.com/alo-ngh/iea-scraper/schedule"
)

func TestNewDaemon_RejectsBadSpecs(t *testing.T) {
	_, err := schedule.NewDaemon([]schedule.Entry{{Name: "x", Spec: "every morning"}}, schedule.Options{}, time.UTC)
	require.ErrorContains(t, err, "job x")

	_, err = schedule.NewDaemon([]schedule.Entry{{Name: "y"}}, schedule.Options{}, time.UTC)
	require.ErrorContains(t, err, "job y has no schedule")
}

func TestDaemon_Next(t *testing.T) {
	d, err := schedule.NewDaemon([]schedule.Entry{
		{Name: "gridstats", Spec: "0 6 * * *"},
		{Name: "settlement", Spec: "30 7 * * 1-5"},
		{Name: "weekly", Spec: "0 6 * * *"},
	}, schedule.Options{}, time.UTC)
	require.NoError(t, err)

	// Thursday.
	from := time.Date(2024, time.March, 14, 8, 0, 0, 0, time.UTC)
	next := d.Next(from)
	require.Len(t, next, 2, "entries with the same spec share a batch")
	require.Equal(t, time.Date(2024, time.March, 15, 6, 0, 0, 0, time.UTC), next["0 6 * * *"])
	require.Equal(t, time.Date(2024, time.March, 15, 7, 30, 0, 0, time.UTC), next["30 7 * * 1-5"])
}

func TestDaemon_RunsBatches(t *testing.T) {
	var batches atomic.Int32
	var runs atomic.Int32

	e := entry(t, &stubJob{name: "ticker"})
	build := e.Build
	e.Spec = "@every 1s"
	e.Build = func(ctx context.Context) (*scraper.Runner, error) {
		runs.Add(1)
		return build(ctx)
	}

	d, err := schedule.NewDaemon([]schedule.Entry{e}, schedule.Options{
		Notifier: schedule.NotifierFunc(func(context.Context, []schedule.Status) error {
			batches.Add(1)
			return nil
		}),
	}, time.UTC)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return batches.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.GreaterOrEqual(t, runs.Load(), int32(1))
}
