package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	scraper "github.com/alo-ngh/iea-scraper"
	"github.com/alo-ngh/iea-scraper/config"
	"github.com/alo-ngh/iea-scraper/schedule"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "scraper downloads energy market publications and loads them into the fact store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "scraper.yaml", "configuration file (.yaml or .json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func initSlog(level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
	slog.SetDefault(logger)
	return logger
}

// app holds the clients shared by every job of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	fetcher   *scraper.HTTPFetcher
	api       *resty.Client
	dims      *scraper.DimensionClient
	checksums scraper.ChecksumStore
	tables    *scraper.TableLoader
	runLog    *schedule.RunLog
	notifier  schedule.Notifier
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  initSlog(cfg.LogLevel()),
		fetcher: scraper.NewHTTPFetcher(),
		api:     scraper.NewAPIClient(cfg.API.Token),
	}
	if cfg.API.RateLimit > 0 {
		a.fetcher.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst)
	}
	if cfg.API.DimensionURL != "" {
		a.dims = scraper.NewDimensionClient(a.api, cfg.API.DimensionURL).WithLogger(a.logger)
	}
	if cfg.SMTP.Enabled() {
		a.notifier = schedule.NewMailer(cfg.SMTP)
	}

	if cfg.Database.DSN == "" {
		a.logger.Warn("no database configured: checksums are kept in memory, dedicated tables are unavailable")
		a.checksums = scraper.NewMemoryChecksums()
		return a, nil
	}
	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openDatabase(ctx context.Context) error {
	dialect, err := scraper.DialectFor(a.cfg.Database.Driver)
	if err != nil {
		return err
	}
	dsn, err := dataSourceName(dialect.Name(), a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	db, err := sql.Open(dialect.Name(), dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect database: %w", err)
	}
	a.db = db

	checksums := scraper.NewSQLChecksums(db, dialect)
	if err := checksums.EnsureSchema(ctx); err != nil {
		return err
	}
	runLog := schedule.NewRunLog(db, dialect)
	if err := runLog.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, def := range registry {
		if def.ensure == nil {
			continue
		}
		if err := def.ensure(ctx, db, dialect); err != nil {
			return err
		}
	}

	a.checksums = checksums
	a.runLog = runLog
	a.tables = scraper.NewTableLoader(db, dialect).WithLogger(a.logger)
	return nil
}

// dataSourceName makes the MySQL driver scan DATETIME columns into time.Time,
// which the run log relies on.
func dataSourceName(driver, dsn string) (string, error) {
	if driver != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *app) options() schedule.Options {
	return schedule.Options{RunLog: a.runLog, Notifier: a.notifier, Logger: a.logger}
}
