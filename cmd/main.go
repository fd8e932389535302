package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/app"
	"github.com/iverpak/quantbrief-daily/internal/config"
	"github.com/iverpak/quantbrief-daily/internal/database"
	"github.com/iverpak/quantbrief-daily/internal/httpapi"
	"github.com/iverpak/quantbrief-daily/internal/scheduler"
)

const usage = `usage: quantbrief <command> [flags]

commands:
  serve               serve the HTTP trigger API (default)
  schedule            run ingestion and digest on cron schedules
  init                seed catalog feeds
  ingest              run one ingestion pass (-minutes)
  digest              send the digest (-minutes)
  force-digest        send every qualifying article of the last 7 days
  stats               print statistics for the last 7 days
  reset-digest-flags  mark every article unsent
  test-email          send a test email to DIGEST_TO
`

func main() {
	level := new(slog.LevelVar)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	os.Exit(run(log, level, os.Args[1:]))
}

func run(log *slog.Logger, level *slog.LevelVar, args []string) int {
	start := time.Now()

	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	flags := flag.NewFlagSet(command, flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	minutes := flags.Int("minutes", 0, "time window in minutes (0 = command default)")
	envFile := flags.String("env-file", ".env", "optional .env file to load")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv(log, *envFile)

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return 1
	}

	if err = level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.WarnContext(ctx, "LOG_LEVEL is invalid so info is used",
			"error", err,
			"LOG_LEVEL", cfg.LogLevel)
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load catalog",
			"error", err,
			"catalogPath", cfg.CatalogPath)

		return 1
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err)

		return 1
	}
	if db != nil {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.ErrorContext(ctx, "Failed to close db",
					"error", closeErr)
			}
		}()
	}

	application := app.New(cfg, catalog, db, app.Options{}, log)

	switch command {
	case "serve":
		err = serve(ctx, cfg, application, log)
	case "schedule":
		err = schedule(ctx, cfg, application, log)
	case "init":
		err = printResult(application.Seed(ctx))
	case "ingest":
		err = printResult(application.Ingest(ctx, orDefault(*minutes, app.DefaultIngestMinutes)))
	case "digest":
		err = printResult(application.Digest(ctx, orDefault(*minutes, cfg.DigestWindowMinutes)))
	case "force-digest":
		err = printResult(application.ForceDigest(ctx))
	case "stats":
		err = printResult(application.Stats(ctx))
	case "reset-digest-flags":
		err = printResult(application.ResetDigestFlags(ctx))
	case "test-email":
		err = printResult(application.TestEmail(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)

		return 2
	}

	if err != nil {
		log.ErrorContext(ctx, "Command is failed",
			"error", err,
			"command", command,
			"uptimeSeconds", time.Since(start).Seconds())

		return 1
	}

	log.InfoContext(ctx, "Command is finished",
		"command", command,
		"uptimeSeconds", time.Since(start).Seconds())

	return 0
}

// openDatabase returns a nil database when DATABASE_URL is empty.
func openDatabase(ctx context.Context, cfg config.Config, log *slog.Logger) (*database.Database, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, log)
	if errors.Is(err, database.ErrNotConfigured) {
		log.WarnContext(ctx, "DATABASE_URL is missing so store operations are disabled",
			"envVar", "DATABASE_URL")

		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "DB is initialized",
		"dialect", db.Dialect())

	return db, nil
}

func serve(ctx context.Context, cfg config.Config, application *app.App, log *slog.Logger) error {
	server := httpapi.New(application, httpapi.Options{
		Port:                 cfg.Port,
		AdminToken:           cfg.AdminToken,
		DigestWindowMinutes:  cfg.DigestWindowMinutes,
		DefaultIngestMinutes: app.DefaultIngestMinutes,
	}, log)

	return server.Start(ctx)
}

func schedule(ctx context.Context, cfg config.Config, application *app.App, log *slog.Logger) error {
	sched := scheduler.New(ctx, application, scheduler.Options{
		IngestSpec:          cfg.IngestSchedule,
		DigestSpec:          cfg.DigestSchedule,
		IngestWindowMinutes: app.DefaultIngestMinutes,
		DigestWindowMinutes: cfg.DigestWindowMinutes,
	}, log)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.InfoContext(ctx, "Scheduler is started",
		"ingestSpec", cfg.IngestSchedule,
		"digestSpec", cfg.DigestSchedule,
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	<-ctx.Done()
	log.InfoContext(ctx, "Shutdown signal is received")

	sched.Stop()
	log.InfoContext(ctx, "Scheduler is stopped")

	return nil
}

// printResult writes v as JSON even when err is set, so partial results
// such as a failed digest stay visible.
func printResult[T any](v T, err error) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if encErr := enc.Encode(v); encErr != nil {
		return errors.Join(err, fmt.Errorf("encode result: %w", encErr))
	}

	return err
}

func orDefault(v int, fallback int) int {
	if v > 0 {
		return v
	}

	return fallback
}
