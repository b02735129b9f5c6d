package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	catalogpostgres "github.com/querylens/querylens/internal/catalog/postgres"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/migrations"
	"github.com/querylens/querylens/internal/observability"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("querylens-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := catalogpostgres.Open(ctx, cfg.Catalog, cfg.Service.Name)
	if err != nil {
		logger.Error("failed to open dataset registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner(logger)
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			logger.Error("migration up failed", slog.Int("applied", applied), slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		reverted, err := runner.Down(ctx, db, *steps)
		if err != nil {
			logger.Error("migration down failed", slog.Int("rolled_back", reverted), slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", reverted)
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			logger.Error("migration status failed", slog.Any("error", err))
			os.Exit(1)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
		for _, status := range statuses {
			appliedAt := "pending"
			if status.Applied {
				appliedAt = status.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", status.Version, status.Name, appliedAt)
		}
		_ = tw.Flush()
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
