package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/seed"
)

func main() {
	format := flag.String("format", "duckdb", "store format: duckdb|sqlite")
	overwrite := flag.Bool("overwrite", false, "replace an existing store")
	name := flag.String("name", "student", "dataset name")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("querylens-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := dataset.ValidateName(*name); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var kind dataset.Kind
	var ext string
	switch *format {
	case "duckdb":
		kind, ext = dataset.KindDuckDB, ".duckdb"
	case "sqlite":
		kind, ext = dataset.KindSQLite, ".db"
	default:
		fmt.Fprintf(os.Stderr, "invalid format: %s\n", *format)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Datasets.Dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create data dir: %v\n", err)
		os.Exit(1)
	}

	path := filepath.Join(cfg.Datasets.Dir, *name+ext)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := seed.WriteStudents(ctx, path, kind, seed.Options{Overwrite: *overwrite}); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d rows to %s (table %s)\n", len(seed.Students), path, seed.TableName)
}
