package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/querylens/querylens/internal/dataset"
)

const TableName = "STUDENT"

type Student struct {
	Name    string
	Class   string
	Section string
	Marks   int
}

var Students = []Student{
	{"John Doe", "10", "A", 85},
	{"Jane Smith", "10", "B", 90},
	{"Alice Johnson", "11", "A", 78},
	{"Bob Brown", "11", "B", 88},
	{"Charlie Davis", "12", "A", 92},
	{"Diana Miller", "12", "B", 84},
	{"Ethan Wilson", "10", "A", 75},
	{"Fiona Garcia", "10", "B", 89},
	{"George Martinez", "11", "A", 91},
	{"Hannah Lee", "11", "B", 83},
	{"Ian Clark", "12", "A", 87},
	{"Jasmine Lewis", "12", "B", 80},
	{"Kevin Young", "10", "A", 95},
	{"Laura Hall", "10", "B", 77},
	{"Mike Allen", "11", "A", 82},
	{"Nina Scott", "11", "B", 93},
	{"Oscar Adams", "12", "A", 85},
	{"Paula Baker", "12", "B", 88},
	{"Quincy Wright", "10", "A", 79},
	{"Rachel Harris", "10", "B", 86},
}

type Options struct {
	// Overwrite replaces an existing store file instead of failing.
	Overwrite bool
}

// WriteStudents creates a store at path holding the STUDENT table. The store
// engine follows kind.
func WriteStudents(ctx context.Context, path string, kind dataset.Kind, opts Options) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("seed path is required")
	}
	if _, err := os.Stat(path); err == nil {
		if !opts.Overwrite {
			return fmt.Errorf("seed target %q already exists", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove existing seed target: %w", err)
		}
		_ = os.Remove(path + ".wal")
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat seed target: %w", err)
	}

	driver, dsn := "duckdb", path
	if kind == dataset.KindSQLite {
		driver = "sqlite3"
	} else if kind != dataset.KindDuckDB {
		return fmt.Errorf("unsupported store kind %q", kind)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s store: %w", kind, err)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE STUDENT (NAME VARCHAR(25), CLASS VARCHAR(25), SECTION VARCHAR(25), MARKS INT)`); err != nil {
		return fmt.Errorf("create STUDENT table: %w", err)
	}
	for _, student := range Students {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO STUDENT (NAME, CLASS, SECTION, MARKS) VALUES (?, ?, ?, ?)`,
			student.Name, student.Class, student.Section, student.Marks,
		); err != nil {
			return fmt.Errorf("insert student %q: %w", student.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}
