package dataset

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("dataset: not found")

// Kind identifies the engine that owns a store file.
type Kind string

const (
	KindDuckDB Kind = "duckdb"
	KindSQLite Kind = "sqlite"
)

type Dataset struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

type OpenOptions struct {
	ReadOnly bool
}

// AccessError reports a dataset whose store file is missing, unreadable or
// corrupted.
type AccessError struct {
	Dataset string
	Op      string
	Err     error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("dataset %q: %s: %v", e.Dataset, e.Op, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Open returns a connection to the dataset's store. The caller owns the
// returned handle and must close it before the operation that opened it
// returns.
func (d Dataset) Open(ctx context.Context, opts OpenOptions) (*sql.DB, error) {
	if d.Path == "" {
		return nil, &AccessError{Dataset: d.Name, Op: "open", Err: errors.New("store path is required")}
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &AccessError{Dataset: d.Name, Op: "open", Err: ErrNotFound}
		}
		return nil, &AccessError{Dataset: d.Name, Op: "stat", Err: err}
	}
	if info.IsDir() {
		return nil, &AccessError{Dataset: d.Name, Op: "open", Err: fmt.Errorf("%s is a directory", d.Path)}
	}

	driver, dsn, err := d.dsn(opts)
	if err != nil {
		return nil, &AccessError{Dataset: d.Name, Op: "open", Err: err}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &AccessError{Dataset: d.Name, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &AccessError{Dataset: d.Name, Op: "connect", Err: err}
	}
	return db, nil
}

func (d Dataset) dsn(opts OpenOptions) (string, string, error) {
	switch d.Kind {
	case KindDuckDB:
		if opts.ReadOnly {
			return "duckdb", d.Path + "?access_mode=READ_ONLY", nil
		}
		return "duckdb", d.Path, nil
	case KindSQLite:
		if opts.ReadOnly {
			return "sqlite3", "file:" + d.Path + "?mode=ro", nil
		}
		return "sqlite3", "file:" + d.Path + "?mode=rw", nil
	default:
		return "", "", fmt.Errorf("unsupported store kind %q", d.Kind)
	}
}

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	duckdbMagic = []byte("DUCK")
)

// detectKind sniffs the store header for ambiguous extensions. DuckDB files
// carry "DUCK" at offset 8; SQLite files start with a fixed banner.
func detectKind(path string, fallback Kind) Kind {
	file, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer func() { _ = file.Close() }()

	header := make([]byte, 16)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fallback
	}
	header = header[:n]
	if bytes.HasPrefix(header, sqliteMagic) {
		return KindSQLite
	}
	if len(header) >= 12 && bytes.Equal(header[8:12], duckdbMagic) {
		return KindDuckDB
	}
	return fallback
}
