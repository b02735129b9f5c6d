package dataset

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCatalogListDiscoversStoreFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sales.duckdb"), nil)
	writeFile(t, filepath.Join(dir, "student.db"), []byte("SQLite format 3\x00rest"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(dir, "legacy.sqlite"), nil)
	if err := os.Mkdir(filepath.Join(dir, "nested.duckdb"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	catalog, err := NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	datasets, err := catalog.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(datasets) != 3 {
		t.Fatalf("datasets = %+v", datasets)
	}
	want := []struct {
		name string
		kind Kind
	}{{"legacy", KindSQLite}, {"sales", KindDuckDB}, {"student", KindSQLite}}
	for i, w := range want {
		if datasets[i].Name != w.name || datasets[i].Kind != w.kind {
			t.Fatalf("datasets[%d] = %+v, want %s/%s", i, datasets[i], w.name, w.kind)
		}
	}
}

func TestCatalogPrefersDuckDBOnNameClash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "student.db"), nil)
	writeFile(t, filepath.Join(dir, "student.duckdb"), nil)

	catalog, _ := NewCatalog(dir)
	datasets, err := catalog.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(datasets) != 1 || datasets[0].Kind != KindDuckDB {
		t.Fatalf("datasets = %+v", datasets)
	}
	ds, err := catalog.Get("student")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if filepath.Ext(ds.Path) != ".duckdb" {
		t.Fatalf("Path = %q", ds.Path)
	}
}

func TestDetectKindSniffsDuckDBHeaderInDBFile(t *testing.T) {
	dir := t.TempDir()
	header := append([]byte("\x00\x00\x00\x00\x00\x00\x00\x00DUCK"), make([]byte, 8)...)
	writeFile(t, filepath.Join(dir, "events.db"), header)

	catalog, _ := NewCatalog(dir)
	ds, err := catalog.Get("events")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ds.Kind != KindDuckDB {
		t.Fatalf("Kind = %q", ds.Kind)
	}
}

func TestCatalogGetMissingReturnsAccessError(t *testing.T) {
	catalog, _ := NewCatalog(t.TempDir())
	_, err := catalog.Get("missing")
	var accessErr *AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("error = %v, want AccessError", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	_, err = catalog.Get("../etc/passwd")
	if !errors.As(err, &accessErr) {
		t.Fatalf("error = %v, want AccessError for invalid name", err)
	}
}

func TestCatalogDeleteRemovesStoreAndWAL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sales.duckdb"), nil)
	writeFile(t, filepath.Join(dir, "sales.duckdb.wal"), nil)

	catalog, _ := NewCatalog(dir)
	if _, err := catalog.Delete("sales"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, name := range []string{"sales.duckdb", "sales.duckdb.wal"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s still exists: %v", name, err)
		}
	}
	if _, err := catalog.Delete("sales"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestNameFromFile(t *testing.T) {
	tests := map[string]string{
		"student.csv":              "student",
		"Q1 sales report.xlsx":     "Q1_sales_report",
		`C:\uploads\grades.csv`:    "grades",
		"../../etc/passwd.parquet": "passwd",
		".csv":                     "dataset",
		"":                         "dataset",
	}
	for input, want := range tests {
		if got := NameFromFile(input); got != want {
			t.Fatalf("NameFromFile(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOpenMissingFileReturnsAccessError(t *testing.T) {
	ds := Dataset{Name: "ghost", Path: filepath.Join(t.TempDir(), "ghost.duckdb"), Kind: KindDuckDB}
	_, err := ds.Open(context.Background(), OpenOptions{})
	var accessErr *AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("error = %v, want AccessError", err)
	}
	if _, statErr := os.Stat(ds.Path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("Open() must not create a missing store file")
	}
}

func TestOpenSQLiteReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "student.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE t (a INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_ = db.Close()

	ds := Dataset{Name: "student", Path: path, Kind: KindSQLite}
	conn, err := ds.Open(context.Background(), OpenOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Exec(`INSERT INTO t VALUES (1)`); err == nil {
		t.Fatal("expected write to fail on read-only connection")
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", path, err)
	}
}
