package migrations

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testMigrationFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_load_archive.up.sql":       {Data: []byte("ALTER TABLE dataset_load ADD COLUMN archive_etag TEXT;")},
		"sql/000002_load_archive.down.sql":     {Data: []byte("ALTER TABLE dataset_load DROP COLUMN archive_etag;")},
		"sql/000001_dataset_registry.up.sql":   {Data: []byte("CREATE TABLE dataset (dataset_name TEXT);")},
		"sql/000001_dataset_registry.down.sql": {Data: []byte("DROP TABLE dataset;")},
		"sql/README.md":                        {Data: []byte("not a migration")},
	}
}

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	return &Runner{fsys: testMigrationFS(), logger: slog.New(slog.NewTextHandler(&logs, nil))}, &logs
}

func expectPrepare(mock sqlmock.Sqlmock, applied *sqlmock.Rows) {
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS ` + migrationTable)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, applied_at FROM ` + migrationTable)).
		WillReturnRows(applied)
}

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	items, err := loadMigrations(testMigrationFS())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[0].Name != "dataset_registry" || items[1].Version != 2 || items[1].Name != "load_archive" {
		t.Fatalf("unexpected migrations: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_dataset_registry.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("loadMigrations() error = %v", err)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_dataset_registry.up.sql": {Data: []byte("SELECT 1;")},
		"sql/000001_registry.down.sql":       {Data: []byte("SELECT -1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "conflicting names") {
		t.Fatalf("loadMigrations() error = %v", err)
	}
}

func TestUpAppliesPendingVersionsAndLogsThem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	runner, logs := newTestRunner(t)

	expectPrepare(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE dataset_load ADD COLUMN archive_etag TEXT;")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO ` + migrationTable + ` (version, name) VALUES ($1, $2)`)).
		WithArgs(int64(2), "load_archive").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up() applied = %d, want 1", applied)
	}
	if out := logs.String(); !strings.Contains(out, "registry migration applied") || !strings.Contains(out, "version=2") || !strings.Contains(out, "name=load_archive") {
		t.Fatalf("logs = %s", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestUpLogsCurrentVersionWhenNothingPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	runner, logs := newTestRunner(t)

	now := time.Now()
	expectPrepare(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), now).AddRow(int64(2), now))

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil || applied != 0 {
		t.Fatalf("Up() = %d, %v", applied, err)
	}
	if out := logs.String(); !strings.Contains(out, "registry schema is up to date") || !strings.Contains(out, "version=2") {
		t.Fatalf("logs = %s", out)
	}
}

func TestUpStopsAndRollsBackOnFailedScript(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	runner, logs := newTestRunner(t)

	expectPrepare(mock, sqlmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE dataset (dataset_name TEXT);")).
		WillReturnError(errors.New("permission denied for schema public"))
	mock.ExpectRollback()

	applied, err := runner.Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "apply migration 1 (dataset_registry)") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("Up() applied = %d", applied)
	}
	if !strings.Contains(logs.String(), "registry migration failed") {
		t.Fatalf("logs = %s", logs.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestDownRollsBackNewestVersionFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	runner, _ := newTestRunner(t)

	now := time.Now()
	expectPrepare(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), now).AddRow(int64(2), now))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE dataset_load DROP COLUMN archive_etag;")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM ` + migrationTable + ` WHERE version = $1`)).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reverted, err := runner.Down(context.Background(), db, 0)
	if err != nil || reverted != 1 {
		t.Fatalf("Down() = %d, %v", reverted, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestStatusReportsAppliedAndPendingVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	runner, _ := newTestRunner(t)

	appliedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expectPrepare(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), appliedAt))

	statuses, err := runner.Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if !statuses[0].Applied || !statuses[0].AppliedAt.Equal(appliedAt) || statuses[0].Name != "dataset_registry" {
		t.Fatalf("statuses[0] = %+v", statuses[0])
	}
	if statuses[1].Applied || statuses[1].Name != "load_archive" {
		t.Fatalf("statuses[1] = %+v", statuses[1])
	}
}
