package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/querylens/querylens/internal/dataset"
)

// Table is the live shape of one table. Column names are the physical
// identifiers in declaration order.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Introspector reads table and column metadata from a dataset store. Each call
// opens and closes its own connection; nothing is cached.
type Introspector struct {
	Open dataset.OpenOptions
}

func NewIntrospector(opts dataset.OpenOptions) *Introspector {
	return &Introspector{Open: opts}
}

const (
	duckdbTablesSQL = `SELECT table_name FROM information_schema.tables
WHERE table_catalog = current_database() AND table_schema = 'main'
ORDER BY table_name`
	duckdbColumnsSQL = `SELECT column_name FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`
	sqliteTablesSQL = `SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	sqliteColumnsSQL = `SELECT name FROM pragma_table_info(?) ORDER BY cid`
)

func (i *Introspector) ListTables(ctx context.Context, ds dataset.Dataset) ([]string, error) {
	statement := duckdbTablesSQL
	if ds.Kind == dataset.KindSQLite {
		statement = sqliteTablesSQL
	}
	return i.queryNames(ctx, ds, "list tables", statement)
}

func (i *Introspector) ListColumns(ctx context.Context, ds dataset.Dataset, table string) ([]string, error) {
	statement := duckdbColumnsSQL
	if ds.Kind == dataset.KindSQLite {
		statement = sqliteColumnsSQL
	}
	return i.queryNames(ctx, ds, "list columns", statement, table)
}

// Describe returns every table in the dataset together with its columns.
func (i *Introspector) Describe(ctx context.Context, ds dataset.Dataset) ([]Table, error) {
	tables, err := i.ListTables(ctx, ds)
	if err != nil {
		return nil, err
	}
	described := make([]Table, 0, len(tables))
	for _, name := range tables {
		columns, err := i.ListColumns(ctx, ds, name)
		if err != nil {
			return nil, err
		}
		described = append(described, Table{Name: name, Columns: columns})
	}
	return described, nil
}

func (i *Introspector) queryNames(ctx context.Context, ds dataset.Dataset, op, statement string, args ...any) ([]string, error) {
	db, err := ds.Open(ctx, i.Open)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	names, err := scanNames(ctx, db, statement, args...)
	if err != nil {
		return nil, &dataset.AccessError{Dataset: ds.Name, Op: op, Err: err}
	}
	return names, nil
}

func scanNames(ctx context.Context, db *sql.DB, statement string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata rows: %w", err)
	}
	return names, nil
}
