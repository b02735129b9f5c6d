package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) RecordLoad(ctx context.Context, in catalog.RecordLoadInput) (catalog.DatasetLoad, error) {
	if strings.TrimSpace(in.DatasetName) == "" {
		return catalog.DatasetLoad{}, fmt.Errorf("dataset name is required")
	}
	if strings.TrimSpace(in.TableName) == "" {
		return catalog.DatasetLoad{}, fmt.Errorf("table name is required")
	}
	columns := in.Columns
	if columns == nil {
		columns = []string{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("marshal columns: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("begin record load tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO dataset (dataset_name, store_path, store_kind)
VALUES ($1, $2, $3)
ON CONFLICT (dataset_name)
DO UPDATE SET store_path = EXCLUDED.store_path, store_kind = EXCLUDED.store_kind, updated_at = NOW()`,
		in.DatasetName, in.StorePath, in.StoreKind); err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("upsert dataset: %w", err)
	}

	load := catalog.DatasetLoad{
		DatasetName:  in.DatasetName,
		TableName:    in.TableName,
		SourceFile:   in.SourceFile,
		SourceFormat: in.SourceFormat,
		RowCount:     in.RowCount,
		Columns:      columns,
		ArchiveKey:   in.ArchiveKey,
	}
	if err := tx.QueryRowContext(ctx, `
INSERT INTO dataset_load (dataset_name, table_name, source_file, source_format, row_count, columns_json, archive_key)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, NULLIF($7, ''))
RETURNING load_id, loaded_at`,
		in.DatasetName, in.TableName, in.SourceFile, in.SourceFormat, in.RowCount, string(columnsJSON), in.ArchiveKey,
	).Scan(&load.LoadID, &load.LoadedAt); err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("insert dataset load: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return catalog.DatasetLoad{}, fmt.Errorf("commit record load tx: %w", err)
	}
	return load, nil
}

const datasetSelect = `
SELECT d.dataset_name, d.store_path, d.store_kind, COUNT(l.load_id), MAX(l.loaded_at), d.created_at, d.updated_at
FROM dataset AS d
LEFT JOIN dataset_load AS l ON l.dataset_name = d.dataset_name`

func (r *Repository) ListDatasets(ctx context.Context) ([]catalog.DatasetRecord, error) {
	rows, err := r.db.QueryContext(ctx, datasetSelect+`
GROUP BY d.dataset_name
ORDER BY d.dataset_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]catalog.DatasetRecord, 0)
	for rows.Next() {
		record, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return records, nil
}

func (r *Repository) GetDataset(ctx context.Context, datasetName string) (catalog.DatasetRecord, error) {
	row := r.db.QueryRowContext(ctx, datasetSelect+`
WHERE d.dataset_name = $1
GROUP BY d.dataset_name`, datasetName)
	record, err := scanDataset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DatasetRecord{}, catalog.ErrNotFound
		}
		return catalog.DatasetRecord{}, fmt.Errorf("get dataset: %w", err)
	}
	return record, nil
}

func (r *Repository) ListLoads(ctx context.Context, datasetName string, limit int) ([]catalog.DatasetLoad, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT load_id, dataset_name, table_name, source_file, source_format, row_count, columns_json, COALESCE(archive_key, ''), loaded_at
FROM dataset_load
WHERE dataset_name = $1
ORDER BY load_id DESC
LIMIT $2`, datasetName, limit)
	if err != nil {
		return nil, fmt.Errorf("list dataset loads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	loads := make([]catalog.DatasetLoad, 0)
	for rows.Next() {
		var (
			load        catalog.DatasetLoad
			columnsJSON []byte
		)
		if err := rows.Scan(
			&load.LoadID,
			&load.DatasetName,
			&load.TableName,
			&load.SourceFile,
			&load.SourceFormat,
			&load.RowCount,
			&columnsJSON,
			&load.ArchiveKey,
			&load.LoadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dataset load row: %w", err)
		}
		if err := json.Unmarshal(columnsJSON, &load.Columns); err != nil {
			return nil, fmt.Errorf("decode columns of load %d: %w", load.LoadID, err)
		}
		loads = append(loads, load)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset load rows: %w", err)
	}
	return loads, nil
}

// DeleteDataset removes the dataset and, through the foreign key, its load
// history.
func (r *Repository) DeleteDataset(ctx context.Context, datasetName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM dataset
WHERE dataset_name = $1`, datasetName)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (catalog.DatasetRecord, error) {
	var (
		record     catalog.DatasetRecord
		lastLoadAt sql.NullTime
	)
	if err := row.Scan(
		&record.DatasetName,
		&record.StorePath,
		&record.StoreKind,
		&record.LoadCount,
		&lastLoadAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return catalog.DatasetRecord{}, err
	}
	if lastLoadAt.Valid {
		at := lastLoadAt.Time.UTC()
		record.LastLoadAt = &at
	}
	return record, nil
}
