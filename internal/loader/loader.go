package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/storage"
)

// TableName is the table every uploaded file is loaded into.
const TableName = "uploaded_data"

var (
	ErrEmptyFile       = errors.New("uploaded file is empty")
	ErrTooLarge        = errors.New("uploaded file exceeds size limit")
	ErrArchiveDisabled = errors.New("dataset archive is not configured")
	ErrNotArchived     = errors.New("dataset has no archived export")
)

// Registry records load history. A nil Registry disables it.
type Registry interface {
	RecordLoad(ctx context.Context, in catalog.RecordLoadInput) (catalog.DatasetLoad, error)
	DeleteDataset(ctx context.Context, datasetName string) (bool, error)
}

type Request struct {
	// Dataset names the target store. Empty derives it from FileName.
	Dataset  string
	FileName string
	Body     io.Reader
}

type Result struct {
	Dataset    dataset.Dataset `json:"dataset"`
	Table      string          `json:"table"`
	Format     Format          `json:"format"`
	Rows       int64           `json:"rows"`
	Columns    []string        `json:"columns"`
	ArchiveKey string          `json:"archive_key,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

type DeleteResult struct {
	Dataset         dataset.Dataset `json:"dataset"`
	ArchivedRemoved int             `json:"archived_removed"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// Loader turns uploaded tabular files into DuckDB dataset stores. Archive and
// Registry are optional; their failures surface as warnings on the result.
type Loader struct {
	Catalog  *dataset.Catalog
	Archive  storage.ObjectStore
	Registry Registry
	MaxBytes int64
	Logger   *slog.Logger

	mu sync.Mutex
}

func New(datasets *dataset.Catalog, archive storage.ObjectStore, registry Registry, maxBytes int64, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Loader{Catalog: datasets, Archive: archive, Registry: registry, MaxBytes: maxBytes, Logger: logger}
}

func (l *Loader) Load(ctx context.Context, req Request) (result Result, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.ObserveDatasetLoad(status)
	}()

	if l.Catalog == nil {
		return Result{}, fmt.Errorf("dataset catalog is required")
	}
	if req.Body == nil {
		return Result{}, fmt.Errorf("%w: no body", ErrEmptyFile)
	}
	format, err := DetectFormat(req.FileName)
	if err != nil {
		return Result{}, err
	}
	name := strings.TrimSpace(req.Dataset)
	if name == "" {
		name = dataset.NameFromFile(req.FileName)
	}
	target, err := l.Catalog.PathFor(name)
	if err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	workDir, err := os.MkdirTemp(l.Catalog.Dir(), ".load-")
	if err != nil {
		return Result{}, fmt.Errorf("create load temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	sourcePath := filepath.Join(workDir, "source."+string(format))
	if err := l.spool(req.Body, sourcePath); err != nil {
		return Result{}, err
	}

	var readExpr string
	switch format {
	case FormatCSV:
		readExpr = fmt.Sprintf("read_csv_auto(%s, header = true)", quoteLiteral(sourcePath))
	case FormatTSV:
		readExpr = fmt.Sprintf("read_csv_auto(%s, header = true, delim = '\t')", quoteLiteral(sourcePath))
	case FormatXLSX:
		csvPath := filepath.Join(workDir, "sheet.csv")
		if err := convertWorkbook(sourcePath, csvPath); err != nil {
			return Result{}, err
		}
		readExpr = fmt.Sprintf("read_csv_auto(%s, header = true)", quoteLiteral(csvPath))
	case FormatParquet:
		if _, _, err := inspectParquet(sourcePath); err != nil {
			return Result{}, err
		}
		readExpr = fmt.Sprintf("read_parquet(%s)", quoteLiteral(sourcePath))
	}

	storePath := filepath.Join(workDir, name+".duckdb")
	rows, columns, err := buildStore(ctx, storePath, readExpr)
	if err != nil {
		return Result{}, err
	}

	result = Result{
		Dataset: dataset.Dataset{Name: name, Path: target, Kind: dataset.KindDuckDB},
		Table:   TableName,
		Format:  format,
		Rows:    rows,
		Columns: columns,
	}
	logger := observability.RequestLogger(ctx, l.Logger).With("dataset", name, "format", format)

	if l.Archive != nil {
		key, archiveErr := l.archive(ctx, storePath, workDir, name, rows)
		if archiveErr != nil {
			logger.Warn("dataset archive failed", "error", archiveErr)
			result.Warnings = append(result.Warnings, "archive failed: "+archiveErr.Error())
		} else {
			result.ArchiveKey = key
		}
	}

	if err := os.Remove(target + ".wal"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("remove stale wal: %w", err)
	}
	if err := os.Rename(storePath, target); err != nil {
		return Result{}, fmt.Errorf("install dataset store: %w", err)
	}

	if l.Registry != nil {
		_, regErr := l.Registry.RecordLoad(ctx, catalog.RecordLoadInput{
			DatasetName:  name,
			StorePath:    target,
			StoreKind:    string(dataset.KindDuckDB),
			TableName:    TableName,
			SourceFile:   filepath.Base(strings.ReplaceAll(req.FileName, `\`, "/")),
			SourceFormat: string(format),
			RowCount:     rows,
			Columns:      columns,
			ArchiveKey:   result.ArchiveKey,
		})
		if regErr != nil {
			logger.Warn("dataset registry update failed", "error", regErr)
			result.Warnings = append(result.Warnings, "registry update failed: "+regErr.Error())
		}
	}

	logger.Info("dataset loaded", "rows", rows, "columns", len(columns), "archive_key", result.ArchiveKey)
	return result, nil
}

// Delete removes a dataset store together with its archived exports and
// registry history.
func (l *Loader) Delete(ctx context.Context, name string) (DeleteResult, error) {
	if l.Catalog == nil {
		return DeleteResult{}, fmt.Errorf("dataset catalog is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.Catalog.Delete(name)
	if err != nil {
		return DeleteResult{}, err
	}
	result := DeleteResult{Dataset: ds}
	logger := observability.RequestLogger(ctx, l.Logger).With("dataset", name)

	if l.Archive != nil {
		removed, archiveErr := l.purgeArchive(ctx, name)
		result.ArchivedRemoved = removed
		if archiveErr != nil {
			logger.Warn("dataset archive cleanup failed", "error", archiveErr)
			result.Warnings = append(result.Warnings, "archive cleanup failed: "+archiveErr.Error())
		}
	}
	if l.Registry != nil {
		if _, regErr := l.Registry.DeleteDataset(ctx, name); regErr != nil {
			logger.Warn("dataset registry delete failed", "error", regErr)
			result.Warnings = append(result.Warnings, "registry delete failed: "+regErr.Error())
		}
	}

	logger.Info("dataset deleted", "archived_removed", result.ArchivedRemoved)
	return result, nil
}

func (l *Loader) spool(body io.Reader, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := body
	if l.MaxBytes > 0 {
		reader = io.LimitReader(body, l.MaxBytes+1)
	}
	written, err := io.Copy(file, reader)
	if err != nil {
		return fmt.Errorf("write upload file: %w", err)
	}
	if l.MaxBytes > 0 && written > l.MaxBytes {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, l.MaxBytes)
	}
	if written == 0 {
		return ErrEmptyFile
	}
	return file.Close()
}

func buildStore(ctx context.Context, storePath, readExpr string) (int64, []string, error) {
	db, err := sql.Open("duckdb", storePath)
	if err != nil {
		return 0, nil, fmt.Errorf("open duckdb store: %w", err)
	}
	defer func() { _ = db.Close() }()

	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT * FROM %s`, quoteIdent(TableName), readExpr)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return 0, nil, fmt.Errorf("load table: %w", err)
	}

	var rowCount int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(TableName)).Scan(&rowCount); err != nil {
		return 0, nil, fmt.Errorf("count rows: %w", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+quoteIdent(TableName)+` LIMIT 0`)
	if err != nil {
		return 0, nil, fmt.Errorf("read columns: %w", err)
	}
	columns, err := rows.Columns()
	_ = rows.Close()
	if err != nil {
		return 0, nil, fmt.Errorf("read columns: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return 0, nil, fmt.Errorf("checkpoint store: %w", err)
	}
	if err := db.Close(); err != nil {
		return 0, nil, fmt.Errorf("close duckdb store: %w", err)
	}
	return rowCount, columns, nil
}

// archive exports the loaded table to Parquet, checks the export's row count
// and uploads it under the dataset's archive prefix.
func (l *Loader) archive(ctx context.Context, storePath, workDir, name string, rows int64) (string, error) {
	key, err := storage.BuildArchivePath(name, TableName)
	if err != nil {
		return "", err
	}
	exportPath := filepath.Join(workDir, TableName+".parquet")

	db, err := sql.Open("duckdb", storePath+"?access_mode=READ_ONLY")
	if err != nil {
		return "", fmt.Errorf("open store for export: %w", err)
	}
	copySQL := fmt.Sprintf(`COPY %s TO %s (FORMAT PARQUET, COMPRESSION ZSTD)`, quoteIdent(TableName), quoteLiteral(exportPath))
	_, err = db.ExecContext(ctx, copySQL)
	_ = db.Close()
	if err != nil {
		return "", fmt.Errorf("export parquet: %w", err)
	}

	exported, _, err := inspectParquet(exportPath)
	if err != nil {
		return "", err
	}
	if exported != rows {
		return "", fmt.Errorf("parquet export has %d rows, want %d", exported, rows)
	}

	file, err := os.Open(exportPath)
	if err != nil {
		return "", fmt.Errorf("open parquet export: %w", err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat parquet export: %w", err)
	}
	opts := storage.PutOptions{
		ContentType: storage.ParquetContentType,
		Metadata: map[string]string{
			storage.MetaDataset: name,
			storage.MetaTable:   TableName,
			storage.MetaRows:    strconv.FormatInt(rows, 10),
		},
	}
	if _, err := l.Archive.Put(ctx, key, file, info.Size(), opts); err != nil {
		return "", fmt.Errorf("upload parquet export: %w", err)
	}

	if err := l.verifyArchive(ctx, key, info.Size(), opts.Metadata[storage.MetaRows]); err != nil {
		// A partial export is worse than none.
		_ = l.Archive.Delete(ctx, key)
		return "", err
	}
	return key, nil
}

// verifyArchive checks the stored object against what was uploaded.
func (l *Loader) verifyArchive(ctx context.Context, key string, size int64, rows string) error {
	stored, err := l.Archive.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("verify archived export: %w", err)
	}
	if stored.Size != size {
		return fmt.Errorf("archived export is %d bytes, want %d", stored.Size, size)
	}
	if got := stored.Metadata[storage.MetaRows]; got != "" && got != rows {
		return fmt.Errorf("archived export reports %s rows, want %s", got, rows)
	}
	return nil
}

// OpenArchive streams the archived Parquet export of a dataset's table. The
// caller closes the reader.
func (l *Loader) OpenArchive(ctx context.Context, name string) (io.ReadCloser, storage.ObjectInfo, error) {
	if l.Archive == nil {
		return nil, storage.ObjectInfo{}, ErrArchiveDisabled
	}
	key, err := storage.BuildArchivePath(name, TableName)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, info, err := l.Archive.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotArchived, name)
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("open archive %q: %w", key, err)
	}
	return body, info, nil
}

func (l *Loader) purgeArchive(ctx context.Context, name string) (int, error) {
	prefix, err := storage.BuildArchivePrefix(name)
	if err != nil {
		return 0, err
	}
	objects, err := l.Archive.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list archive: %w", err)
	}
	removed := 0
	for _, object := range objects {
		if err := l.Archive.Delete(ctx, object.Key); err != nil {
			return removed, fmt.Errorf("delete %q: %w", object.Key, err)
		}
		removed++
	}
	return removed, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
