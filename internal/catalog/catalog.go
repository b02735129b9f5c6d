package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository is the dataset registry: which datasets were loaded, from what
// source and where their archive lives. The dataset store files remain the
// source of truth for querying; the registry only records history.
type Repository interface {
	HealthCheck(ctx context.Context) error
	RecordLoad(ctx context.Context, in RecordLoadInput) (DatasetLoad, error)
	ListDatasets(ctx context.Context) ([]DatasetRecord, error)
	GetDataset(ctx context.Context, datasetName string) (DatasetRecord, error)
	ListLoads(ctx context.Context, datasetName string, limit int) ([]DatasetLoad, error)
	DeleteDataset(ctx context.Context, datasetName string) (bool, error)
}

type DatasetRecord struct {
	DatasetName string
	StorePath   string
	StoreKind   string
	LoadCount   int
	LastLoadAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DatasetLoad struct {
	LoadID       int64
	DatasetName  string
	TableName    string
	SourceFile   string
	SourceFormat string
	RowCount     int64
	Columns      []string
	ArchiveKey   string
	LoadedAt     time.Time
}

type RecordLoadInput struct {
	DatasetName  string
	StorePath    string
	StoreKind    string
	TableName    string
	SourceFile   string
	SourceFormat string
	RowCount     int64
	Columns      []string
	ArchiveKey   string
}
