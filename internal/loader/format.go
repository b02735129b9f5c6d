package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// DetectFormat maps an upload's file extension to a Format.
func DetectFormat(fileName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q (want .csv, .tsv, .xlsx or .parquet)", ErrUnsupportedFormat, fileName)
	}
}

// convertWorkbook writes the first sheet of an XLSX workbook as CSV. Short
// rows are padded to the header width.
func convertWorkbook(srcPath, dstPath string) error {
	book, err := excelize.OpenFile(srcPath)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("%w: workbook has no sheets", ErrEmptyFile)
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return fmt.Errorf("%w: sheet %q is empty", ErrEmptyFile, sheets[0])
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() { _ = out.Close() }()

	width := len(rows[0])
	writer := csv.NewWriter(out)
	for _, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		}
		if err := writer.Write(row[:width]); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return out.Close()
}

// inspectParquet opens a Parquet file footer and returns its row count and
// top-level column names.
func inspectParquet(path string) (int64, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open parquet: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("stat parquet: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return 0, nil, fmt.Errorf("read parquet footer: %w", err)
	}
	fields := pf.Schema().Fields()
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, field.Name())
	}
	return pf.NumRows(), columns, nil
}
