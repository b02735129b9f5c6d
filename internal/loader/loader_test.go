package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/query/sqldb"
	"github.com/querylens/querylens/internal/seed"
	"github.com/querylens/querylens/internal/storage"
)

func TestLoadCSVRoundTripsStudentRows(t *testing.T) {
	loader, datasets := newTestLoader(t, nil, nil)

	result, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Dataset.Name != "student" || result.Table != TableName || result.Format != FormatCSV {
		t.Fatalf("result = %+v", result)
	}
	if result.Rows != 20 {
		t.Fatalf("Rows = %d, want 20", result.Rows)
	}
	if strings.Join(result.Columns, ",") != "NAME,CLASS,SECTION,MARKS" {
		t.Fatalf("Columns = %v", result.Columns)
	}

	ds, err := datasets.Get("student")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	out, err := sqldb.NewEngine(dataset.OpenOptions{ReadOnly: true}).Execute(context.Background(), query.Request{
		Dataset: ds,
		SQL:     `SELECT MARKS FROM uploaded_data WHERE NAME = 'Kevin Young';`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(out.Rows) != 1 || out.Rows[0][0].String() != "95" {
		t.Fatalf("rows = %+v", out.Rows)
	}
	entries, _ := os.ReadDir(datasets.Dir())
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".load-") {
			t.Fatalf("temp dir %q left behind", entry.Name())
		}
	}
}

func TestLoadTSVWithExplicitName(t *testing.T) {
	loader, _ := newTestLoader(t, nil, nil)

	result, err := loader.Load(context.Background(), Request{Dataset: "grades", FileName: "export.tsv", Body: strings.NewReader(studentCSV("\t"))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Dataset.Name != "grades" || result.Rows != 20 || len(result.Columns) != 4 {
		t.Fatalf("result = %+v", result)
	}
}

func TestLoadXLSXUsesFirstSheet(t *testing.T) {
	loader, _ := newTestLoader(t, nil, nil)

	book := excelize.NewFile()
	defer func() { _ = book.Close() }()
	sheet := book.GetSheetName(0)
	header := []any{"NAME", "CLASS", "SECTION", "MARKS"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("SetSheetRow() error = %v", err)
	}
	for i, student := range seed.Students {
		row := []any{student.Name, student.Class, student.Section, student.Marks}
		if err := book.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	result, err := loader.Load(context.Background(), Request{FileName: "Class Report.xlsx", Body: buf})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Dataset.Name != "Class_Report" || result.Rows != 20 || result.Columns[3] != "MARKS" {
		t.Fatalf("result = %+v", result)
	}
}

func TestLoadParquet(t *testing.T) {
	loader, _ := newTestLoader(t, nil, nil)

	result, err := loader.Load(context.Background(), Request{FileName: "student.parquet", Body: bytes.NewReader(studentParquet(t))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Rows != 20 || result.Format != FormatParquet {
		t.Fatalf("result = %+v", result)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	loader, _ := newTestLoader(t, nil, nil)
	loader.MaxBytes = 64

	_, err := loader.Load(context.Background(), Request{FileName: "notes.txt", Body: strings.NewReader("x")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
	_, err = loader.Load(context.Background(), Request{FileName: "empty.csv", Body: strings.NewReader("")})
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("error = %v, want ErrEmptyFile", err)
	}
	_, err = loader.Load(context.Background(), Request{FileName: "big.csv", Body: strings.NewReader(studentCSV(","))})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	_, err = loader.Load(context.Background(), Request{FileName: "broken.parquet", Body: strings.NewReader("not parquet at all")})
	if err == nil {
		t.Fatal("expected parquet validation error")
	}
	_, err = loader.Load(context.Background(), Request{Dataset: "../escape", FileName: "student.csv", Body: strings.NewReader(studentCSV(","))})
	if err == nil {
		t.Fatal("expected invalid dataset name error")
	}
}

func TestLoadArchivesAndRecordsLoad(t *testing.T) {
	archive := newMemoryStore()
	registry := &fakeRegistry{}
	loader, _ := newTestLoader(t, archive, registry)

	result, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.ArchiveKey != "datasets/student/uploaded_data.parquet" {
		t.Fatalf("ArchiveKey = %q", result.ArchiveKey)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("Warnings = %v", result.Warnings)
	}
	stored, ok := archive.objects[result.ArchiveKey]
	if !ok {
		t.Fatalf("archive objects = %v", archive.keys())
	}
	if stored.info.Metadata[storage.MetaDataset] != "student" || stored.info.Metadata[storage.MetaRows] != "20" || stored.info.ContentType != storage.ParquetContentType {
		t.Fatalf("archived object = %+v", stored.info)
	}
	body := stored.data
	pf, err := parquet.OpenFile(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("parquet.OpenFile() error = %v", err)
	}
	if pf.NumRows() != 20 {
		t.Fatalf("archived rows = %d", pf.NumRows())
	}
	if len(registry.loads) != 1 || registry.loads[0].RowCount != 20 || registry.loads[0].SourceFormat != "csv" {
		t.Fatalf("registry loads = %+v", registry.loads)
	}
}

func TestLoadDropsArchiveThatFailsVerification(t *testing.T) {
	archive := newMemoryStore()
	archive.shortWrite = true
	loader, datasets := newTestLoader(t, archive, nil)

	result, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.ArchiveKey != "" {
		t.Fatalf("ArchiveKey = %q", result.ArchiveKey)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "archived export is") {
		t.Fatalf("Warnings = %v", result.Warnings)
	}
	if len(archive.objects) != 0 {
		t.Fatalf("archive objects = %v", archive.keys())
	}
	if _, err := datasets.Get("student"); err != nil {
		t.Fatalf("dataset should exist despite archive failure: %v", err)
	}
}

func TestOpenArchiveStreamsExport(t *testing.T) {
	archive := newMemoryStore()
	loader, _ := newTestLoader(t, archive, nil)

	if _, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	body, info, err := loader.OpenArchive(context.Background(), "student")
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer func() { _ = body.Close() }()
	payload, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if int64(len(payload)) != info.Size || !bytes.HasPrefix(payload, []byte("PAR1")) {
		t.Fatalf("archive = %d bytes, info = %+v", len(payload), info)
	}

	if _, _, err := loader.OpenArchive(context.Background(), "grades"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("OpenArchive(grades) error = %v", err)
	}
	noArchive, _ := newTestLoader(t, nil, nil)
	if _, _, err := noArchive.OpenArchive(context.Background(), "student"); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("OpenArchive() without archive error = %v", err)
	}
}

func TestLoadDegradesWhenRegistryFails(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("catalog unavailable")}
	loader, datasets := newTestLoader(t, nil, registry)

	result, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "registry") {
		t.Fatalf("Warnings = %v", result.Warnings)
	}
	if _, err := datasets.Get("student"); err != nil {
		t.Fatalf("dataset should exist despite registry failure: %v", err)
	}
}

func TestDeleteRemovesStoreArchiveAndHistory(t *testing.T) {
	archive := newMemoryStore()
	registry := &fakeRegistry{}
	loader, datasets := newTestLoader(t, archive, registry)

	if _, err := loader.Load(context.Background(), Request{FileName: "student.csv", Body: strings.NewReader(studentCSV(","))}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	result, err := loader.Delete(context.Background(), "student")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if result.ArchivedRemoved != 1 || len(archive.objects) != 0 {
		t.Fatalf("result = %+v, objects = %v", result, archive.keys())
	}
	if len(registry.deleted) != 1 || registry.deleted[0] != "student" {
		t.Fatalf("registry deleted = %v", registry.deleted)
	}
	if _, err := datasets.Get("student"); !errors.Is(err, dataset.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if _, err := loader.Delete(context.Background(), "student"); !errors.Is(err, dataset.ErrNotFound) {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"a.csv":     FormatCSV,
		"A.CSV":     FormatCSV,
		"b.tsv":     FormatTSV,
		"c.xlsx":    FormatXLSX,
		"d.parquet": FormatParquet,
	}
	for name, want := range tests {
		got, err := DetectFormat(name)
		if err != nil || got != want {
			t.Fatalf("DetectFormat(%q) = %q, %v", name, got, err)
		}
	}
	if _, err := DetectFormat("e.xls"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("DetectFormat(xls) error = %v", err)
	}
}

func newTestLoader(t *testing.T, archive storage.ObjectStore, registry Registry) (*Loader, *dataset.Catalog) {
	t.Helper()
	datasets, err := dataset.NewCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return New(datasets, archive, registry, 0, nil), datasets
}

func studentCSV(sep string) string {
	var b strings.Builder
	b.WriteString(strings.Join([]string{"NAME", "CLASS", "SECTION", "MARKS"}, sep) + "\n")
	for _, s := range seed.Students {
		b.WriteString(strings.Join([]string{s.Name, s.Class, s.Section, fmt.Sprint(s.Marks)}, sep) + "\n")
	}
	return b.String()
}

func studentParquet(t *testing.T) []byte {
	t.Helper()
	type row struct {
		Name    string `parquet:"NAME"`
		Class   string `parquet:"CLASS"`
		Section string `parquet:"SECTION"`
		Marks   int64  `parquet:"MARKS"`
	}
	rows := make([]row, 0, len(seed.Students))
	for _, s := range seed.Students {
		rows = append(rows, row{Name: s.Name, Class: s.Class, Section: s.Section, Marks: int64(s.Marks)})
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[row](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

type fakeRegistry struct {
	loads   []catalog.RecordLoadInput
	deleted []string
	err     error
}

func (f *fakeRegistry) RecordLoad(_ context.Context, in catalog.RecordLoadInput) (catalog.DatasetLoad, error) {
	if f.err != nil {
		return catalog.DatasetLoad{}, f.err
	}
	f.loads = append(f.loads, in)
	return catalog.DatasetLoad{LoadID: int64(len(f.loads)), DatasetName: in.DatasetName}, nil
}

func (f *fakeRegistry) DeleteDataset(_ context.Context, name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.deleted = append(f.deleted, name)
	return true, nil
}

type memoryObject struct {
	data []byte
	info storage.ObjectInfo
}

type memoryStore struct {
	objects map[string]memoryObject
	// shortWrite drops the last byte of every upload.
	shortWrite bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]memoryObject{}}
}

func (m *memoryStore) keys() []string {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if m.shortWrite && len(data) > 0 {
		data = data[:len(data)-1]
	}
	info := storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: opts.ContentType, Metadata: opts.Metadata}
	m.objects[key] = memoryObject{data: data, info: info}
	return info, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	object, ok := m.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.data)), object.info, nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	object, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return object.info, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, object := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, object.info)
		}
	}
	return out, nil
}
