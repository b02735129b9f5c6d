package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/loader"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/storage"
)

const multipartOverheadBytes = 1 << 20

type datasetResponse struct {
	Name       string       `json:"name"`
	Kind       dataset.Kind `json:"kind"`
	LoadCount  *int64       `json:"load_count,omitempty"`
	LastLoadAt *time.Time   `json:"last_load_at,omitempty"`
}

func handleListDatasets(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset catalog is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	datasets, err := deps.Datasets.List()
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_LIST_FAILED", "failed to list datasets", true, map[string]any{"details": err.Error()})
		return
	}

	records := map[string]catalog.DatasetRecord{}
	var warnings []string
	if deps.Registry != nil {
		registered, err := deps.Registry.ListDatasets(r.Context())
		if err != nil {
			warnings = append(warnings, "registry unavailable: "+err.Error())
		}
		for _, record := range registered {
			records[record.DatasetName] = record
		}
	}

	items := make([]datasetResponse, 0, len(datasets))
	for _, ds := range datasets {
		item := datasetResponse{Name: ds.Name, Kind: ds.Kind}
		if record, ok := records[ds.Name]; ok {
			count := int64(record.LoadCount)
			item.LoadCount = &count
			item.LastLoadAt = record.LastLoadAt
		}
		items = append(items, item)
	}
	response := map[string]any{"datasets": items}
	if len(warnings) > 0 {
		response["warnings"] = warnings
	}
	writeJSON(w, http.StatusOK, response)
}

func handleGetDataset(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(deps, w, r)
	if !ok {
		return
	}
	described, err := deps.Schema.Describe(r.Context(), ds)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	tables := make([]string, 0, len(described))
	for _, table := range described {
		tables = append(tables, table.Name)
	}

	response := map[string]any{
		"name":   ds.Name,
		"kind":   ds.Kind,
		"tables": tables,
		"schema": described,
	}
	if deps.Registry != nil {
		record, err := deps.Registry.GetDataset(r.Context(), ds.Name)
		switch {
		case err == nil:
			response["load_count"] = record.LoadCount
			response["last_load_at"] = record.LastLoadAt
			response["registered_at"] = record.CreatedAt
		case !errors.Is(err, catalog.ErrNotFound):
			response["warnings"] = []string{"registry unavailable: " + err.Error()}
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func handleUploadDataset(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Loader == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "dataset loading is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDatasetAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if cfg.Datasets.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Datasets.UploadMaxBytes+multipartOverheadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "uploaded file exceeds size limit", false, map[string]any{"limit_bytes": cfg.Datasets.UploadMaxBytes})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "expected multipart form with a file field", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	name := strings.TrimSpace(r.FormValue("name"))
	if name != "" {
		if err := dataset.ValidateName(name); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
			return
		}
	}

	result, err := deps.Loader.Load(r.Context(), loader.Request{Dataset: name, FileName: header.Filename, Body: file})
	if err != nil {
		switch {
		case errors.Is(err, loader.ErrUnsupportedFormat):
			writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
		case errors.Is(err, loader.ErrTooLarge):
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", err.Error(), false, map[string]any{"limit_bytes": cfg.Datasets.UploadMaxBytes})
		case errors.Is(err, loader.ErrEmptyFile):
			writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_FILE", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "LOAD_FAILED", "failed to load uploaded file", false, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"dataset":     result.Dataset.Name,
		"kind":        result.Dataset.Kind,
		"table":       result.Table,
		"format":      result.Format,
		"rows":        result.Rows,
		"columns":     result.Columns,
		"archive_key": result.ArchiveKey,
		"warnings":    result.Warnings,
	})
}

func handleDeleteDataset(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Loader == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DELETE_NOT_CONFIGURED", "dataset deletion is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDatasetAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	name := r.PathValue("dataset")
	if err := dataset.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
		return
	}

	result, err := deps.Loader.Delete(r.Context(), name)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":          result.Dataset.Name,
		"deleted":          true,
		"archived_removed": result.ArchivedRemoved,
		"warnings":         result.Warnings,
	})
}

// handleDownloadArchive streams the Parquet export kept in the archive.
func handleDownloadArchive(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Loader == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "dataset archive is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	name := r.PathValue("dataset")
	if err := dataset.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
		return
	}

	body, info, err := deps.Loader.OpenArchive(r.Context(), name)
	switch {
	case errors.Is(err, loader.ErrArchiveDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", err.Error(), false, nil)
		return
	case errors.Is(err, loader.ErrNotArchived):
		writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_NOT_FOUND", err.Error(), false, nil)
		return
	case err != nil:
		writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_UNAVAILABLE", "dataset archive could not be read", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = storage.ParquetContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.parquet"`, name))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+strings.Trim(info.ETag, `"`)+`"`)
	}
	if rows := info.Metadata[storage.MetaRows]; rows != "" {
		w.Header().Set("X-Querylens-Rows", rows)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		observability.RequestLogger(r.Context(), deps.Logger).Warn("archive download interrupted", "dataset", name, "error", err)
	}
}

func handleListLoads(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REGISTRY_NOT_CONFIGURED", "dataset registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	name := r.PathValue("dataset")
	if err := dataset.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, nil)
			return
		}
		limit = parsed
	}

	loads, err := deps.Registry.ListLoads(r.Context(), name, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTRY_ERROR", "failed to list dataset loads", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": name, "loads": loads})
}

func handleListTables(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(deps, w, r)
	if !ok {
		return
	}
	tables, err := deps.Schema.ListTables(r.Context(), ds)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": ds.Name, "tables": tables})
}

func handleListColumns(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ds, ok := resolveDataset(deps, w, r)
	if !ok {
		return
	}
	table := r.PathValue("table")
	tables, err := deps.Schema.ListTables(r.Context(), ds)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	if !slices.Contains(tables, table) {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", fmt.Sprintf("table %q not found in dataset %q", table, ds.Name), false, nil)
		return
	}
	columns, err := deps.Schema.ListColumns(r.Context(), ds, table)
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": ds.Name, "table": table, "columns": columns})
}

// resolveDataset runs the shared preamble of read endpoints: dependency and
// role checks, name validation and catalog lookup.
func resolveDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) (dataset.Dataset, bool) {
	if deps.Datasets == nil || deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset catalog is not configured", false, nil)
		return dataset.Dataset{}, false
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return dataset.Dataset{}, false
	}
	name := r.PathValue("dataset")
	if err := dataset.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
		return dataset.Dataset{}, false
	}
	ds, err := deps.Datasets.Get(name)
	if err != nil {
		writeDatasetError(w, r, err)
		return dataset.Dataset{}, false
	}
	return ds, true
}

func writeDatasetError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_ACCESS_FAILED", "dataset could not be read", false, map[string]any{"details": err.Error()})
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if role == auth.RoleQueryReader && identity.CanRead() {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
