package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/query"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

// handleQuery runs caller-written SQL against a dataset. Only a single
// statement starting with SELECT or WITH is accepted, and the store is opened
// read-only whatever the engine default is.
func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	ds, ok := resolveDataset(deps, w, r)
	if !ok {
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	sqlText := nl2sql.Sanitize(request.SQL)
	if sqlText == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !isAllowedSQL(sqlText) || !query.SingleStatement(sqlText) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only a single read-only SELECT/WITH statement is allowed", false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must be >= 0", false, nil)
		return
	}

	rowLimit := effectiveRowLimit(request.RowLimit, cfg.Query.RowLimit)
	result, err := deps.QueryEngine.Execute(r.Context(), query.Request{Dataset: ds, SQL: sqlText, RowLimit: rowLimit, ReadOnly: true})
	if err != nil {
		var executionErr *query.ExecutionError
		if errors.As(err, &executionErr) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
			return
		}
		writeDatasetError(w, r, err)
		return
	}
	observability.ObserveQueryExecution(result.Duration)

	response := map[string]any{
		"dataset": ds.Name,
		"sql":     sqlText,
		"result":  newTablePayload(query.Format(result)),
		"stats": map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(result.Rows),
		},
	}
	if result.Truncated {
		response["truncated"] = true
	}
	writeJSON(w, http.StatusOK, response)
}

// effectiveRowLimit caps the caller's limit at the configured one. Zero means
// unlimited on either side.
func effectiveRowLimit(requested, configured int) int {
	switch {
	case configured <= 0:
		return requested
	case requested <= 0 || requested > configured:
		return configured
	default:
		return requested
	}
}

func isAllowedSQL(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}
