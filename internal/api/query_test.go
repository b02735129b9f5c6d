package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/querylens/querylens/internal/query"
)

type recordingEngine struct {
	inner    query.Engine
	requests []query.Request
}

func (e *recordingEngine) Execute(ctx context.Context, req query.Request) (query.Result, error) {
	e.requests = append(e.requests, req)
	return e.inner.Execute(ctx, req)
}

func TestQueryEndpointReturnsFormattedResults(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), newTestDependencies(t, nil))

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT CLASS, AVG(MARKS) AS avg_marks FROM STUDENT GROUP BY CLASS ORDER BY CLASS;"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	result := decodeBody(t, rr)["result"].(map[string]any)
	display := result["display"].([]any)
	if len(display) != 3 {
		t.Fatalf("display = %v", display)
	}
	first := display[0].([]any)
	if first[0] != "10" || first[1] != "84.50" {
		t.Fatalf("first row = %v", first)
	}
}

func TestQueryEndpointRejectsWrites(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), newTestDependencies(t, nil))

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"DELETE FROM STUDENT"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "SQL_NOT_ALLOWED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestQueryEndpointRejectsStackedStatements(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), newTestDependencies(t, nil))

	for _, sqlText := range []string{
		"SELECT 1; DROP TABLE STUDENT",
		"WITH x AS (SELECT 1) SELECT * FROM x; DELETE FROM STUDENT;",
	} {
		payload, _ := json.Marshal(map[string]string{"sql": sqlText})
		rr := postJSON(h, "/v1/datasets/student/query", string(payload))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q status = %d, body = %s", sqlText, rr.Code, rr.Body.String())
		}
		if body := decodeBody(t, rr); body["error_code"] != "SQL_NOT_ALLOWED" {
			t.Fatalf("%q error_code = %v", sqlText, body["error_code"])
		}
	}

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT COUNT(*) AS total FROM STUDENT"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("count status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rows := decodeBody(t, rr)["result"].(map[string]any)["rows"].([]any)
	if len(rows) != 1 || rows[0].([]any)[0] != float64(20) {
		t.Fatalf("rows = %v", rows)
	}
}

func TestQueryEndpointOpensStoreReadOnly(t *testing.T) {
	deps := newTestDependencies(t, nil)
	engine := &recordingEngine{inner: deps.QueryEngine}
	deps.QueryEngine = engine
	h := NewHandler(loadTestConfig(t, nil), deps)

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT NAME FROM STUDENT"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(engine.requests) != 1 || !engine.requests[0].ReadOnly {
		t.Fatalf("requests = %+v", engine.requests)
	}
}

func TestQueryEndpointExactFitIsNotTruncated(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), newTestDependencies(t, nil))

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT * FROM STUDENT -- all of them","row_limit":20}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if rows := body["result"].(map[string]any)["rows"].([]any); len(rows) != 20 {
		t.Fatalf("rows = %d", len(rows))
	}
	if _, ok := body["truncated"]; ok {
		t.Fatalf("truncated = %v", body["truncated"])
	}
}

func TestQueryEndpointAppliesRowLimit(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"QUERYLENS_QUERY_ROW_LIMIT": "5"})
	h := NewHandler(cfg, newTestDependencies(t, nil))

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT * FROM STUDENT","row_limit":50}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if rows := body["result"].(map[string]any)["rows"].([]any); len(rows) != 5 {
		t.Fatalf("rows = %d", len(rows))
	}
	if body["truncated"] != true {
		t.Fatalf("truncated = %v", body["truncated"])
	}
}

func TestQueryEndpointReportsExecutionErrors(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), newTestDependencies(t, nil))

	rr := postJSON(h, "/v1/datasets/student/query", `{"sql":"SELECT nope FROM STUDENT"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "QUERY_EXECUTION_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestEffectiveRowLimit(t *testing.T) {
	tests := []struct{ requested, configured, want int }{
		{0, 0, 0},
		{10, 0, 10},
		{0, 5, 5},
		{50, 5, 5},
		{3, 5, 3},
	}
	for _, tc := range tests {
		if got := effectiveRowLimit(tc.requested, tc.configured); got != tc.want {
			t.Fatalf("effectiveRowLimit(%d, %d) = %d, want %d", tc.requested, tc.configured, got, tc.want)
		}
	}
}
