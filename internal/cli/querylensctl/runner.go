package querylensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// call is one HTTP request a command resolves to. render, when set, prints
// the decoded response instead of the default indented JSON.
type call struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	render      func(w io.Writer, raw []byte) error
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querylensctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querylens API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")
	raw := fs.Bool("json", false, "print raw JSON responses instead of tables")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	c, err := buildCall(command, rest)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}
	if *raw {
		c.render = nil
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if c.render != nil {
		if err := c.render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(command string, args []string) (call, error) {
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "datasets":
		return call{method: http.MethodGet, path: "/v1/datasets", render: renderDatasets}, nil
	case "describe":
		if len(args) != 1 {
			return call{}, fmt.Errorf("describe requires <dataset>")
		}
		return call{method: http.MethodGet, path: datasetPath(args[0]), render: renderSchema}, nil
	case "tables":
		if len(args) != 1 {
			return call{}, fmt.Errorf("tables requires <dataset>")
		}
		return call{method: http.MethodGet, path: datasetPath(args[0], "tables"), render: renderList("tables")}, nil
	case "columns":
		if len(args) != 2 {
			return call{}, fmt.Errorf("columns requires <dataset> <table>")
		}
		return call{method: http.MethodGet, path: datasetPath(args[0], "tables", args[1], "columns"), render: renderList("columns")}, nil
	case "loads":
		if len(args) != 1 {
			return call{}, fmt.Errorf("loads requires <dataset>")
		}
		return call{method: http.MethodGet, path: datasetPath(args[0], "loads")}, nil
	case "ask":
		if len(args) < 3 {
			return call{}, fmt.Errorf("ask requires <dataset> <table> <question...>")
		}
		body, err := json.Marshal(map[string]string{"table": args[1], "question": strings.Join(args[2:], " ")})
		if err != nil {
			return call{}, err
		}
		return call{
			method:      http.MethodPost,
			path:        datasetPath(args[0], "ask"),
			body:        bytes.NewReader(body),
			contentType: "application/json",
			render:      renderAnswer,
		}, nil
	case "query":
		if len(args) < 2 {
			return call{}, fmt.Errorf("query requires <dataset> <sql...>")
		}
		body, err := json.Marshal(map[string]string{"sql": strings.Join(args[1:], " ")})
		if err != nil {
			return call{}, err
		}
		return call{
			method:      http.MethodPost,
			path:        datasetPath(args[0], "query"),
			body:        bytes.NewReader(body),
			contentType: "application/json",
			render:      renderAnswer,
		}, nil
	case "upload":
		if len(args) < 1 || len(args) > 2 {
			return call{}, fmt.Errorf("upload requires <file> [name]")
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		body, contentType, err := multipartUpload(args[0], name)
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodPost, path: "/v1/datasets", body: body, contentType: contentType}, nil
	case "delete":
		if len(args) != 1 {
			return call{}, fmt.Errorf("delete requires <dataset>")
		}
		return call{method: http.MethodDelete, path: datasetPath(args[0])}, nil
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

func datasetPath(dataset string, parts ...string) string {
	segments := []string{"/v1/datasets", url.PathEscape(dataset)}
	for _, part := range parts {
		segments = append(segments, url.PathEscape(part))
	}
	return strings.Join(segments, "/")
}

func multipartUpload(path, name string) (io.Reader, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if strings.TrimSpace(name) != "" {
		if err := writer.WriteField("name", strings.TrimSpace(name)); err != nil {
			return nil, "", err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &body, writer.FormDataContentType(), nil
}

func doRequest(ctx context.Context, client *http.Client, c call, endpoint, apiKey string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, c.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

type answerPayload struct {
	SQL    string `json:"sql"`
	Result struct {
		Columns []string   `json:"columns"`
		Display [][]string `json:"display"`
		NoData  bool       `json:"no_data"`
	} `json:"result"`
	Warnings []string `json:"warnings"`
}

func renderAnswer(w io.Writer, raw []byte) error {
	var answer answerPayload
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "SQL: %s\n\n", answer.SQL)
	for _, warning := range answer.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if answer.Result.NoData {
		_, _ = fmt.Fprintln(w, "No data found for the query.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(answer.Result.Columns, "\t"))
	for _, row := range answer.Result.Display {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func renderDatasets(w io.Writer, raw []byte) error {
	var payload struct {
		Datasets []struct {
			Name       string `json:"name"`
			Kind       string `json:"kind"`
			LoadCount  int    `json:"load_count"`
			LastLoadAt string `json:"last_load_at"`
		} `json:"datasets"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	for _, warning := range payload.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tLOADS\tLAST LOAD")
	for _, ds := range payload.Datasets {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ds.Name, ds.Kind, ds.LoadCount, firstNonEmpty(ds.LastLoadAt, "-"))
	}
	return tw.Flush()
}

func renderSchema(w io.Writer, raw []byte) error {
	var payload struct {
		Name   string `json:"name"`
		Kind   string `json:"kind"`
		Schema []struct {
			Name    string   `json:"name"`
			Columns []string `json:"columns"`
		} `json:"schema"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	for _, warning := range payload.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	_, _ = fmt.Fprintf(w, "%s (%s)\n", payload.Name, payload.Kind)
	for _, table := range payload.Schema {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", table.Name, strings.Join(table.Columns, ", "))
	}
	return nil
}

func renderList(field string) func(io.Writer, []byte) error {
	return func(w io.Writer, raw []byte) error {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		var values []string
		if err := json.Unmarshal(payload[field], &values); err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		for _, value := range values {
			_, _ = fmt.Fprintln(w, value)
		}
		return nil
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querylensctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                            GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                             GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                          list datasets")
	_, _ = fmt.Fprintln(w, "  describe <dataset>                show every table with its columns")
	_, _ = fmt.Fprintln(w, "  tables <dataset>                  list tables in a dataset")
	_, _ = fmt.Fprintln(w, "  columns <dataset> <table>         list columns of a table")
	_, _ = fmt.Fprintln(w, "  loads <dataset>                   show load history")
	_, _ = fmt.Fprintln(w, "  ask <dataset> <table> <question>  translate and run a question")
	_, _ = fmt.Fprintln(w, "  query <dataset> <sql>             run a read-only statement")
	_, _ = fmt.Fprintln(w, "  upload <file> [name]              load a csv, tsv, xlsx or parquet file")
	_, _ = fmt.Fprintln(w, "  delete <dataset>                  delete a dataset")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
