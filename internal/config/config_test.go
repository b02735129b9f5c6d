package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Datasets.Dir != "." {
		t.Fatalf("Datasets.Dir = %q", cfg.Datasets.Dir)
	}
	if cfg.Query.QuestionMinWords != 2 {
		t.Fatalf("Query.QuestionMinWords = %d", cfg.Query.QuestionMinWords)
	}
	if cfg.Query.ReadOnly {
		t.Fatal("Query.ReadOnly should default to false")
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("Catalog.DSN = %q, want registry disabled", cfg.Catalog.DSN)
	}
	if cfg.ObjectStore.Endpoint != "" {
		t.Fatalf("ObjectStore.Endpoint = %q, want archive disabled", cfg.ObjectStore.Endpoint)
	}
	if cfg.AI.Provider != ProviderGemini {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.BaseURL != "https://generativelanguage.googleapis.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{"QUERYLENS_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{
		"QUERYLENS_PROFILE":                "test",
		"QUERYLENS_SERVICE_NAME":           "querylens-custom",
		"QUERYLENS_HTTP_ADDR":              ":9999",
		"QUERYLENS_HTTP_READ_TIMEOUT":      "2s",
		"QUERYLENS_HTTP_WRITE_TIMEOUT":     "3s",
		"QUERYLENS_DATA_DIR":               "/var/lib/querylens",
		"QUERYLENS_UPLOAD_MAX_BYTES":       "1024",
		"QUERYLENS_QUERY_ROW_LIMIT":        "500",
		"QUERYLENS_QUERY_READ_ONLY":        "true",
		"QUERYLENS_QUESTION_MIN_WORDS":     "3",
		"QUERYLENS_CATALOG_DSN":            "postgres://example",
		"QUERYLENS_CATALOG_MAX_OPEN_CONNS": "42",
		"QUERYLENS_OBJECTSTORE_ENDPOINT":   "s3.example.com",
		"QUERYLENS_OBJECTSTORE_BUCKET":     "archive",
		"QUERYLENS_OBJECTSTORE_USE_SSL":    "true",
		"QUERYLENS_AI_PROVIDER":            "OpenAI",
		"QUERYLENS_AI_API_KEY":             "secret-key",
		"QUERYLENS_AI_MODEL":               "gpt-5.2",
		"QUERYLENS_AI_TEMPERATURE":         "0.3",
		"QUERYLENS_AI_TIMEOUT":             "21s",
		"QUERYLENS_LOG_LEVEL":              "error",
		"QUERYLENS_AUTH_REQUIRED":          "true",
		"QUERYLENS_AUTH_STATIC_KEYS":       "k1:t1:query_reader",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querylens-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Datasets.Dir != "/var/lib/querylens" {
		t.Fatalf("Datasets.Dir = %q", cfg.Datasets.Dir)
	}
	if cfg.Datasets.UploadMaxBytes != 1024 {
		t.Fatalf("Datasets.UploadMaxBytes = %d", cfg.Datasets.UploadMaxBytes)
	}
	if cfg.Query.RowLimit != 500 || !cfg.Query.ReadOnly || cfg.Query.QuestionMinWords != 3 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Catalog.DSN != "postgres://example" || cfg.Catalog.MaxOpenConns != 42 {
		t.Fatalf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "archive" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.BaseURL != "https://api.openai.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "gpt-5.2" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:t1:query_reader" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
}

func TestLoadFallsBackToProviderKeyEnv(t *testing.T) {
	cfg, err := Load("querylens-api", mapLookup(map[string]string{"GOOGLE_API_KEY": "g-key"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "g-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}

	cfg, err = Load("querylens-api", mapLookup(map[string]string{
		"QUERYLENS_AI_PROVIDER": "openai",
		"GOOGLE_API_KEY":        "g-key",
		"OPENAI_API_KEY":        "o-key",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "o-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYLENS_PROFILE": "oops"},
		{"QUERYLENS_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYLENS_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"QUERYLENS_QUERY_ROW_LIMIT": "-1"},
		{"QUERYLENS_QUESTION_MIN_WORDS": "many"},
		{"QUERYLENS_UPLOAD_MAX_BYTES": "big"},
		{"QUERYLENS_AI_PROVIDER": "claude"},
		{"QUERYLENS_AI_TEMPERATURE": "bad"},
		{"QUERYLENS_AUTH_REQUIRED": "not-bool"},
		{"QUERYLENS_LOG_LEVEL": "verbose"},
		{"QUERYLENS_DATA_DIR": "  "},
	}
	for _, env := range tests {
		_, err := Load("querylens-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
