package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvKeepsExistingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "QUERYLENS_DOTENV_NEW=from-file\nQUERYLENS_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("QUERYLENS_DOTENV_SET", "from-env")
	t.Setenv("QUERYLENS_DOTENV_NEW", "")
	if err := os.Unsetenv("QUERYLENS_DOTENV_NEW"); err != nil {
		t.Fatalf("Unsetenv() error = %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("QUERYLENS_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("QUERYLENS_DOTENV_NEW = %q", got)
	}
	if got := os.Getenv("QUERYLENS_DOTENV_SET"); got != "from-env" {
		t.Fatalf("QUERYLENS_DOTENV_SET = %q", got)
	}
}

func TestLoadDotEnvSkipsMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}
