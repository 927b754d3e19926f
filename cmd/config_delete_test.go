package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"timer2ticket/config"
)

func TestDeleteConfigPurgesSQLiteData(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "t2t.db")
	configPath := filepath.Join(dir, "config.yaml")
	content, err := config.TemplateYAML(config.TemplateOptions{Driver: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatalf("render template: %v", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for _, path := range []string{dbPath, dbPath + "-wal"} {
		if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	var out bytes.Buffer
	if err := deleteConfig(&out, configPath, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, path := range []string{configPath, dbPath, dbPath + "-wal"} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be deleted", path)
		}
	}
	if strings.Count(out.String(), "Storage file deleted") != 2 {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestDeleteConfigKeepsRemoteStorage(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content, err := config.TemplateYAML(config.TemplateOptions{Driver: "mysql", DSN: "t2t:secret@tcp(db:3306)/timer2ticket"})
	if err != nil {
		t.Fatalf("render template: %v", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	if err := deleteConfig(&out, configPath, true); err == nil || !strings.Contains(err.Error(), "sqlite storage only") {
		t.Fatalf("expected purge refusal, got %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("refused purge must keep the config: %v", err)
	}

	if err := deleteConfig(&out, configPath, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Fatalf("expected config to be deleted")
	}
}

func TestSQLiteFiles(t *testing.T) {
	tests := map[string][]string{
		"timer2ticket.db":                 {"timer2ticket.db", "timer2ticket.db-wal", "timer2ticket.db-shm"},
		"file:/var/t2t.db?_pragma=foo(1)": {"/var/t2t.db", "/var/t2t.db-wal", "/var/t2t.db-shm"},
		":memory:":                        nil,
		"":                                nil,
	}
	for dsn, want := range tests {
		if got := sqliteFiles(dsn); !reflect.DeepEqual(got, want) {
			t.Fatalf("sqliteFiles(%q) = %v, want %v", dsn, got, want)
		}
	}
}
