package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  workspace_chat: -1001234567890
items:
  base_url: "https://items.example/api/1.0"
  token: "tok"
  workspace: "ws-1"
server:
  addr: ":8080"
logging:
  level: "DEBUG"
  console: true
storage:
  path: "./herald.db"
notifications:
  category: "task-events"
reminders:
  enabled: true
  deadline_at: "09:00"
engine:
  workers: 3
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.WorkspaceChat != -1001234567890 {
		t.Fatalf("workspace_chat = %d", cfg.Telegram.WorkspaceChat)
	}
	if cfg.Items.Workspace != "ws-1" {
		t.Fatalf("items.workspace = %q", cfg.Items.Workspace)
	}
	if !cfg.Reminders.Enabled || cfg.Reminders.DeadlineAt != "09:00" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"t","workspce_chat":1}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"server":{"addr":":8080"}}{"extra":true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("items.timeout", "1m30s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("items.timeout", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 10*time.Second); err != nil || d != 10*time.Second {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
