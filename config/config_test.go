package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetToolset(t *testing.T) {
	cfg := &Config{
		Toolsets: []Toolset{
			{Name: "default", Tools: []string{"create_note", "list_notes"}},
			{Name: "research", Tools: []string{"read_note", "lookup_ticket"}},
		},
	}

	t.Run("empty name selects default", func(t *testing.T) {
		ts, err := cfg.GetToolset("")
		if err != nil {
			t.Fatalf("GetToolset: %v", err)
		}
		if ts.Name != "default" {
			t.Errorf("got %q", ts.Name)
		}
	})

	t.Run("named toolset", func(t *testing.T) {
		ts, err := cfg.GetToolset("research")
		if err != nil {
			t.Fatalf("GetToolset: %v", err)
		}
		if len(ts.Tools) != 2 || ts.Tools[0] != "read_note" {
			t.Errorf("tools = %v", ts.Tools)
		}
	})

	t.Run("unknown name falls back to default", func(t *testing.T) {
		ts, err := cfg.GetToolset("nonexistent")
		if err != nil {
			t.Fatalf("GetToolset: %v", err)
		}
		if ts.Name != "default" {
			t.Errorf("got %q", ts.Name)
		}
	})

	t.Run("missing default errors", func(t *testing.T) {
		bare := &Config{Toolsets: []Toolset{{Name: "other"}}}
		if _, err := bare.GetToolset(""); err == nil {
			t.Error("expected an error without a default toolset")
		}
	})
}

func TestLoadFromFileMerge(t *testing.T) {
	dir := t.TempDir()

	userPath := filepath.Join(dir, "user.yaml")
	projectPath := filepath.Join(dir, "project.yaml")
	userDoc := `llm: anthropic
model: claude-sonnet-4-20250514
max_iterations: 8
tracker:
  base_url: "https://tracker.corp.example"
`
	projectDoc := `model: claude-opus-4-20250514
notes:
  dir: "./team-notes"
`
	if err := os.WriteFile(userPath, []byte(userDoc), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(projectPath, []byte(projectDoc), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := &Config{}
	if err := loadFromFile(userPath, cfg); err != nil {
		t.Fatalf("load user config: %v", err)
	}
	if err := loadFromFile(projectPath, cfg); err != nil {
		t.Fatalf("load project config: %v", err)
	}

	// Project-level values win; user-level values absent there survive.
	if cfg.Model != "claude-opus-4-20250514" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Notes.Dir != "./team-notes" {
		t.Errorf("Notes.Dir = %q", cfg.Notes.Dir)
	}
	if cfg.LLMClient != "anthropic" {
		t.Errorf("LLMClient = %q", cfg.LLMClient)
	}
	if cfg.MaxIterations != 8 {
		t.Errorf("MaxIterations = %d", cfg.MaxIterations)
	}
	if cfg.Tracker.BaseURL != "https://tracker.corp.example" {
		t.Errorf("Tracker.BaseURL = %q", cfg.Tracker.BaseURL)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{SessionTTLMinutes: 30, SweepIntervalMinutes: 5}
	if got := cfg.SessionTTL(); got != 30*time.Minute {
		t.Errorf("SessionTTL = %v", got)
	}
	if got := cfg.SweepInterval(); got != 5*time.Minute {
		t.Errorf("SweepInterval = %v", got)
	}
}
