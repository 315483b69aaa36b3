package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyloom/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Worker.TickInterval != config.Default().Worker.TickInterval {
		t.Fatalf("expected default tick interval, got %d", cfg.Worker.TickInterval)
	}
}

func TestDefaultBaseURLIsAPIRoot(t *testing.T) {
	base := config.Default().LLM.BaseURL
	if base != "https://api.openai.com/v1" {
		t.Fatalf("unexpected default base URL %q", base)
	}
	// The generation client appends "/chat/completions" and
	// "/images/generations" itself; a default that already carries an
	// endpoint path would double it on every request.
	for _, suffix := range []string{"/chat/completions", "/images/generations", "/"} {
		if strings.HasSuffix(base, suffix) {
			t.Fatalf("default base URL %q must not end with %q", base, suffix)
		}
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[worker]
tick_interval = 7
max_active_stories = 12
min_active_stories = 4

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Worker.TickInterval != 7 {
		t.Fatalf("expected tick interval 7, got %d", cfg.Worker.TickInterval)
	}
	if cfg.Worker.MaxActiveStories != 12 || cfg.Worker.MinActiveStories != 4 {
		t.Fatalf("unexpected population bounds: %+v", cfg.Worker)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvertedPopulationBounds(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.MinActiveStories = 10
	cfg.Worker.MaxActiveStories = 5
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "min_active_stories") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadQualityScore(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.QualityScoreMin = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if _, err := config.WriteSample(path); err == nil {
		t.Fatal("expected error on second WriteSample")
	}
}
