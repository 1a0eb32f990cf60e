package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOCVIEW_CONFIG", "")
	t.Setenv("NOMINAL_PAGE_WIDTH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NominalPageWidth != 1100 {
		t.Errorf("expected nominal width 1100, got %v", cfg.NominalPageWidth)
	}
	if cfg.PageLookahead != 2 {
		t.Errorf("expected lookahead 2, got %d", cfg.PageLookahead)
	}
	if cfg.RenderDebounce != 150*time.Millisecond {
		t.Errorf("expected debounce 150ms, got %v", cfg.RenderDebounce)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCVIEW_CONFIG", "")
	t.Setenv("NOMINAL_PAGE_WIDTH", "800")
	t.Setenv("PAGE_BEHIND", "-1")
	t.Setenv("RENDER_DEBOUNCE", "1s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NominalPageWidth != 800 {
		t.Errorf("expected nominal width 800, got %v", cfg.NominalPageWidth)
	}
	if cfg.PageBehind != -1 {
		t.Errorf("expected progressive mode (-1), got %d", cfg.PageBehind)
	}
	if cfg.RenderDebounce != time.Second {
		t.Errorf("expected debounce 1s, got %v", cfg.RenderDebounce)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docview.toml")
	body := `api_url = "http://files.example/api"
page_lookahead = 4
render_debounce = "300ms"
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCVIEW_CONFIG", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "http://files.example/api" {
		t.Errorf("expected api url from file, got %q", cfg.APIURL)
	}
	if cfg.PageLookahead != 4 {
		t.Errorf("expected lookahead 4, got %d", cfg.PageLookahead)
	}
	if cfg.RenderDebounce != 300*time.Millisecond {
		t.Errorf("expected debounce 300ms, got %v", cfg.RenderDebounce)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected env to override file log level, got %q", cfg.LogLevel)
	}
}

func TestLoad_BadDurationInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte(`render_debounce = "soon"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCVIEW_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateServe_RequiresAPIKey(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if err := cfg.ValidateServe(); err == nil {
		t.Error("expected missing DOCVIEW_API_KEY to fail")
	}
	cfg.DocviewAPIKey = "k"
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
