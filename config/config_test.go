package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.Name != "mnemos" {
		t.Errorf("app name: %s", cfg.App.Name)
	}
	if cfg.Embedding.DimSemantic != 1536 || cfg.Embedding.DimEpisodic != 384 {
		t.Errorf("embedding dims: %d %d", cfg.Embedding.DimSemantic, cfg.Embedding.DimEpisodic)
	}
	if cfg.Retrieval.KFetchMin != 50 {
		t.Errorf("k_fetch_min: %d", cfg.Retrieval.KFetchMin)
	}
	if cfg.Cache.SemanticMatchThreshold != 0.85 {
		t.Errorf("semantic threshold: %f", cfg.Cache.SemanticMatchThreshold)
	}
	if cfg.Optimizer.Profile != "balanced" {
		t.Errorf("profile: %s", cfg.Optimizer.Profile)
	}
}

func TestLoad_FileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("cache:\n  max_query_per_user: 25\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.MaxQueryPerUser != 25 {
		t.Errorf("file override lost: %d", cfg.Cache.MaxQueryPerUser)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level: %s", cfg.Log.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Cache.QueryTTLSeconds != 1800 {
		t.Errorf("default lost: %d", cfg.Cache.QueryTTLSeconds)
	}
}

func TestValidate_Ranges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.SemanticMatchThreshold = 0.5
	if err := cfg.Validate(); err == nil {
		t.Error("out-of-range threshold accepted")
	}

	cfg = DefaultConfig()
	cfg.Retrieval.VectorWeight = 0.8
	cfg.Retrieval.LexWeight = 0.5
	if err := cfg.Validate(); err == nil {
		t.Error("weights summing above 1 accepted")
	}

	cfg = DefaultConfig()
	cfg.Episodic.CompressAfterDays = 10
	if err := cfg.Validate(); err == nil {
		t.Error("compress_after below retention accepted")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MNEMOS_LOG_LEVEL", "warn")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env override lost: %s", cfg.Log.Level)
	}
}
