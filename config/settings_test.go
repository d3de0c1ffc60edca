package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := m.Get()
	if s.Server.Port != 8080 {
		t.Errorf("port = %d", s.Server.Port)
	}
	if len(s.Extraction.Servers) == 0 || s.Extraction.Servers[0] != "vidsrc.xyz" {
		t.Errorf("servers = %v", s.Extraction.Servers)
	}

	// The defaults must have been persisted.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	var onDisk Settings
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("written defaults not valid JSON: %v", err)
	}
}

func TestLoadBackfillsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := `{"server":{"port":9999},"metadata":{"apiKey":"file-key"}}`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := m.Get()
	if s.Server.Port != 9999 {
		t.Errorf("explicit port lost: %d", s.Server.Port)
	}
	if s.Metadata.APIKey != "file-key" {
		t.Errorf("api key lost")
	}
	if len(s.Subtitles.Languages) == 0 {
		t.Error("subtitle languages not backfilled")
	}
	if s.Extraction.FingerprintPoolSize != 8 {
		t.Errorf("fingerprint pool not backfilled: %d", s.Extraction.FingerprintPoolSize)
	}
	if s.Extraction.AttemptTimeoutSec != 45 {
		t.Errorf("attempt timeout not backfilled: %d", s.Extraction.AttemptTimeoutSec)
	}
	if s.Extraction.MaxRetries != 3 {
		t.Errorf("max retries not backfilled: %d", s.Extraction.MaxRetries)
	}
	if s.Cache.ExtractionCapacity != 500 || s.Cache.ExtractionTTLMinutes != 5 {
		t.Errorf("extraction cache not backfilled: %+v", s.Cache)
	}
	if s.Cache.SubtitleCapacity != 200 || s.Cache.SubtitleTTLMinutes != 60 {
		t.Errorf("subtitle cache not backfilled: %+v", s.Cache)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	file := `{"server":{"port":9000},"metadata":{"apiKey":"file-key"}}`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TMDB_API_KEY", "env-key")
	t.Setenv("PORT", "7070")
	t.Setenv("EXTRACTOR_BASE_URL", "https://bridge.example")

	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := m.Get()
	if s.Metadata.APIKey != "env-key" {
		t.Errorf("env api key did not win: %q", s.Metadata.APIKey)
	}
	if s.Server.Port != 7070 {
		t.Errorf("env port did not win: %d", s.Server.Port)
	}
	if s.Extraction.BaseURL != "https://bridge.example" {
		t.Errorf("base url override lost: %q", s.Extraction.BaseURL)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewManager(path).Load(); err == nil {
		t.Fatal("corrupt settings file must fail Load")
	}
}
