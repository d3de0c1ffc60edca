// Package config owns the on-disk settings file and its environment
// overrides. Settings load once at startup; missing fields are backfilled
// with defaults and the file is rewritten so upgrades stay additive.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Port int `json:"port"`
}

// ExtractionSettings configures the extraction engine and controller.
type ExtractionSettings struct {
	// Servers is the embed server order; first entry is the default.
	Servers []string `json:"servers"`
	// PlayButtonSelectors extends the selector fallback list without a
	// code change.
	PlayButtonSelectors []string `json:"playButtonSelectors"`
	// BrowserPoolSize bounds the pooled headless browsers (4-8).
	BrowserPoolSize int `json:"browserPoolSize"`
	// FingerprintPoolSize is the number of stealth fingerprints (min 8).
	FingerprintPoolSize int `json:"fingerprintPoolSize"`
	// BrowserModeEnabled turns the headless browser mode on. When off,
	// extraction runs HTTP-only.
	BrowserModeEnabled bool `json:"browserModeEnabled"`
	// BaseURL prefixes the proxied stream URLs handed to players, for
	// deployments behind a reverse proxy. Empty means relative URLs.
	BaseURL string `json:"baseUrl,omitempty"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"maxRetries"`
	// AttemptTimeoutSec bounds one extraction attempt end to end.
	AttemptTimeoutSec int `json:"attemptTimeoutSec"`
	// StageTimeoutSec bounds each iframe stage except the final one.
	StageTimeoutSec int `json:"stageTimeoutSec"`
	// FinalStageTimeoutSec bounds the terminal manifest extraction.
	FinalStageTimeoutSec int `json:"finalStageTimeoutSec"`
}

// CacheSettings sizes the in-memory result caches.
type CacheSettings struct {
	ExtractionCapacity   int `json:"extractionCapacity"`
	ExtractionTTLMinutes int `json:"extractionTtlMinutes"`
	SubtitleCapacity     int `json:"subtitleCapacity"`
	SubtitleTTLMinutes   int `json:"subtitleTtlMinutes"`
}

// MetadataSettings configures the TMDB client.
type MetadataSettings struct {
	// APIKey is secret: read at startup, never logged.
	APIKey   string `json:"apiKey,omitempty"`
	Language string `json:"language"`
}

// SubtitleSettings configures the subtitle resolver.
type SubtitleSettings struct {
	// APIKey is secret: read at startup, never logged.
	APIKey string `json:"apiKey,omitempty"`
	// Languages is the prefetch order, ISO 639-2 codes.
	Languages []string `json:"languages"`
}

// LogSettings configures file logging with rotation. An empty File logs to
// stdout only.
type LogSettings struct {
	File       string `json:"file,omitempty"`
	MaxSize    int    `json:"maxSize"` // megabytes
	MaxBackups int    `json:"maxBackups"`
	MaxAge     int    `json:"maxAge"` // days
	Compress   bool   `json:"compress"`
}

// Settings is the full configuration document.
type Settings struct {
	Server     ServerSettings     `json:"server"`
	Extraction ExtractionSettings `json:"extraction"`
	Cache      CacheSettings      `json:"cache"`
	Metadata   MetadataSettings   `json:"metadata"`
	Subtitles  SubtitleSettings   `json:"subtitles"`
	Log        LogSettings        `json:"log"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{
		Server: ServerSettings{Port: 8080},
		Extraction: ExtractionSettings{
			Servers:              []string{"vidsrc.xyz", "embed.su"},
			BrowserPoolSize:      4,
			FingerprintPoolSize:  8,
			BrowserModeEnabled:   true,
			MaxRetries:           3,
			AttemptTimeoutSec:    45,
			StageTimeoutSec:      5,
			FinalStageTimeoutSec: 10,
		},
		Cache: CacheSettings{
			ExtractionCapacity:   500,
			ExtractionTTLMinutes: 5,
			SubtitleCapacity:     200,
			SubtitleTTLMinutes:   60,
		},
		Metadata:  MetadataSettings{Language: "en-US"},
		Subtitles: SubtitleSettings{Languages: []string{"eng", "spa", "ger"}},
		Log:       LogSettings{MaxSize: 10, MaxBackups: 3, MaxAge: 14},
	}
}

// Manager loads, backfills, and persists settings.
type Manager struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// NewManager creates a manager for the given settings path. An empty path
// falls back to STREAMBRIDGE_CONFIG, then ./config.json.
func NewManager(path string) *Manager {
	if path == "" {
		path = os.Getenv("STREAMBRIDGE_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}
	return &Manager{path: path, settings: Defaults()}
}

// Load reads the settings file, backfills missing fields from defaults, and
// applies environment overrides. A missing file is not an error; the
// defaults are written out instead.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings := Defaults()
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse settings %s: %w", m.path, err)
		}
		backfill(&settings)
	case os.IsNotExist(err):
		// First run: persist the defaults for discoverability.
		if err := writeAtomic(m.path, settings); err != nil {
			return fmt.Errorf("write default settings: %w", err)
		}
	default:
		return fmt.Errorf("read settings %s: %w", m.path, err)
	}

	applyEnvOverrides(&settings)
	m.settings = settings
	return nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Save persists the current settings atomically (write temp, then rename).
func (m *Manager) Save() error {
	m.mu.RLock()
	settings := m.settings
	m.mu.RUnlock()
	return writeAtomic(m.path, settings)
}

// backfill fills zero-valued fields so old settings files keep working.
func backfill(s *Settings) {
	d := Defaults()
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if len(s.Extraction.Servers) == 0 {
		s.Extraction.Servers = d.Extraction.Servers
	}
	if s.Extraction.BrowserPoolSize == 0 {
		s.Extraction.BrowserPoolSize = d.Extraction.BrowserPoolSize
	}
	if s.Extraction.FingerprintPoolSize == 0 {
		s.Extraction.FingerprintPoolSize = d.Extraction.FingerprintPoolSize
	}
	if s.Extraction.MaxRetries == 0 {
		s.Extraction.MaxRetries = d.Extraction.MaxRetries
	}
	if s.Extraction.AttemptTimeoutSec == 0 {
		s.Extraction.AttemptTimeoutSec = d.Extraction.AttemptTimeoutSec
	}
	if s.Extraction.StageTimeoutSec == 0 {
		s.Extraction.StageTimeoutSec = d.Extraction.StageTimeoutSec
	}
	if s.Extraction.FinalStageTimeoutSec == 0 {
		s.Extraction.FinalStageTimeoutSec = d.Extraction.FinalStageTimeoutSec
	}
	if s.Cache.ExtractionCapacity == 0 {
		s.Cache.ExtractionCapacity = d.Cache.ExtractionCapacity
	}
	if s.Cache.ExtractionTTLMinutes == 0 {
		s.Cache.ExtractionTTLMinutes = d.Cache.ExtractionTTLMinutes
	}
	if s.Cache.SubtitleCapacity == 0 {
		s.Cache.SubtitleCapacity = d.Cache.SubtitleCapacity
	}
	if s.Cache.SubtitleTTLMinutes == 0 {
		s.Cache.SubtitleTTLMinutes = d.Cache.SubtitleTTLMinutes
	}
	if s.Metadata.Language == "" {
		s.Metadata.Language = d.Metadata.Language
	}
	if len(s.Subtitles.Languages) == 0 {
		s.Subtitles.Languages = d.Subtitles.Languages
	}
}

// applyEnvOverrides lets the environment win over the file for deployment
// secrets and ports. Keys are never logged.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("TMDB_API_KEY"); v != "" {
		s.Metadata.APIKey = v
	}
	if v := os.Getenv("OPENSUBTITLES_API_KEY"); v != "" {
		s.Subtitles.APIKey = v
	}
	if v := os.Getenv("EXTRACTOR_BASE_URL"); v != "" {
		s.Extraction.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.Server.Port = port
		}
	}
}

func writeAtomic(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
