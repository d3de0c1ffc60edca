package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"streambridge/models"
	"streambridge/services/extraction"
	"streambridge/services/metadata"
	"streambridge/services/stealth"
	"streambridge/services/subtitles"
)

// stubMode is a canned extraction engine for handler tests.
type stubMode struct {
	calls  atomic.Int64
	result *models.ExtractionResult
	err    error
}

func (m *stubMode) Name() string { return "stub" }

func (m *stubMode) Run(ctx context.Context, session *extraction.Session, fp *stealth.Fingerprint) (*models.ExtractionResult, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := *m.result
	return &out, nil
}

func newExtractHandler(mode extraction.Mode) *ExtractHandler {
	cfg := extraction.DefaultControllerConfig()
	cfg.RetryDelays = []time.Duration{time.Millisecond}
	cfg.RateLimitDelay = time.Millisecond
	controller := extraction.NewController(cfg, extraction.DefaultEngineConfig(),
		extraction.NewEngine(mode), stealth.NewPool(stealth.DefaultPoolSize))
	meta := metadata.NewService("", "en-US", nil) // unconfigured: subtitle prefetch is skipped
	subs := subtitles.NewService("", nil)
	return NewExtractHandler(controller, meta, subs, nil)
}

func shadowlandsResult() *models.ExtractionResult {
	return &models.ExtractionResult{
		StreamURL:     "https://edge.shadowlandschronicles.com/pl/master.m3u8",
		StreamType:    models.StreamTypeHLS,
		RequiresProxy: true,
		Source:        models.ProxySourceShadowlands,
	}
}

func doExtract(t *testing.T, h *ExtractHandler, target string) (*httptest.ResponseRecorder, extractResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.Extract(rec, req)

	var body extractResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid response JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, body
}

func TestExtractMovieHappyPath(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)

	rec, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=550")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !body.Success {
		t.Fatalf("success = false, error = %v", body.Error)
	}
	if body.StreamType != models.StreamTypeHLS {
		t.Errorf("streamType = %s", body.StreamType)
	}
	if !body.RequiresProxy {
		t.Error("requiresProxy = false")
	}
	if !strings.HasPrefix(body.StreamURL, "/api/stream-proxy?url=") {
		t.Errorf("streamUrl = %q, want proxy URL", body.StreamURL)
	}
	if body.Error != nil {
		t.Errorf("error = %q, want null", *body.Error)
	}
}

func TestExtractEpisodeHappyPath(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)

	rec, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=1399&season=1&episode=1")
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, body.Success)
	}
	if !strings.HasPrefix(body.StreamURL, "/api/stream-proxy?url=") {
		t.Errorf("streamUrl = %q", body.StreamURL)
	}
	if mode.calls.Load() != 1 {
		t.Errorf("engine calls = %d", mode.calls.Load())
	}
}

func TestExtractIncompleteEpisodeParams(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)

	rec, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=1399&season=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 envelope", rec.Code)
	}
	if body.Success {
		t.Fatal("success = true for incomplete episode params")
	}
	if body.Error == nil || !strings.Contains(*body.Error, "season and episode") {
		t.Fatalf("error = %v", body.Error)
	}
	if mode.calls.Load() != 0 {
		t.Fatalf("engine invoked %d times for invalid ref", mode.calls.Load())
	}
}

func TestExtractMalformedSyntax(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)

	for _, target := range []string{
		"/api/extract-shadowlands",
		"/api/extract-shadowlands?tmdbId=abc",
		"/api/extract-shadowlands?tmdbId=550&season=x&episode=1",
	} {
		rec, _ := doExtract(t, h, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
	if mode.calls.Load() != 0 {
		t.Fatalf("engine invoked for malformed queries")
	}
}

func TestExtractSemanticallyInvalidRef(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)

	rec, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=1399&season=0&episode=1")
	if rec.Code != http.StatusOK || body.Success {
		t.Fatalf("status = %d success = %v, want 200 success=false", rec.Code, body.Success)
	}
	if mode.calls.Load() != 0 {
		t.Fatal("engine invoked for invalid season")
	}
}

func TestExtractClassifiedFailure(t *testing.T) {
	mode := &stubMode{err: extraction.Errorf(extraction.KindUpstreamNotFound, "nothing there")}
	h := newExtractHandler(mode)

	rec, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=550")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error field", rec.Code)
	}
	if body.Success {
		t.Fatal("success = true on engine failure")
	}
	if body.Error == nil || *body.Error == "" {
		t.Fatal("error field empty")
	}
	// The raw cause stays in logs; clients get the classified message only.
	if strings.Contains(*body.Error, "nothing there") {
		t.Fatalf("internal error detail leaked: %q", *body.Error)
	}
}

func TestExtractBaseURLPrefixesProxyURL(t *testing.T) {
	mode := &stubMode{result: shadowlandsResult()}
	h := newExtractHandler(mode)
	h.SetBaseURL("https://bridge.example/")

	_, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=550")
	if !body.Success {
		t.Fatalf("success = false: %v", body.Error)
	}
	if !strings.HasPrefix(body.StreamURL, "https://bridge.example/api/stream-proxy?url=") {
		t.Errorf("streamUrl = %q, want absolute proxy URL", body.StreamURL)
	}
}

func TestExtractDirectStreamSkipsProxy(t *testing.T) {
	mode := &stubMode{result: &models.ExtractionResult{
		StreamURL:  "https://cdn.example/video.mp4",
		StreamType: models.StreamTypeDirect,
	}}
	h := newExtractHandler(mode)

	_, body := doExtract(t, h, "/api/extract-shadowlands?tmdbId=603")
	if !body.Success {
		t.Fatalf("success = false: %v", body.Error)
	}
	if body.RequiresProxy {
		t.Error("requiresProxy = true for direct stream")
	}
	if body.StreamURL != "https://cdn.example/video.mp4" {
		t.Errorf("streamUrl = %q, want raw upstream URL", body.StreamURL)
	}
}
