package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streambridge/services/metadata"
)

func newTMDBHandler(t *testing.T, upstream http.Handler) *TMDBHandler {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	svc := metadata.NewService("test-key", "en-US", srv.Client())
	svc.SetBaseURL(srv.URL)
	return NewTMDBHandler(svc)
}

func TestTMDBLookupActions(t *testing.T) {
	h := newTMDBHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/550":
			w.Write([]byte(`{"id":550,"title":"Fight Club"}`))
		case "/tv/1399":
			w.Write([]byte(`{"id":1399,"name":"Game of Thrones"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	tests := []struct {
		target   string
		wantBody string
	}{
		{"/api/tmdb?action=getMovieDetails&movieId=550", `"Fight Club"`},
		{"/api/tmdb?action=getShowDetails&movieId=1399", `"Game of Thrones"`},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		rec := httptest.NewRecorder()
		h.Lookup(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", tt.target, rec.Code)
		}
		if got := rec.Body.String(); !strings.Contains(got, tt.wantBody) {
			t.Errorf("%s: body = %s", tt.target, got)
		}
	}
}

func TestTMDBLookupValidation(t *testing.T) {
	h := newTMDBHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be queried on validation failure")
	}))

	for _, target := range []string{
		"/api/tmdb",
		"/api/tmdb?action=getMovieDetails",
		"/api/tmdb?action=getMovieDetails&movieId=abc",
		"/api/tmdb?action=dropTables&movieId=550",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.Lookup(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestTMDBLookupUnconfigured(t *testing.T) {
	h := NewTMDBHandler(metadata.NewService("", "en-US", nil))
	req := httptest.NewRequest(http.MethodGet, "/api/tmdb?action=getMovieDetails&movieId=550", nil)
	rec := httptest.NewRecorder()
	h.Lookup(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
