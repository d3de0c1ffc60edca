package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"streambridge/models"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := NewService("test-key", "en-US", srv.Client())
	svc.SetBaseURL(srv.URL)
	svc.client.minInterval = 0
	return svc, srv
}

func TestMovieDetailsPassthrough(t *testing.T) {
	payload := `{"id":550,"title":"Fight Club","imdb_id":"tt0137523","runtime":139}`
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/550" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Error("api key missing from request")
		}
		w.Write([]byte(payload))
	}))

	body, err := svc.MovieDetails(context.Background(), 550)
	if err != nil {
		t.Fatalf("MovieDetails: %v", err)
	}
	// Byte-for-byte passthrough: the frontend owns the shape.
	if string(body) != payload {
		t.Fatalf("payload modified: %s", body)
	}
}

func TestShowDetailsPassthrough(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1399" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":1399,"name":"Game of Thrones"}`))
	}))

	body, err := svc.ShowDetails(context.Background(), 1399)
	if err != nil {
		t.Fatalf("ShowDetails: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("invalid JSON returned: %v", err)
	}
	if decoded["name"] != "Game of Thrones" {
		t.Fatalf("decoded = %v", decoded)
	}
}

func TestIMDBIDResolvesAndCaches(t *testing.T) {
	var hits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/tv/1399/external_ids" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":1399,"imdb_id":"tt0944947","tvdb_id":121361}`))
	}))

	ref := models.NewEpisodeRef(1399, 1, 1)
	for i := 0; i < 3; i++ {
		id, err := svc.IMDBID(context.Background(), ref)
		if err != nil {
			t.Fatalf("IMDBID: %v", err)
		}
		if id != "tt0944947" {
			t.Fatalf("imdb id = %q", id)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1 (cached)", hits.Load())
	}
}

func TestIMDBIDMissingMapping(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42,"imdb_id":null}`))
	}))

	id, err := svc.IMDBID(context.Background(), models.NewMovieRef(42))
	if err != nil {
		t.Fatalf("IMDBID: %v", err)
	}
	if id != "" {
		t.Fatalf("imdb id = %q, want empty", id)
	}
}

func TestRetriesOn429ThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":550,"title":"Fight Club"}`))
	}))

	body, err := svc.MovieDetails(context.Background(), 550)
	if err != nil {
		t.Fatalf("MovieDetails after retries: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", hits.Load())
	}
	if len(body) == 0 {
		t.Fatal("empty body after successful retry")
	}
}

func TestNotConfigured(t *testing.T) {
	svc := NewService("", "en-US", nil)
	if _, err := svc.MovieDetails(context.Background(), 550); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := svc.IMDBID(context.Background(), models.NewMovieRef(550)); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
