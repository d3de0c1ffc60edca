package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"streambridge/services/metadata"
)

// TMDBHandler passes catalog lookups through to TMDB.
type TMDBHandler struct {
	service *metadata.Service
}

// NewTMDBHandler creates a new TMDBHandler.
func NewTMDBHandler(service *metadata.Service) *TMDBHandler {
	return &TMDBHandler{service: service}
}

// Lookup handles GET /api/tmdb?action=getMovieDetails|getShowDetails&movieId=.
// The TMDB payload is returned unmodified; the frontend owns its shape.
func (h *TMDBHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	movieID, err := strconv.ParseInt(strings.TrimSpace(q.Get("movieId")), 10, 64)
	if err != nil || movieID <= 0 {
		http.Error(w, "movieId must be a positive integer", http.StatusBadRequest)
		return
	}

	var body []byte
	switch q.Get("action") {
	case "getMovieDetails":
		body, err = h.service.MovieDetails(r.Context(), movieID)
	case "getShowDetails":
		body, err = h.service.ShowDetails(r.Context(), movieID)
	default:
		http.Error(w, "action must be getMovieDetails or getShowDetails", http.StatusBadRequest)
		return
	}

	if err == metadata.ErrNotConfigured {
		http.Error(w, "metadata provider not configured", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Printf("[tmdb] lookup %s/%d failed: %v", q.Get("action"), movieID, err)
		http.Error(w, "metadata lookup failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
