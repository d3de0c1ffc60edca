package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc"

	"streambridge/models"
	"streambridge/services/extraction"
	"streambridge/services/metadata"
	"streambridge/services/proxy"
	"streambridge/services/subtitles"
)

// ExtractHandler runs the extraction pipeline for the player.
type ExtractHandler struct {
	controller *extraction.Controller
	metadata   *metadata.Service
	subtitles  *subtitles.Service
	// subtitleLanguages is the language order for the subtitle prefetch.
	subtitleLanguages []string
	// baseURL prefixes proxied stream URLs; empty keeps them relative.
	baseURL string
}

// NewExtractHandler creates a new ExtractHandler.
func NewExtractHandler(controller *extraction.Controller, meta *metadata.Service, subs *subtitles.Service, subtitleLanguages []string) *ExtractHandler {
	if len(subtitleLanguages) == 0 {
		subtitleLanguages = []string{"eng"}
	}
	return &ExtractHandler{
		controller:        controller,
		metadata:          meta,
		subtitles:         subs,
		subtitleLanguages: subtitleLanguages,
	}
}

// SetBaseURL makes proxied stream URLs absolute, for deployments where the
// player reaches the service through a reverse proxy.
func (h *ExtractHandler) SetBaseURL(baseURL string) {
	h.baseURL = strings.TrimRight(baseURL, "/")
}

// extractResponse is the wire shape for /api/extract-shadowlands.
type extractResponse struct {
	Success          bool                        `json:"success"`
	StreamURL        string                      `json:"streamUrl,omitempty"`
	StreamType       models.StreamType           `json:"streamType,omitempty"`
	Server           string                      `json:"server,omitempty"`
	ExtractionMethod string                      `json:"extractionMethod,omitempty"`
	RequiresProxy    bool                        `json:"requiresProxy"`
	Chain            models.ChainSummary         `json:"chain"`
	Subtitles        []models.SubtitleDescriptor `json:"subtitles,omitempty"`
	Error            *string                     `json:"error"`
}

// Extract handles GET /api/extract-shadowlands?tmdbId[&season&episode].
// Malformed query syntax is a 400; a syntactically fine but semantically
// invalid ref comes back 200 with success=false and the engine never runs.
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ref, syntaxErr, semanticErr := parseCatalogRef(r)
	if syntaxErr != "" {
		http.Error(w, syntaxErr, http.StatusBadRequest)
		return
	}
	if semanticErr == "" {
		if err := ref.Validate(); err != nil {
			semanticErr = err.Error()
		}
	}
	if semanticErr != "" {
		writeJSON(w, http.StatusOK, extractResponse{Success: false, Error: &semanticErr})
		return
	}

	opts := extraction.Options{
		Server:     r.URL.Query().Get("server"),
		ForceProxy: r.URL.Query().Get("forceProxy") == "true",
	}

	// Subtitles ride along with the extraction: both are I/O bound and the
	// player wants them in the same payload.
	var (
		result *models.ExtractionResult
		extErr error
		subs   []models.SubtitleDescriptor
	)
	var wg conc.WaitGroup
	wg.Go(func() {
		result, extErr = h.controller.Extract(r.Context(), ref, opts)
	})
	wg.Go(func() {
		subs = h.resolveSubtitles(r, ref)
	})
	wg.Wait()

	if extErr != nil {
		kind := extraction.KindOf(extErr)
		log.Printf("[extract] ref=%s failed kind=%s err=%v", ref.Key(), kind, extErr)
		msg := kind.Message()
		writeJSON(w, http.StatusOK, extractResponse{Success: false, Error: &msg})
		return
	}

	streamURL := result.StreamURL
	if result.RequiresProxy {
		streamURL = h.baseURL + proxy.ProxyURL(result.StreamURL, result.Source)
	}
	writeJSON(w, http.StatusOK, extractResponse{
		Success:          true,
		StreamURL:        streamURL,
		StreamType:       result.StreamType,
		Server:           result.Server,
		ExtractionMethod: result.Method,
		RequiresProxy:    result.RequiresProxy,
		Chain:            result.Chain,
		Subtitles:        subs,
	})
}

// Progress handles GET /api/extract-shadowlands/progress?tmdbId[&season&episode].
func (h *ExtractHandler) Progress(w http.ResponseWriter, r *http.Request) {
	ref, syntaxErr, semanticErr := parseCatalogRef(r)
	if syntaxErr != "" {
		http.Error(w, syntaxErr, http.StatusBadRequest)
		return
	}
	if semanticErr != "" {
		http.Error(w, semanticErr, http.StatusBadRequest)
		return
	}
	ev, ok := h.controller.Progress(ref, r.URL.Query().Get("server"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no extraction in flight"})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// resolveSubtitles prefetches subtitle descriptors when an IMDB id resolves.
// Failures degrade to an empty list; subtitles never break playback.
func (h *ExtractHandler) resolveSubtitles(r *http.Request, ref models.CatalogRef) []models.SubtitleDescriptor {
	imdbID, err := h.metadata.IMDBID(r.Context(), ref)
	if err != nil || imdbID == "" {
		if err != nil && err != metadata.ErrNotConfigured {
			log.Printf("[extract] imdb lookup for %s failed: %v", ref.Key(), err)
		}
		return nil
	}
	return h.subtitles.Resolve(r.Context(), imdbID, ref.Season, ref.Episode, h.subtitleLanguages)
}

// parseCatalogRef reads tmdbId/season/episode from the query. The first
// returned error string is syntactic (400), the second semantic (200 envelope).
func parseCatalogRef(r *http.Request) (models.CatalogRef, string, string) {
	q := r.URL.Query()

	rawID := strings.TrimSpace(q.Get("tmdbId"))
	if rawID == "" {
		return models.CatalogRef{}, "tmdbId is required", ""
	}
	tmdbID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return models.CatalogRef{}, "tmdbId must be an integer", ""
	}

	hasSeason := q.Has("season")
	hasEpisode := q.Has("episode")
	if !hasSeason && !hasEpisode {
		return models.NewMovieRef(tmdbID), "", ""
	}
	if hasSeason != hasEpisode {
		return models.CatalogRef{}, "", "episodes require both season and episode parameters"
	}

	season, err := strconv.Atoi(q.Get("season"))
	if err != nil {
		return models.CatalogRef{}, "season must be an integer", ""
	}
	episode, err := strconv.Atoi(q.Get("episode"))
	if err != nil {
		return models.CatalogRef{}, "episode must be an integer", ""
	}
	return models.NewEpisodeRef(tmdbID, season, episode), "", ""
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handlers] write response: %v", err)
	}
}
