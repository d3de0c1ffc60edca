package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"streambridge/models"
	"streambridge/services/subtitles"
)

// SubtitlesHandler handles subtitle search and download requests.
type SubtitlesHandler struct {
	service *subtitles.Service
}

// NewSubtitlesHandler creates a new SubtitlesHandler.
func NewSubtitlesHandler(service *subtitles.Service) *SubtitlesHandler {
	return &SubtitlesHandler{service: service}
}

// subtitleListResponse is the wire shape for /api/subtitles.
type subtitleListResponse struct {
	Success   bool                        `json:"success"`
	Subtitles []models.SubtitleDescriptor `json:"subtitles"`
}

// List handles GET /api/subtitles?imdbId&languageId[&season&episode].
// languageId accepts a comma-separated list; order is preserved.
func (h *SubtitlesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	imdbID := strings.TrimSpace(q.Get("imdbId"))
	if imdbID == "" {
		http.Error(w, "imdbId is required", http.StatusBadRequest)
		return
	}
	langParam := strings.TrimSpace(q.Get("languageId"))
	if langParam == "" {
		http.Error(w, "languageId is required", http.StatusBadRequest)
		return
	}
	var languages []string
	for _, lang := range strings.Split(langParam, ",") {
		if lang = strings.TrimSpace(lang); lang != "" {
			languages = append(languages, lang)
		}
	}

	season, episode := 0, 0
	if q.Has("season") || q.Has("episode") {
		var err error
		season, err = strconv.Atoi(q.Get("season"))
		if err != nil {
			http.Error(w, "season must be an integer", http.StatusBadRequest)
			return
		}
		episode, err = strconv.Atoi(q.Get("episode"))
		if err != nil {
			http.Error(w, "episode must be an integer", http.StatusBadRequest)
			return
		}
	}

	found := h.service.Resolve(r.Context(), imdbID, season, episode, languages)
	if found == nil {
		found = []models.SubtitleDescriptor{}
	}
	writeJSON(w, http.StatusOK, subtitleListResponse{Success: true, Subtitles: found})
}

// downloadRequest is the POST body for /api/subtitles/download.
type downloadRequest struct {
	DownloadLink string `json:"download_link"`
}

// Download handles POST /api/subtitles/download, returning converted WebVTT.
func (h *SubtitlesHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DownloadLink) == "" {
		http.Error(w, "download_link is required", http.StatusBadRequest)
		return
	}

	vtt, err := h.service.Download(r.Context(), req.DownloadLink)
	if err != nil {
		if errors.Is(err, subtitles.ErrBadSubtitleFormat) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "subtitle file could not be converted",
			})
			return
		}
		log.Printf("[subtitles] download failed link=%s: %v", req.DownloadLink, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "subtitle download failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"vtt": vtt})
}
