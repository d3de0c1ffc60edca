// Package metadata resolves titles against TMDB: detail payloads for the
// frontend and external IDs for the subtitle catalog.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"streambridge/internal/cache"
	"streambridge/models"
)

// ErrNotConfigured is returned when no TMDB API key was provided.
var ErrNotConfigured = errors.New("tmdb api key not configured")

// imdbCacheTTL bounds how long resolved IMDB ids are reused. External id
// mappings effectively never change; a day keeps the table small anyway.
const imdbCacheTTL = 24 * time.Hour

// Service is the metadata surface consumed by handlers and the subtitle
// resolver.
type Service struct {
	client  *tmdbClient
	imdbIDs *cache.Table[string]
}

// NewService builds the metadata service. The API key is read once at
// startup and never logged.
func NewService(apiKey, language string, httpc *http.Client) *Service {
	return &Service{
		client:  newTMDBClient(apiKey, language, httpc),
		imdbIDs: cache.NewTable[string](512, imdbCacheTTL),
	}
}

// SetBaseURL points the client at a different TMDB host. Test hook.
func (s *Service) SetBaseURL(baseURL string) {
	s.client.baseURL = strings.TrimRight(baseURL, "/")
}

// MovieDetails returns the TMDB movie payload unmodified; the frontend owns
// its shape.
func (s *Service) MovieDetails(ctx context.Context, tmdbID int64) (json.RawMessage, error) {
	return s.details(ctx, "movie", tmdbID)
}

// ShowDetails returns the TMDB TV payload unmodified.
func (s *Service) ShowDetails(ctx context.Context, tmdbID int64) (json.RawMessage, error) {
	return s.details(ctx, "tv", tmdbID)
}

func (s *Service) details(ctx context.Context, apiType string, tmdbID int64) (json.RawMessage, error) {
	if !s.client.isConfigured() {
		return nil, ErrNotConfigured
	}
	endpoint, err := s.client.endpoint(apiType, fmt.Sprintf("%d", tmdbID))
	if err != nil {
		return nil, err
	}
	body, err := s.client.doGET(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("tmdb %s/%d returned invalid JSON", apiType, tmdbID)
	}
	return json.RawMessage(body), nil
}

// IMDBID resolves the IMDB id for a catalog ref via TMDB external_ids.
// Results are cached; an empty string with nil error means TMDB knows the
// title but has no IMDB mapping.
func (s *Service) IMDBID(ctx context.Context, ref models.CatalogRef) (string, error) {
	if !s.client.isConfigured() {
		return "", ErrNotConfigured
	}

	apiType := "movie"
	if ref.Type == models.MediaTypeEpisode {
		apiType = "tv"
	}
	key := fmt.Sprintf("%s:%d", apiType, ref.TMDBID)
	if id, ok := s.imdbIDs.Get(key); ok {
		return id, nil
	}

	endpoint, err := s.client.endpoint(apiType, fmt.Sprintf("%d", ref.TMDBID), "external_ids")
	if err != nil {
		return "", err
	}
	body, err := s.client.doGET(ctx, endpoint)
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(gjson.GetBytes(body, "imdb_id").String())
	s.imdbIDs.Put(key, id)
	return id, nil
}
