package models

import (
	"errors"
	"fmt"
)

// MediaType distinguishes movie and episode catalog references.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
)

// CatalogRef identifies a piece of content by its TMDB id, plus season and
// episode for shows. The tuple is the canonical cache key prefix.
type CatalogRef struct {
	Type    MediaType `json:"type"`
	TMDBID  int64     `json:"tmdbId"`
	Season  int       `json:"season,omitempty"`
	Episode int       `json:"episode,omitempty"`
}

// NewMovieRef builds a movie reference.
func NewMovieRef(tmdbID int64) CatalogRef {
	return CatalogRef{Type: MediaTypeMovie, TMDBID: tmdbID}
}

// NewEpisodeRef builds an episode reference.
func NewEpisodeRef(tmdbID int64, season, episode int) CatalogRef {
	return CatalogRef{Type: MediaTypeEpisode, TMDBID: tmdbID, Season: season, Episode: episode}
}

var (
	ErrInvalidTMDBID  = errors.New("tmdb id must be non-zero")
	ErrInvalidEpisode = errors.New("episodes require season and episode >= 1")
)

// Validate reports whether the reference is well-formed.
func (r CatalogRef) Validate() error {
	if r.TMDBID <= 0 {
		return ErrInvalidTMDBID
	}
	switch r.Type {
	case MediaTypeMovie:
		return nil
	case MediaTypeEpisode:
		if r.Season < 1 || r.Episode < 1 {
			return ErrInvalidEpisode
		}
		return nil
	default:
		return fmt.Errorf("unknown media type %q", r.Type)
	}
}

// Key returns the cache key prefix for this reference.
func (r CatalogRef) Key() string {
	if r.Type == MediaTypeEpisode {
		return fmt.Sprintf("episode:%d:%d:%d", r.TMDBID, r.Season, r.Episode)
	}
	return fmt.Sprintf("movie:%d", r.TMDBID)
}

// EmbedPath returns the path portion of the provider embed URL for this
// reference, e.g. "movie/550" or "tv/1399/1-1".
func (r CatalogRef) EmbedPath() string {
	if r.Type == MediaTypeEpisode {
		return fmt.Sprintf("tv/%d/%d-%d", r.TMDBID, r.Season, r.Episode)
	}
	return fmt.Sprintf("movie/%d", r.TMDBID)
}
