// Package subtitles finds, downloads, and converts subtitles for extracted
// streams. Listings come from an OpenSubtitles-compatible catalog; downloads
// are normalized to WebVTT regardless of what the catalog serves.
package subtitles

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"streambridge/internal/cache"
	"streambridge/models"
)

const (
	// perLanguageTimeout bounds each catalog search.
	perLanguageTimeout = 10 * time.Second
	// blobTTL keeps converted WebVTT around long enough for seeks and
	// replays within one viewing.
	blobTTL = time.Hour
	// blobCapacity bounds the blob cache.
	blobCapacity = 200
	// maxSubtitleBytes caps a download; subtitle files are small, anything
	// bigger is not a subtitle.
	maxSubtitleBytes = 4 << 20
)

// Service is the subtitle resolver.
type Service struct {
	catalog *catalogClient
	httpc   *http.Client
	blobs   *cache.Table[models.SubtitleBlob]
}

// NewService builds the resolver. The API key is optional; the public
// catalog works without one.
func NewService(apiKey string, httpc *http.Client) *Service {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		catalog: newCatalogClient(apiKey, httpc),
		httpc:   httpc,
		blobs:   cache.NewTable[models.SubtitleBlob](blobCapacity, blobTTL),
	}
}

// SetCatalogBaseURL points the catalog client elsewhere. Test hook.
func (s *Service) SetCatalogBaseURL(baseURL string) {
	s.catalog.baseURL = strings.TrimRight(baseURL, "/")
}

// ConfigureBlobCache resizes the converted-blob cache. Call before serving;
// existing entries are discarded.
func (s *Service) ConfigureBlobCache(capacity int, ttl time.Duration) {
	if capacity <= 0 || ttl <= 0 {
		return
	}
	s.blobs = cache.NewTable[models.SubtitleBlob](capacity, ttl)
}

// Resolve finds the best subtitle per requested language, in request order.
// Languages with no results are omitted; a language whose search fails is
// logged and omitted, never failing the others.
func (s *Service) Resolve(ctx context.Context, imdbID string, season, episode int, languages []string) []models.SubtitleDescriptor {
	descriptors := make([]models.SubtitleDescriptor, 0, len(languages))
	for rank, lang := range languages {
		searchCtx, cancel := context.WithTimeout(ctx, perLanguageTimeout)
		entries, err := s.catalog.search(searchCtx, imdbID, lang, season, episode)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return descriptors
			}
			log.Printf("[subtitles] search imdb=%s lang=%s failed: %v", imdbID, lang, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		top := entries[0]
		descriptors = append(descriptors, models.SubtitleDescriptor{
			ID:           top.IDSubtitleFile,
			LangCode:     lang,
			Language:     languageName(lang, top.LangName),
			Rank:         rank + 1,
			DownloadLink: top.SubDownloadLink,
		})
	}
	return descriptors
}

// Download fetches a subtitle file and returns it as WebVTT. Gzip payloads
// are decompressed on the fly; SRT bodies are converted; WebVTT passes
// through. Converted blobs are cached by content hash.
func (s *Service) Download(ctx context.Context, downloadLink string) (string, error) {
	body, err := s.fetch(ctx, downloadLink)
	if err != nil {
		return "", err
	}

	text := normalizeSRT(string(body))
	blobID := contentHash(text)
	if blob, ok := s.blobs.Get(blobID); ok {
		return string(blob.Body), nil
	}

	var vtt string
	if IsWebVTT(text) {
		vtt = text
	} else {
		vtt, err = SRTToWebVTT(text)
		if err != nil {
			return "", err
		}
	}

	s.blobs.Put(blobID, models.SubtitleBlob{Body: []byte(vtt), GeneratedAt: time.Now()})
	return vtt, nil
}

// BlobCount returns the number of cached converted subtitles.
func (s *Service) BlobCount() int { return s.blobs.Len() }

// fetch downloads a subtitle body, decompressing gzip transport or payload.
func (s *Service) fetch(ctx context.Context, downloadLink string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadLink, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "streambridge v1")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("subtitle download failed: %s", resp.Status)
	}

	reader := io.LimitReader(resp.Body, maxSubtitleBytes)
	if strings.HasSuffix(strings.ToLower(strippedPath(downloadLink)), ".gz") ||
		strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("open gzip subtitle: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	// Some catalogs serve gzip bytes without declaring them. Sniff before
	// treating the payload as text.
	if mimetype.Detect(body).Is("application/gzip") {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("open gzip subtitle payload: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return body, nil
}

// strippedPath returns the URL path without query, for extension checks.
func strippedPath(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// contentHash keys the blob cache by normalized body bytes.
func contentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// languageName renders a display name for a language code, preferring the
// catalog's own label when present.
func languageName(code, catalogName string) string {
	if catalogName != "" {
		return catalogName
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
