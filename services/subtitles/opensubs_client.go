package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultCatalogBaseURL = "https://rest.opensubtitles.org"

// catalogEntry mirrors the OpenSubtitles-compatible search response. Only the
// fields the resolver reads are declared.
type catalogEntry struct {
	IDSubtitleFile  string `json:"IDSubtitleFile"`
	LangName        string `json:"LangName"`
	ISO639          string `json:"ISO639"`
	SubLanguageID   string `json:"SubLanguageID"`
	SubFormat       string `json:"SubFormat"`
	SubRating       string `json:"SubRating"`
	SubDownloadLink string `json:"SubDownloadLink"`
}

// rating parses the catalog's string-encoded rating; unrated entries sort last.
func (e catalogEntry) rating() float64 {
	r, err := strconv.ParseFloat(e.SubRating, 64)
	if err != nil {
		return -1
	}
	return r
}

type catalogClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func newCatalogClient(apiKey string, httpc *http.Client) *catalogClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &catalogClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultCatalogBaseURL,
		httpc:   httpc,
	}
}

// search lists subtitles for one title and language, best first.
func (c *catalogClient) search(ctx context.Context, imdbID, languageID string, season, episode int) ([]catalogEntry, error) {
	q := url.Values{}
	q.Set("imdbId", strings.TrimPrefix(imdbID, "tt"))
	q.Set("languageId", languageID)
	if season > 0 && episode > 0 {
		q.Set("season", strconv.Itoa(season))
		q.Set("episode", strconv.Itoa(episode))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "streambridge v1")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("subtitle search failed: %s", resp.Status)
	}

	var entries []catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode subtitle search response: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rating() > entries[j].rating()
	})
	return entries, nil
}
