// Package proxy mediates CORS and hotlink restrictions between players and
// upstream stream CDNs. Bytes pass through unmodified except for HLS
// manifests, whose URIs are rewritten to keep every fetch on this proxy.
package proxy

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"streambridge/models"
)

// passthroughRequestHeaders are the only client headers forwarded upstream.
// Everything else is dropped so the upstream sees the policy identity only.
var passthroughRequestHeaders = []string{"Range", "If-Modified-Since", "If-None-Match"}

// passthroughResponseHeaders are copied from the upstream response.
var passthroughResponseHeaders = []string{
	"Content-Type", "Content-Length", "Content-Range",
	"Accept-Ranges", "Last-Modified", "ETag",
}

// Service streams upstream media through the local origin.
type Service struct {
	// httpc has no timeout: long segment downloads and live playlists must
	// not be cut off by the application layer.
	httpc *http.Client
}

// NewService builds the proxy service. A nil client gets a timeout-free
// default.
func NewService(httpc *http.Client) *Service {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Service{httpc: httpc}
}

// Proxy handles GET/HEAD/OPTIONS /api/stream-proxy?url&source.
func (s *Service) Proxy(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rawURL := r.URL.Query().Get("url")
	upstream, err := url.Parse(rawURL)
	if err != nil || !upstream.IsAbs() || (upstream.Scheme != "http" && upstream.Scheme != "https") {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	source := models.ProxySource(r.URL.Query().Get("source"))

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream.String(), nil)
	if err != nil {
		http.Error(w, "invalid upstream URL", http.StatusBadRequest)
		return
	}
	for _, h := range passthroughRequestHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	PolicyFor(source).Apply(req)

	resp, err := s.httpc.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			return // client went away, nothing to write
		}
		log.Printf("[stream-proxy] upstream fetch failed url=%s: %v", upstream, err)
		writeUpstreamError(w, nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		log.Printf("[stream-proxy] upstream status %d url=%s", resp.StatusCode, upstream)
		writeUpstreamError(w, &resp.StatusCode)
		return
	}

	copyResponseHeaders(w, resp)

	if resp.StatusCode >= 400 {
		// Client errors pass through untouched, body included.
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(resp.StatusCode)
		return
	}

	s.streamBody(w, r, resp, upstream.String(), source)
}

// streamBody sniffs the response and either rewrites it (HLS playlists) or
// streams it through untouched (segments, keys, direct files).
func (s *Service) streamBody(w http.ResponseWriter, r *http.Request, resp *http.Response, manifestURL string, source models.ProxySource) {
	peek, err := io.ReadAll(io.LimitReader(resp.Body, 16))
	if err != nil {
		writeUpstreamError(w, nil)
		return
	}

	if !IsManifest(resp.Header.Get("Content-Type"), peek) {
		w.WriteHeader(resp.StatusCode)
		w.Write(peek)
		if _, err := io.Copy(w, resp.Body); err != nil && r.Context().Err() == nil {
			log.Printf("[stream-proxy] stream copy aborted url=%s: %v", manifestURL, err)
		}
		return
	}

	rest, err := io.ReadAll(resp.Body)
	if err != nil {
		writeUpstreamError(w, nil)
		return
	}
	rewritten := RewriteManifest(append(peek, rest...), manifestURL, source)
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(resp.StatusCode)
	w.Write(rewritten)
}

func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for _, h := range passthroughResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range, If-Modified-Since, If-None-Match")
}

// writeUpstreamError emits the 502 envelope. status is nil for network-level
// failures where no upstream status exists.
func writeUpstreamError(w http.ResponseWriter, status *int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	payload := map[string]any{"error": "upstream_error", "upstream_status": nil}
	if status != nil {
		payload["upstream_status"] = *status
	}
	json.NewEncoder(w).Encode(payload)
}
