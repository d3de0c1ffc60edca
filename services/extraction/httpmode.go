package extraction

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"streambridge/models"
	"streambridge/services/stealth"
)

// HTTPMode walks the iframe chain with a plain HTTP client, scraping iframe
// src attributes and synthesizing the play-click request the browser would
// have issued. Lower fidelity than browser mode; the controller retries with
// the other mode when this one fails structurally.
type HTTPMode struct {
	cfg   EngineConfig
	httpc *http.Client
}

// NewHTTPMode builds the HTTP fallback mode.
func NewHTTPMode(cfg EngineConfig, httpc *http.Client) *HTTPMode {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPMode{cfg: cfg, httpc: httpc}
}

func (m *HTTPMode) Name() string { return "http" }

// prorcpPathPattern matches the prorcp frame path embedded in the rcp page
// script that the play-button click would normally inject.
var prorcpPathPattern = regexp.MustCompile(`/prorcp/[A-Za-z0-9+/=_.-]+`)

// shadowlandsIframePattern matches the terminal iframe URL inside prorcp.
var shadowlandsIframePattern = regexp.MustCompile(`(?:https?:)?//[^\s'"]*shadowlandschronicles\.com[^\s'"]*`)

// Run executes the full chain for one session.
func (m *HTTPMode) Run(ctx context.Context, session *Session, fp *stealth.Fingerprint) (*models.ExtractionResult, error) {
	// Stage 1: top-level embed document.
	session.SetStage(StageLoadingVidsrc)
	embed := embedURL(session.Server, session.Ref)
	doc, took, err := m.fetchDocument(ctx, embed, "", fp, m.cfg.StageTimeout)
	if err != nil {
		session.AppendStep(models.IframeVidsrc, embed, "error", took)
		return nil, err
	}
	session.AppendStep(models.IframeVidsrc, embed, "ok", took)

	rcpURL, ok := findIframe(doc, embed, "cloudnestra.com/rcp")
	if !ok {
		return nil, Errorf(KindProviderStructureChanged, "no cloudnestra rcp iframe in embed document")
	}

	// Stage 2: rcp frame with the play button.
	session.SetStage(StageLoadingRcp)
	rcpDoc, took, err := m.fetchDocument(ctx, rcpURL, embed, fp, m.cfg.StageTimeout)
	if err != nil {
		session.AppendStep(models.IframeCloudnestra, rcpURL, "error", took)
		return nil, err
	}
	session.AppendStep(models.IframeCloudnestra, rcpURL, "ok", took)

	// Stage 3: locate the play button, then recover the prorcp URL the
	// click would have inserted. Without a real DOM the click becomes a
	// static inspection of the page script, retried like a click would be.
	session.SetStage(StageFindingPlayButton)
	if !hasPlayButton(rcpDoc, m.cfg.PlayButtonSelectors) {
		return nil, Errorf(KindProviderStructureChanged, "play button not found (selectors: %s)",
			strings.Join(m.cfg.PlayButtonSelectors, ", "))
	}

	session.SetStage(StageClickingPlay)
	prorcpURL, err := m.resolveProRcp(ctx, session, rcpDoc, rcpURL, fp)
	if err != nil {
		return nil, err
	}

	// Stage 4: prorcp frame.
	session.SetStage(StageLoadingProRcp)
	prorcpDoc, took, err := m.fetchDocument(ctx, prorcpURL, rcpURL, fp, m.cfg.StageTimeout)
	if err != nil {
		session.AppendStep(models.IframeProRcp, prorcpURL, "error", took)
		return nil, err
	}
	session.AppendStep(models.IframeProRcp, prorcpURL, "ok", took)

	// Stage 5: terminal resolution. Prefer a shadowlands iframe; fall back
	// to a direct manifest reference in the prorcp DOM.
	html, _ := prorcpDoc.Html()
	if shadowURL, ok := findShadowlands(prorcpDoc, prorcpURL, html); ok {
		session.SetStage(StageLoadingShadow)
		streamURL, took, err := m.extractFromShadowlands(ctx, session, shadowURL, prorcpURL, fp)
		if err != nil {
			session.AppendStep(models.IframeShadowlands, shadowURL, "error", took)
			return nil, err
		}
		session.AppendStep(models.IframeShadowlands, shadowURL, "ok", took)
		return m.finish(session, streamURL), nil
	}

	session.SetStage(StageExtractingURL)
	if streamURL := manifestURLPattern.FindString(html); streamURL != "" {
		return m.finish(session, streamURL), nil
	}
	return nil, Errorf(KindNoStreamURLFound, "prorcp frame carried neither shadowlands iframe nor manifest")
}

// resolveProRcp synthesizes the play click: the rcp page script embeds the
// prorcp path the click inserts. Missing script data is retried with the
// same spacing a failed click would get, then surfaces as a click failure.
func (m *HTTPMode) resolveProRcp(ctx context.Context, session *Session, rcpDoc *goquery.Document, rcpURL string, fp *stealth.Fingerprint) (string, error) {
	html, _ := rcpDoc.Html()
	for try := 0; ; try++ {
		if path := prorcpPathPattern.FindString(html); path != "" {
			return absoluteURL(path, rcpURL), nil
		}
		if try >= m.cfg.ClickRetries {
			return "", Errorf(KindPlayButtonClickFailed, "no prorcp reference appeared after %d click attempts", try+1)
		}
		select {
		case <-ctx.Done():
			return "", E(KindCancelled, ctx.Err())
		case <-time.After(m.cfg.ClickRetrySpacing):
		}
		doc, _, err := m.fetchDocument(ctx, rcpURL, rcpURL, fp, m.cfg.StageTimeout)
		if err != nil {
			return "", err
		}
		html, _ = doc.Html()
	}
}

// extractFromShadowlands loads the terminal frame and pulls the manifest URL
// out of its markup.
func (m *HTTPMode) extractFromShadowlands(ctx context.Context, session *Session, shadowURL, referer string, fp *stealth.Fingerprint) (string, time.Duration, error) {
	session.SetStage(StageExtractingURL)
	doc, took, err := m.fetchDocument(ctx, shadowURL, referer, fp, m.cfg.FinalStageTimeout)
	if err != nil {
		return "", took, err
	}
	html, _ := doc.Html()
	if streamURL := manifestURLPattern.FindString(html); streamURL != "" {
		return streamURL, took, nil
	}
	return "", took, Errorf(KindNoStreamURLFound, "no manifest URL in shadowlands frame")
}

func (m *HTTPMode) finish(session *Session, streamURL string) *models.ExtractionResult {
	source, requiresProxy, streamType := classifyStreamURL(streamURL, session.Server)
	return &models.ExtractionResult{
		StreamURL:     streamURL,
		StreamType:    streamType,
		RequiresProxy: requiresProxy,
		Source:        source,
	}
}

// fetchDocument GETs a URL with the session fingerprint's identity headers
// and parses the body.
func (m *HTTPMode) fetchDocument(ctx context.Context, rawURL, referer string, fp *stealth.Fingerprint, timeout time.Duration) (*goquery.Document, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, Errorf(KindInvalidRequest, "build request: %w", err)
	}
	req.Header.Set("User-Agent", fp.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", fp.Language)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := m.httpc.Do(req)
	took := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, took, E(KindCancelled, ctx.Err())
		}
		return nil, took, E(Classify(err), err)
	}
	defer resp.Body.Close()

	if kind := ClassifyStatus(resp.StatusCode); kind != "" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, took, Errorf(kind, "GET %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, took, Errorf(KindProviderStructureChanged, "parse %s: %w", rawURL, err)
	}
	return doc, took, nil
}

// findIframe scans the document for iframes and picks the candidate for the
// expected host, resolving relative srcs against the document URL.
func findIframe(doc *goquery.Document, baseURL, expectHost string) (string, bool) {
	var srcs []string
	doc.Find("iframe").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if src == "" {
			src, _ = sel.Attr("data-src")
		}
		if src != "" {
			srcs = append(srcs, absoluteURL(src, baseURL))
		}
	})
	if len(srcs) == 0 {
		return "", false
	}
	return pickIframe(srcs, expectHost)
}

// findShadowlands locates the terminal iframe inside the prorcp document,
// checking both live iframe elements and script-injected references.
func findShadowlands(doc *goquery.Document, baseURL, html string) (string, bool) {
	if src, ok := findIframe(doc, baseURL, "shadowlandschronicles.com"); ok && strings.Contains(src, "shadowlandschronicles.com") {
		return src, true
	}
	if match := shadowlandsIframePattern.FindString(html); match != "" {
		return absoluteURL(strings.Trim(match, `'"`), baseURL), true
	}
	return "", false
}

// hasPlayButton tries the documented selector list in order; first match wins.
func hasPlayButton(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
