package extraction

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"streambridge/models"
	"streambridge/services/stealth"
)

// BrowserMode drives the iframe chain in a stealth-configured headless
// browser. Browser instances are pooled; creating one per request is
// prohibitively expensive.
type BrowserMode struct {
	cfg EngineConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	slots chan *browserSlot
	size  int
}

// browserSlot is one pooled browser instance. Tabs for individual sessions
// are children of the slot context.
type browserSlot struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBrowserMode starts the shared allocator and prepares poolSize browser
// slots (bounded to 4..8). The underlying Chrome processes launch lazily on
// each slot's first navigation.
func NewBrowserMode(cfg EngineConfig, poolSize int) *BrowserMode {
	if poolSize < 4 {
		poolSize = 4
	}
	if poolSize > 8 {
		poolSize = 8
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("mute-audio", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	slots := make(chan *browserSlot, poolSize)
	for i := 0; i < poolSize; i++ {
		ctx, cancel := chromedp.NewContext(allocCtx)
		slots <- &browserSlot{ctx: ctx, cancel: cancel}
	}

	return &BrowserMode{
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		slots:       slots,
		size:        poolSize,
	}
}

func (m *BrowserMode) Name() string { return "browser" }

// Close tears down every pooled browser and the allocator.
func (m *BrowserMode) Close() {
	for i := 0; i < m.size; i++ {
		slot := <-m.slots
		slot.cancel()
	}
	m.allocCancel()
}

// acquireSlot borrows a pooled browser, honoring caller cancellation.
func (m *BrowserMode) acquireSlot(ctx context.Context) (*browserSlot, error) {
	select {
	case slot := <-m.slots:
		return slot, nil
	case <-ctx.Done():
		return nil, E(KindCancelled, ctx.Err())
	}
}

func (m *BrowserMode) releaseSlot(slot *browserSlot) {
	m.slots <- slot
}

// Run executes the full chain inside a fresh tab of a pooled browser.
func (m *BrowserMode) Run(ctx context.Context, session *Session, fp *stealth.Fingerprint) (*models.ExtractionResult, error) {
	slot, err := m.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer m.releaseSlot(slot)

	tabCtx, tabCancel := chromedp.NewContext(slot.ctx)
	defer tabCancel()

	// Bind the tab to the caller so cancellation tears the navigation down
	// at the next suspension point.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()

	seen := newManifestLog()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			seen.observe(resp.Response.URL)
		}
	})

	if err := m.applyStealth(tabCtx, fp); err != nil {
		return nil, E(Classify(err), fmt.Errorf("apply stealth: %w", err))
	}

	plan := stealth.NewBehaviorPlan(fp.Viewport)

	// Stage 1: embed document.
	session.SetStage(StageLoadingVidsrc)
	embed := embedURL(session.Server, session.Ref)
	start := time.Now()
	if err := m.navigate(tabCtx, ctx, embed, m.cfg.StageTimeout); err != nil {
		session.AppendStep(models.IframeVidsrc, embed, "error", time.Since(start))
		return nil, err
	}
	if err := m.seedLocalStorage(tabCtx, fp); err != nil {
		log.Printf("[browser] session=%s localStorage seed failed: %v", session.ID, err)
	}
	session.AppendStep(models.IframeVidsrc, embed, "ok", time.Since(start))

	rcpURL, err := m.waitForIframe(tabCtx, ctx, embed, "cloudnestra.com/rcp", m.cfg.StageTimeout)
	if err != nil {
		return nil, err
	}

	// Stage 2: rcp frame, loaded as a top-level navigation so the play
	// button is reachable by selector.
	session.SetStage(StageLoadingRcp)
	start = time.Now()
	if err := m.navigate(tabCtx, ctx, rcpURL, m.cfg.StageTimeout); err != nil {
		session.AppendStep(models.IframeCloudnestra, rcpURL, "error", time.Since(start))
		return nil, err
	}
	session.AppendStep(models.IframeCloudnestra, rcpURL, "ok", time.Since(start))

	m.replayBehavior(tabCtx, plan)

	// Stage 3: find and click the play button.
	session.SetStage(StageFindingPlayButton)
	selector, err := m.waitForPlayButton(tabCtx, ctx, m.cfg.StageTimeout)
	if err != nil {
		return nil, err
	}

	session.SetStage(StageClickingPlay)
	prorcpURL, err := m.clickThrough(tabCtx, ctx, session, selector, plan, rcpURL)
	if err != nil {
		return nil, err
	}

	// Stage 4: prorcp frame.
	session.SetStage(StageLoadingProRcp)
	start = time.Now()
	if err := m.navigate(tabCtx, ctx, prorcpURL, m.cfg.StageTimeout); err != nil {
		session.AppendStep(models.IframeProRcp, prorcpURL, "error", time.Since(start))
		return nil, err
	}
	session.AppendStep(models.IframeProRcp, prorcpURL, "ok", time.Since(start))

	// Stage 5: terminal resolution. A shadowlands iframe is preferred; a
	// manifest observed on the network log or in the DOM also terminates.
	if shadowURL, serr := m.waitForIframe(tabCtx, ctx, prorcpURL, "shadowlandschronicles.com", m.cfg.StageTimeout); serr == nil {
		session.SetStage(StageLoadingShadow)
		start = time.Now()
		if err := m.navigate(tabCtx, ctx, shadowURL, m.cfg.FinalStageTimeout); err != nil {
			session.AppendStep(models.IframeShadowlands, shadowURL, "error", time.Since(start))
			return nil, err
		}
		session.AppendStep(models.IframeShadowlands, shadowURL, "ok", time.Since(start))
	}

	session.SetStage(StageExtractingURL)
	streamURL, err := m.waitForManifest(tabCtx, ctx, seen, m.cfg.FinalStageTimeout)
	if err != nil {
		return nil, err
	}

	source, requiresProxy, streamType := classifyStreamURL(streamURL, session.Server)
	return &models.ExtractionResult{
		StreamURL:     streamURL,
		StreamType:    streamType,
		RequiresProxy: requiresProxy,
		Source:        source,
	}, nil
}

// applyStealth installs the fingerprint before the first navigation: UA and
// platform overrides, device metrics, timezone, and a new-document script
// masking the automation tells the provider checks for.
func (m *BrowserMode) applyStealth(tabCtx context.Context, fp *stealth.Fingerprint) error {
	script := buildStealthScript(fp)
	return chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(fp.UserAgent).
				WithAcceptLanguage(fp.Language).
				WithPlatform(fp.Platform).
				Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetDeviceMetricsOverride(
				int64(fp.Viewport.Width), int64(fp.Viewport.Height),
				fp.DevicePixelRatio, false,
			).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetTimezoneOverride(fp.Timezone).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	)
}

// buildStealthScript renders the navigator override script for a fingerprint.
func buildStealthScript(fp *stealth.Fingerprint) string {
	var b strings.Builder
	b.WriteString("Object.defineProperty(navigator, 'webdriver', {get: () => undefined});\n")
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'platform', {get: () => %q});\n", fp.Platform)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'language', {get: () => %q});\n", fp.Language)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', {get: () => [%q, 'en']});\n", fp.Language)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'hardwareConcurrency', {get: () => %d});\n", fp.HardwareConcurrency)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'deviceMemory', {get: () => %d});\n", fp.DeviceMemory)
	b.WriteString("window.chrome = window.chrome || {runtime: {}};\n")
	return b.String()
}

// seedLocalStorage writes the fingerprint's localStorage payload into the
// current origin. Must run after the first navigation; localStorage is not
// reachable on about:blank.
func (m *BrowserMode) seedLocalStorage(tabCtx context.Context, fp *stealth.Fingerprint) error {
	var b strings.Builder
	for k, v := range fp.LocalStorageSeed {
		fmt.Fprintf(&b, "localStorage.setItem(%q, %q);", k, v)
	}
	b.WriteString("true")
	var ok bool
	return chromedp.Run(tabCtx, chromedp.Evaluate(b.String(), &ok))
}

// replayBehavior executes the human-behavior plan: Bezier mouse paths,
// scrolls, and a Tab press. Failures are cosmetic and never abort a session.
func (m *BrowserMode) replayBehavior(tabCtx context.Context, plan stealth.BehaviorPlan) {
	for _, path := range plan.MousePaths {
		for _, pt := range path.Points {
			err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(ctx)
			}))
			if err != nil {
				return
			}
			time.Sleep(path.StepWait)
		}
	}
	for _, scroll := range plan.Scrolls {
		js := fmt.Sprintf("window.scrollBy(0, %d); true", scroll.DeltaY)
		var ok bool
		_ = chromedp.Run(tabCtx, chromedp.Evaluate(js, &ok))
	}
	if plan.PressTab {
		_ = chromedp.Run(tabCtx, chromedp.KeyEvent(kb.Tab))
	}
}

// navigate loads a URL and waits for the document body within the stage
// timeout.
func (m *BrowserMode) navigate(tabCtx, callerCtx context.Context, url string, timeout time.Duration) error {
	stageCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	err := chromedp.Run(stageCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if callerCtx.Err() != nil {
			return E(KindCancelled, callerCtx.Err())
		}
		if stageCtx.Err() == context.DeadlineExceeded {
			return Errorf(KindNetworkError, "navigation to %s timed out", url)
		}
		return E(Classify(err), fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

// waitForIframe polls the DOM until an iframe matching the expected host
// substring appears, then returns its resolved src.
func (m *BrowserMode) waitForIframe(tabCtx, callerCtx context.Context, baseURL, expectHost string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		var srcs []string
		err := chromedp.Run(tabCtx, chromedp.Evaluate(
			`Array.from(document.querySelectorAll('iframe')).map(f => f.getAttribute('src') || '')`,
			&srcs,
		))
		if err == nil {
			for i := range srcs {
				if srcs[i] != "" {
					srcs[i] = absoluteURL(srcs[i], baseURL)
				}
			}
			if src, ok := pickIframe(srcs, expectHost); ok && strings.Contains(src, expectHost) {
				return src, nil
			}
		}

		if time.Now().After(deadline) {
			return "", Errorf(KindProviderStructureChanged, "expected %s iframe did not appear within %s", expectHost, timeout)
		}
		select {
		case <-callerCtx.Done():
			return "", E(KindCancelled, callerCtx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// waitForPlayButton tries the documented selector list until one matches.
func (m *BrowserMode) waitForPlayButton(tabCtx, callerCtx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range m.cfg.PlayButtonSelectors {
			var found bool
			js := fmt.Sprintf("!!document.querySelector(%q)", sel)
			if err := chromedp.Run(tabCtx, chromedp.Evaluate(js, &found)); err == nil && found {
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", Errorf(KindProviderStructureChanged, "play button absent after %s (selectors: %s)",
				timeout, strings.Join(m.cfg.PlayButtonSelectors, ", "))
		}
		select {
		case <-callerCtx.Done():
			return "", E(KindCancelled, callerCtx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// clickThrough hovers the play button for the planned dwell, clicks it, and
// waits for the prorcp iframe the click inserts. The click is retried at
// most ClickRetries times with fixed spacing before failing.
func (m *BrowserMode) clickThrough(tabCtx, callerCtx context.Context, session *Session, selector string, plan stealth.BehaviorPlan, rcpURL string) (string, error) {
	for try := 0; ; try++ {
		if err := m.hoverAndClick(tabCtx, selector, plan.HoverDwell); err != nil {
			return "", E(Classify(err), fmt.Errorf("click %s: %w", selector, err))
		}

		prorcpURL, err := m.waitForIframe(tabCtx, callerCtx, rcpURL, "cloudnestra.com/prorcp", m.cfg.StageTimeout)
		if err == nil {
			return prorcpURL, nil
		}
		if KindOf(err) == KindCancelled {
			return "", err
		}
		if try >= m.cfg.ClickRetries {
			return "", Errorf(KindPlayButtonClickFailed, "no prorcp iframe after %d clicks", try+1)
		}
		select {
		case <-callerCtx.Done():
			return "", E(KindCancelled, callerCtx.Err())
		case <-time.After(m.cfg.ClickRetrySpacing):
		}
	}
}

// hoverAndClick moves the pointer onto the element, dwells, then clicks.
func (m *BrowserMode) hoverAndClick(tabCtx context.Context, selector string, dwell time.Duration) error {
	var rect []float64
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return [0, 0];
		const r = el.getBoundingClientRect();
		return [r.left + r.width / 2, r.top + r.height / 2];
	})()`, selector)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(js, &rect)); err != nil {
		return err
	}
	if len(rect) != 2 {
		return fmt.Errorf("element %s not measurable", selector)
	}

	x, y := rect[0], rect[1]
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	})); err != nil {
		return err
	}
	time.Sleep(dwell)
	return chromedp.Run(tabCtx, chromedp.MouseClickXY(x, y))
}

// waitForManifest returns the first manifest URL observed either on the
// network log or in the current document.
func (m *BrowserMode) waitForManifest(tabCtx, callerCtx context.Context, seen *manifestLog, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if u, ok := seen.first(); ok {
			return u, nil
		}

		var html string
		if err := chromedp.Run(tabCtx, chromedp.Evaluate("document.documentElement.outerHTML", &html)); err == nil {
			if u := manifestURLPattern.FindString(html); u != "" {
				return u, nil
			}
		}

		if time.Now().After(deadline) {
			return "", Errorf(KindNoStreamURLFound, "no manifest URL observed within %s", timeout)
		}
		select {
		case <-callerCtx.Done():
			return "", E(KindCancelled, callerCtx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// manifestLog accumulates manifest URLs seen on the wire.
type manifestLog struct {
	mu   sync.Mutex
	urls []string
}

func newManifestLog() *manifestLog { return &manifestLog{} }

func (l *manifestLog) observe(url string) {
	if !strings.Contains(url, ".m3u8") && !strings.Contains(url, "tmstr") {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
}

func (l *manifestLog) first() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.urls) == 0 {
		return "", false
	}
	return l.urls[0], true
}
