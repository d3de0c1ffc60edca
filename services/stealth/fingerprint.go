// Package stealth maintains a pool of coherent browser fingerprints applied
// to extraction sessions. Each fingerprint bundles the identity signals the
// embed providers' bot detection inspects; all components of one fingerprint
// agree with each other (a macOS user agent never reports a Win32 platform).
package stealth

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is one coherent browser identity. Exactly one fingerprint is
// attached to an extraction session; two sessions in flight at the same
// moment always use distinct fingerprints.
type Fingerprint struct {
	ID                  string            `json:"id"`
	UserAgent           string            `json:"userAgent"`
	Platform            string            `json:"platform"`
	Language            string            `json:"language"`
	Timezone            string            `json:"timezone"`
	Viewport            Viewport          `json:"viewport"`
	DevicePixelRatio    float64           `json:"devicePixelRatio"`
	HardwareConcurrency int               `json:"hardwareConcurrency"`
	DeviceMemory        int               `json:"deviceMemory"`
	NavigatorOverrides  map[string]string `json:"navigatorOverrides"`
	LocalStorageSeed    map[string]string `json:"localStorageSeed"`
}

// browserVariant ties a user agent template to the platform string the same
// browser would report, so the pair never disagrees.
type browserVariant struct {
	userAgent string
	platform  string
}

var browserVariants = []browserVariant{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:  "Win32",
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		platform:  "Win32",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:  "MacIntel",
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		platform:  "Win32",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:127.0) Gecko/20100101 Firefox/127.0",
		platform:  "MacIntel",
	},
}

// locale pairs a language tag with a timezone from the same region.
type locale struct {
	language string
	timezone string
}

var locales = []locale{
	{"en-US", "America/New_York"},
	{"en-GB", "Europe/London"},
	{"es-ES", "Europe/Madrid"},
	{"fr-FR", "Europe/Paris"},
	{"de-DE", "Europe/Berlin"},
}

var viewports = []Viewport{
	{1920, 1080},
	{1536, 864},
	{1366, 768},
	{2560, 1440},
}

var (
	pixelRatios   = []float64{1, 1.25, 1.5, 2}
	concurrencies = []int{4, 8, 12, 16}
	deviceMemory  = []int{4, 8, 16}
)

// newFingerprint generates one coherent fingerprint using rng.
func newFingerprint(rng *rand.Rand) *Fingerprint {
	variant := browserVariants[rng.IntN(len(browserVariants))]
	loc := locales[rng.IntN(len(locales))]
	vp := viewports[rng.IntN(len(viewports))]

	fp := &Fingerprint{
		ID:                  uuid.NewString(),
		UserAgent:           variant.userAgent,
		Platform:            variant.platform,
		Language:            loc.language,
		Timezone:            loc.timezone,
		Viewport:            vp,
		DevicePixelRatio:    pixelRatios[rng.IntN(len(pixelRatios))],
		HardwareConcurrency: concurrencies[rng.IntN(len(concurrencies))],
		DeviceMemory:        deviceMemory[rng.IntN(len(deviceMemory))],
	}

	fp.NavigatorOverrides = map[string]string{
		"webdriver":           "false",
		"platform":            fp.Platform,
		"language":            fp.Language,
		"hardwareConcurrency": fmt.Sprintf("%d", fp.HardwareConcurrency),
		"deviceMemory":        fmt.Sprintf("%d", fp.DeviceMemory),
		"maxTouchPoints":      "0",
	}
	fp.LocalStorageSeed = seedLocalStorage(rng)

	return fp
}

// seedLocalStorage fabricates the handful of localStorage entries the
// provider's bot detection reads. Values are randomized within plausible
// ranges for a returning visitor.
func seedLocalStorage(rng *rand.Rand) map[string]string {
	visits := 2 + rng.IntN(30)
	lastSeenDaysAgo := 1 + rng.IntN(14)
	return map[string]string{
		"session_count":   fmt.Sprintf("%d", visits),
		"last_visit_days": fmt.Sprintf("%d", lastSeenDaysAgo),
		"consent":         "granted",
		"volume":          fmt.Sprintf("0.%d", 5+rng.IntN(5)),
		"player_quality":  []string{"auto", "1080", "720"}[rng.IntN(3)],
	}
}
