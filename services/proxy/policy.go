package proxy

import (
	"net/http"

	"streambridge/models"
)

// desktopUA is the identity presented to upstream CDNs. Kept in the same
// family as the stealth fingerprints so proxied segment requests look like
// they came from the page that extracted them.
const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// HeaderPolicy is the outbound identity for one stream source.
type HeaderPolicy struct {
	Origin  string
	Referer string
}

// policies maps each source tag to the Origin/Referer pair its CDN expects.
// Shadowlands edges validate against the CloudNestra player page; the embed
// hosts validate against themselves.
var policies = map[models.ProxySource]HeaderPolicy{
	models.ProxySourceShadowlands: {Origin: "https://cloudnestra.com", Referer: "https://cloudnestra.com/"},
	models.ProxySourceVidsrc:      {Origin: "https://vidsrc.xyz", Referer: "https://vidsrc.xyz/"},
	models.ProxySourceEmbedSu:     {Origin: "https://embed.su", Referer: "https://embed.su/"},
	models.ProxySourceCloudnestra: {Origin: "https://cloudnestra.com", Referer: "https://cloudnestra.com/"},
}

// PolicyFor returns the header policy for a source tag. Unknown tags get the
// shadowlands policy, the most common case for tokenized stream URLs.
func PolicyFor(source models.ProxySource) HeaderPolicy {
	if p, ok := policies[source]; ok {
		return p
	}
	return policies[models.ProxySourceShadowlands]
}

// Apply sets the policy headers and user agent on an outbound request.
func (p HeaderPolicy) Apply(req *http.Request) {
	req.Header.Set("Origin", p.Origin)
	req.Header.Set("Referer", p.Referer)
	req.Header.Set("User-Agent", desktopUA)
	req.Header.Set("Accept", "*/*")
}
