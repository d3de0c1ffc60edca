package proxy

import (
	"net/url"
	"regexp"
	"strings"

	"streambridge/models"
)

// ProxyPath is the route the rewritten manifest URIs point back at.
const ProxyPath = "/api/stream-proxy"

// uriAttrPattern matches the URI attribute inside EXT-X-KEY, EXT-X-MAP and
// EXT-X-MEDIA tags.
var uriAttrPattern = regexp.MustCompile(`URI="([^"]*)"`)

// uriAttrTags are the tags whose URI attribute references a fetchable
// resource and therefore must route through the proxy.
var uriAttrTags = []string{"#EXT-X-KEY", "#EXT-X-MAP", "#EXT-X-MEDIA"}

// IsManifest reports whether a response should be rewritten: either the
// upstream declared an HLS content type or the body opens with the playlist
// magic.
func IsManifest(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/vnd.apple.mpegurl") ||
		strings.Contains(ct, "application/x-mpegurl") {
		return true
	}
	return strings.HasPrefix(strings.TrimLeft(string(body), "\uFEFF \t\r\n"), "#EXTM3U")
}

// ProxyURL builds the local proxy URL for an upstream resource. The url
// parameter comes first; players and logs read these constantly.
func ProxyURL(upstream string, source models.ProxySource) string {
	return ProxyPath + "?url=" + url.QueryEscape(upstream) + "&source=" + url.QueryEscape(string(source))
}

// RewriteManifest routes every URI in an HLS playlist back through the proxy
// with the same source tag. Tag lines keep their exact text except for URI
// attributes; relative URIs resolve against the manifest's own URL first.
func RewriteManifest(body []byte, manifestURL string, source models.ProxySource) []byte {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return body
	}

	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			// keep blank lines verbatim
		case strings.HasPrefix(trimmed, "#"):
			lines[i] = rewriteTagLine(line, base, source)
		default:
			// URI line: a segment or variant playlist reference.
			resolved := resolveAgainst(base, trimmed)
			lines[i] = strings.Replace(line, trimmed, ProxyURL(resolved, source), 1)
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// rewriteTagLine rewrites the URI attribute of key/map/media tags and leaves
// every other tag untouched.
func rewriteTagLine(line string, base *url.URL, source models.ProxySource) string {
	tagged := false
	for _, tag := range uriAttrTags {
		if strings.HasPrefix(strings.TrimSpace(line), tag) {
			tagged = true
			break
		}
	}
	if !tagged {
		return line
	}
	return uriAttrPattern.ReplaceAllStringFunc(line, func(match string) string {
		sub := uriAttrPattern.FindStringSubmatch(match)
		if len(sub) != 2 || sub[1] == "" {
			return match
		}
		resolved := resolveAgainst(base, sub[1])
		return `URI="` + ProxyURL(resolved, source) + `"`
	})
}

// resolveAgainst makes a URI absolute relative to the manifest URL. Already
// absolute URIs pass through unchanged.
func resolveAgainst(base *url.URL, uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.IsAbs() {
		return uri
	}
	return base.ResolveReference(u).String()
}
