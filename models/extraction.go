package models

import "time"

// StreamType describes how the client should play the final URL.
type StreamType string

const (
	StreamTypeHLS    StreamType = "hls"
	StreamTypeDirect StreamType = "direct"
)

// ProxySource selects the header policy the stream proxy applies upstream.
type ProxySource string

const (
	ProxySourceShadowlands ProxySource = "shadowlands"
	ProxySourceVidsrc      ProxySource = "vidsrc"
	ProxySourceEmbedSu     ProxySource = "embed.su"
	ProxySourceCloudnestra ProxySource = "cloudnestra"
)

// IframeKind labels one hop in the embed provider chain.
type IframeKind string

const (
	IframeVidsrc      IframeKind = "vidsrc"
	IframeCloudnestra IframeKind = "cloudnestra"
	IframeProRcp      IframeKind = "prorcp"
	IframeShadowlands IframeKind = "shadowlands"
)

// IframeStep records one hop in the iframe chain. Append-only within a session.
type IframeStep struct {
	Index    int           `json:"index"`
	Kind     IframeKind    `json:"kind"`
	URL      string        `json:"url"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// ChainSummary is the ordered chain of iframe URLs observed during a
// successful extraction, keyed the way the client expects.
type ChainSummary struct {
	Vidsrc      string `json:"vidsrc,omitempty"`
	Cloudnestra string `json:"cloudnestra,omitempty"`
	ProRcp      string `json:"prorcp,omitempty"`
	Shadowlands string `json:"shadowlands,omitempty"`
}

// ExtractionResult is the cached output of a completed extraction.
// If RequiresProxy is true the URL handed to the client must be a stream
// proxy URL whose url parameter equals StreamURL and whose source parameter
// equals Source.
type ExtractionResult struct {
	StreamURL     string       `json:"streamUrl"`
	StreamType    StreamType   `json:"streamType"`
	RequiresProxy bool         `json:"requiresProxy"`
	Source        ProxySource  `json:"source,omitempty"`
	Server        string       `json:"server"`
	Method        string       `json:"extractionMethod"`
	Chain         ChainSummary `json:"chain"`
	ExpiresAt     time.Time    `json:"expiresAt"`
}

// ProgressEvent is emitted by the extraction engine at stage transitions.
type ProgressEvent struct {
	Percent int    `json:"loadingProgress"`
	Phase   string `json:"loadingPhase"`
}
