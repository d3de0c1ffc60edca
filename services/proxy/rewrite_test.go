package proxy

import (
	"strings"
	"testing"

	"streambridge/models"
)

func TestRewriteManifestLiteralFixture(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nhttps://cdn.example/1080p/index.m3u8\n"
	out := string(RewriteManifest([]byte(in), "https://cdn.example/master.m3u8", models.ProxySourceShadowlands))

	want := "/api/stream-proxy?url=https%3A%2F%2Fcdn.example%2F1080p%2Findex.m3u8&source=shadowlands"
	lines := strings.Split(out, "\n")
	if len(lines) < 3 || lines[2] != want {
		t.Fatalf("rewritten URI line = %q, want %q", lines[2], want)
	}
	if lines[0] != "#EXTM3U" || lines[1] != "#EXT-X-STREAM-INF:BANDWIDTH=1280000" {
		t.Fatalf("tag lines were modified: %q", out)
	}
}

func TestRewriteManifestRelativeURIs(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:6",
		"seg/00001.ts",
		"../alt/00002.ts",
		"",
	}, "\n")
	out := string(RewriteManifest([]byte(in), "https://cdn.example/v/720p/index.m3u8", models.ProxySourceVidsrc))

	if !strings.Contains(out, "url=https%3A%2F%2Fcdn.example%2Fv%2F720p%2Fseg%2F00001.ts&source=vidsrc") {
		t.Fatalf("relative segment not resolved against manifest URL:\n%s", out)
	}
	if !strings.Contains(out, "url=https%3A%2F%2Fcdn.example%2Fv%2Falt%2F00002.ts&source=vidsrc") {
		t.Fatalf("parent-relative segment not resolved:\n%s", out)
	}
}

func TestRewriteManifestURIAttributes(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		`#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example/k1",IV=0x1234`,
		`#EXT-X-MAP:URI="init.mp4"`,
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio/index.m3u8"`,
		`#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS="avc1.4d401f"`,
		"low/index.m3u8",
	}, "\n")
	out := string(RewriteManifest([]byte(in), "https://cdn.example/v/index.m3u8", models.ProxySourceEmbedSu))

	for _, want := range []string{
		`#EXT-X-KEY:METHOD=AES-128,URI="/api/stream-proxy?url=https%3A%2F%2Fkeys.example%2Fk1&source=embed.su",IV=0x1234`,
		`#EXT-X-MAP:URI="/api/stream-proxy?url=https%3A%2F%2Fcdn.example%2Fv%2Finit.mp4&source=embed.su"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing rewritten attribute line %q in:\n%s", want, out)
		}
	}
	// CODECS attribute values must never be touched even though they are quoted.
	if !strings.Contains(out, `CODECS="avc1.4d401f"`) {
		t.Errorf("non-URI attribute was modified:\n%s", out)
	}
}

func TestIsManifest(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"apple content type", "application/vnd.apple.mpegurl", "", true},
		{"x-mpegurl", "audio/x-mpegurl", "", true},
		{"magic only", "application/octet-stream", "#EXTM3U\n#EXT-X", true},
		{"magic with bom", "text/plain", "\uFEFF#EXTM3U\n", true},
		{"segment bytes", "video/mp2t", "\x47\x40\x11\x10", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsManifest(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("IsManifest(%q, %q) = %v, want %v", tt.contentType, tt.body, got, tt.want)
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		source  models.ProxySource
		origin  string
		referer string
	}{
		{models.ProxySourceShadowlands, "https://cloudnestra.com", "https://cloudnestra.com/"},
		{models.ProxySourceVidsrc, "https://vidsrc.xyz", "https://vidsrc.xyz/"},
		{models.ProxySourceEmbedSu, "https://embed.su", "https://embed.su/"},
		{models.ProxySourceCloudnestra, "https://cloudnestra.com", "https://cloudnestra.com/"},
		{models.ProxySource("unknown"), "https://cloudnestra.com", "https://cloudnestra.com/"},
	}
	for _, tt := range tests {
		p := PolicyFor(tt.source)
		if p.Origin != tt.origin || p.Referer != tt.referer {
			t.Errorf("PolicyFor(%s) = %+v", tt.source, p)
		}
	}
}
