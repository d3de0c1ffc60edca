package subtitles

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrBadSubtitleFormat is returned when an SRT body fails validation: fewer
// than 80% of its blocks parse, or no cue survives at all.
var ErrBadSubtitleFormat = errors.New("subtitle body failed SRT validation")

// srtTimestampPattern matches one SRT timing line. Millisecond separator is
// a comma; WebVTT wants a dot.
var srtTimestampPattern = regexp.MustCompile(
	`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})$`)

// fontTagPattern strips <font ...> wrappers while keeping their content.
var fontTagPattern = regexp.MustCompile(`(?i)</?font[^>]*>`)

// blockSplitPattern splits an SRT document on one-or-more blank lines.
var blockSplitPattern = regexp.MustCompile(`\n{2,}`)

// minCueDuration rejects cues too short to display.
const minCueDuration = 100 * time.Millisecond

// IsWebVTT reports whether the body is already WebVTT: first non-whitespace
// token is the literal header.
func IsWebVTT(body string) bool {
	return strings.HasPrefix(strings.TrimLeft(body, "\uFEFF \t\r\n"), "WEBVTT")
}

// SRTToWebVTT converts an SRT document to WebVTT. The conversion is a pure
// function: identical input yields byte-identical output. Malformed cues are
// discarded individually; the document fails only when fewer than 80% of
// blocks parse or nothing survives.
func SRTToWebVTT(body string) (string, error) {
	normalized := normalizeSRT(body)

	blocks := blockSplitPattern.Split(normalized, -1)
	var total, parsed int
	var out strings.Builder
	out.WriteString("WEBVTT\n\n")

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		total++

		cue, ok := parseBlock(block)
		if !ok {
			continue
		}
		parsed++
		fmt.Fprintf(&out, "%d\n%s --> %s\n%s\n\n", parsed, cue.start, cue.end, cue.text)
	}

	if total == 0 || parsed == 0 || parsed*5 < total*4 {
		return "", fmt.Errorf("%w: %d of %d blocks parsed", ErrBadSubtitleFormat, parsed, total)
	}
	return out.String(), nil
}

// normalizeSRT drops the BOM and normalizes line endings to \n.
func normalizeSRT(body string) string {
	body = strings.TrimPrefix(body, "\uFEFF")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\r", "\n")
}

type cue struct {
	start, end string
	text       string
}

// parseBlock validates one SRT block: integer index line, timing line, and
// non-empty text with at least the minimum duration.
func parseBlock(block string) (cue, bool) {
	lines := strings.Split(block, "\n")
	if len(lines) < 3 {
		return cue{}, false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
		return cue{}, false
	}

	m := srtTimestampPattern.FindStringSubmatch(strings.TrimSpace(lines[1]))
	if m == nil {
		return cue{}, false
	}
	start := timestampMillis(m[1:5])
	end := timestampMillis(m[5:9])
	if end-start < minCueDuration {
		return cue{}, false
	}

	var textLines []string
	for _, line := range lines[2:] {
		line = fontTagPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line != "" {
			textLines = append(textLines, line)
		}
	}
	if len(textLines) == 0 {
		return cue{}, false
	}

	return cue{
		start: webvttTimestamp(m[1:5]),
		end:   webvttTimestamp(m[5:9]),
		text:  strings.Join(textLines, "\n"),
	}, true
}

// timestampMillis converts the four captured components to a duration.
func timestampMillis(parts []string) time.Duration {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(ms)*time.Millisecond
}

// webvttTimestamp renders the captured components with the dot separator.
func webvttTimestamp(parts []string) string {
	return fmt.Sprintf("%s:%s:%s.%s", parts[0], parts[1], parts[2], parts[3])
}
