package subtitles

import (
	"errors"
	"strings"
	"testing"
)

func TestSRTToWebVTTFixture(t *testing.T) {
	in := strings.Join([]string{
		"1",
		"00:00:01,000 --> 00:00:03,500",
		"Hello world",
		"",
		"2",
		"00:00:04,000 --> 00:00:05,000",
		`<font color="red">Red</font> text`,
		"",
	}, "\n")

	want := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:03.500\nHello world\n\n2\n00:00:04.000 --> 00:00:05.000\nRed text\n\n"
	got, err := SRTToWebVTT(in)
	if err != nil {
		t.Fatalf("SRTToWebVTT: %v", err)
	}
	if got != want {
		t.Fatalf("output mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestSRTToWebVTTDeterministic(t *testing.T) {
	in := "1\n00:12:01,050 --> 00:12:03,200\nline one\nline two\n\n2\n00:12:04,000 --> 00:12:06,000\n<i>kept</i>\n"
	a, err := SRTToWebVTT(in)
	if err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	b, err := SRTToWebVTT(in)
	if err != nil {
		t.Fatalf("second conversion: %v", err)
	}
	if a != b {
		t.Fatal("conversion is not deterministic")
	}
	if !strings.Contains(a, "<i>kept</i>") {
		t.Error("inline style tags must be preserved")
	}
	if !strings.Contains(a, "line one\nline two") {
		t.Error("multi-line cue text must keep its line breaks")
	}
}

func TestSRTToWebVTTCRLFAndRenumbering(t *testing.T) {
	in := "7\r\n00:00:01,000 --> 00:00:02,000\r\nfirst\r\n\r\n9\r\n00:00:03,000 --> 00:00:04,000\r\nsecond\r\n"
	got, err := SRTToWebVTT(in)
	if err != nil {
		t.Fatalf("SRTToWebVTT: %v", err)
	}
	// Cues are renumbered 1..n regardless of the input indices.
	if !strings.HasPrefix(got, "WEBVTT\n\n1\n00:00:01.000") {
		t.Fatalf("first cue wrong:\n%s", got)
	}
	if !strings.Contains(got, "\n2\n00:00:03.000 --> 00:00:04.000\nsecond\n") {
		t.Fatalf("second cue wrong:\n%s", got)
	}
}

func TestSRTToWebVTTDiscardsMalformedCues(t *testing.T) {
	blocks := []string{
		"1\n00:00:01,000 --> 00:00:02,000\ngood one",
		"2\nnot a timestamp\nbad",
		"3\n00:00:03,000 --> 00:00:04,000\ngood two",
		"4\n00:00:05,000 --> 00:00:05,050\ntoo short",
		"5\n00:00:06,000 --> 00:00:07,000\ngood three",
		"6\n00:00:08,000 --> 00:00:09,000\n<font color=\"red\"></font>",
		"7\n00:00:10,000 --> 00:00:11,000\ngood four",
		"8\n00:00:12,000 --> 00:00:13,000\ngood five",
		"9\n00:00:14,000 --> 00:00:15,000\ngood six",
		"10\n00:00:16,000 --> 00:00:17,000\ngood seven",
		"11\n00:00:18,000 --> 00:00:19,000\ngood eight",
		"12\n00:00:20,000 --> 00:00:21,000\ngood nine",
		"13\n00:00:22,000 --> 00:00:23,000\ngood ten",
		"14\n00:00:24,000 --> 00:00:25,000\ngood eleven",
		"15\n00:00:26,000 --> 00:00:27,000\ngood twelve",
	}
	got, err := SRTToWebVTT(strings.Join(blocks, "\n\n"))
	if err != nil {
		t.Fatalf("12 of 15 blocks parse (80%%), conversion must succeed: %v", err)
	}
	if strings.Contains(got, "bad") || strings.Contains(got, "too short") {
		t.Fatal("malformed cues leaked into output")
	}
	if !strings.Contains(got, "good twelve") {
		t.Fatal("valid cue after malformed ones was dropped")
	}
}

func TestSRTToWebVTTRejectsBelowThreshold(t *testing.T) {
	in := strings.Join([]string{
		"1\nbroken\nx",
		"2\nbroken\ny",
		"3\n00:00:01,000 --> 00:00:02,000\nonly good cue",
	}, "\n\n")
	_, err := SRTToWebVTT(in)
	if !errors.Is(err, ErrBadSubtitleFormat) {
		t.Fatalf("err = %v, want ErrBadSubtitleFormat", err)
	}
}

func TestSRTToWebVTTRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "\n\n\n", "garbage"} {
		if _, err := SRTToWebVTT(in); !errors.Is(err, ErrBadSubtitleFormat) {
			t.Errorf("input %q: err = %v, want ErrBadSubtitleFormat", in, err)
		}
	}
}

func TestIsWebVTT(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"WEBVTT\n\n1\n...", true},
		{"\n  WEBVTT", true},
		{"\uFEFFWEBVTT", true},
		{"1\n00:00:01,000 --> 00:00:02,000\nhi", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWebVTT(tt.body); got != tt.want {
			t.Errorf("IsWebVTT(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
