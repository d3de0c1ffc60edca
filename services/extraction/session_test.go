package extraction

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"streambridge/models"
)

func TestSessionStageProgression(t *testing.T) {
	s := NewSession(models.NewMovieRef(550), "vidsrc.xyz", "fp-1")
	defer s.Close()

	order := []Stage{
		StageLoadingVidsrc, StageLoadingRcp, StageFindingPlayButton,
		StageClickingPlay, StageLoadingProRcp, StageLoadingShadow,
		StageExtractingURL, StageComplete,
	}
	last := -1
	for _, stage := range order {
		s.SetStage(stage)
		if s.Stage() != stage {
			t.Fatalf("stage = %s, want %s", s.Stage(), stage)
		}
		if p := s.Progress(); p < last {
			t.Fatalf("progress went backwards at %s: %d < %d", stage, p, last)
		} else {
			last = p
		}
	}
	if s.Progress() != 100 {
		t.Fatalf("final progress = %d, want 100", s.Progress())
	}
}

func TestSessionProgressEventsDropOldest(t *testing.T) {
	s := NewSession(models.NewMovieRef(550), "vidsrc.xyz", "fp-1")
	defer s.Close()

	// Overflow the buffer without a consumer; SetStage must never block.
	for i := 0; i < progressBuffer*3; i++ {
		s.SetStage(StageLoadingRcp)
	}
	s.SetStage(StageComplete)

	// Drain. The newest event must have survived the drops.
	var last models.ProgressEvent
	for {
		select {
		case ev := <-s.Events():
			last = ev
		default:
			if last.Percent != 100 {
				t.Fatalf("last event percent = %d, want 100", last.Percent)
			}
			return
		}
	}
}

func TestSessionSetStageAfterClose(t *testing.T) {
	s := NewSession(models.NewMovieRef(550), "vidsrc.xyz", "fp-1")
	s.Close()
	s.Close()
	// Must not panic on the closed channel.
	s.SetStage(StageFailed)
	if s.Stage() != StageFailed {
		t.Fatalf("stage = %s, want %s", s.Stage(), StageFailed)
	}
}

func TestSessionEmitsStructuredProgressLogs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := NewSession(models.NewMovieRef(550), "vidsrc.xyz", "fp-1")
	defer s.Close()

	s.SetStage(StageLoadingRcp)
	s.AppendStep(models.IframeVidsrc, "https://vidsrc.xyz/embed/movie/550", "ok", 50*time.Millisecond)

	out := buf.String()
	for _, want := range []string{
		`msg="extraction progress"`,
		"stage=LoadingRcp",
		"percent=30",
		`msg="iframe step"`,
		"outcome=ok",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSessionChainSummary(t *testing.T) {
	s := NewSession(models.NewEpisodeRef(1399, 1, 1), "vidsrc.xyz", "fp-1")
	defer s.Close()

	s.AppendStep(models.IframeVidsrc, "https://vidsrc.xyz/embed/tv/1399/1-1", "ok", 120*time.Millisecond)
	s.AppendStep(models.IframeCloudnestra, "https://cloudnestra.com/rcp/abc", "ok", 80*time.Millisecond)
	s.AppendStep(models.IframeProRcp, "https://cloudnestra.com/prorcp/def", "ok", 90*time.Millisecond)
	s.AppendStep(models.IframeShadowlands, "https://shadowlandschronicles.com/pl/x", "ok", 200*time.Millisecond)

	c := s.ChainSummary()
	if c.Vidsrc == "" || c.Cloudnestra == "" || c.ProRcp == "" || c.Shadowlands == "" {
		t.Fatalf("chain summary incomplete: %+v", c)
	}
	steps := s.Steps()
	if len(steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(steps))
	}
	for i, step := range steps {
		if step.Index != i {
			t.Errorf("step %d has index %d", i, step.Index)
		}
	}
}
