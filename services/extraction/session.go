package extraction

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"streambridge/models"
)

// Stage is the current position of a session in the iframe chain. Stages
// always execute in declaration order; there is no parallelism across stages
// of one session.
type Stage string

const (
	StageConnecting        Stage = "Connecting"
	StageLoadingVidsrc     Stage = "LoadingVidsrc"
	StageLoadingRcp        Stage = "LoadingRcp"
	StageFindingPlayButton Stage = "FindingPlayButton"
	StageClickingPlay      Stage = "ClickingPlayButton"
	StageLoadingProRcp     Stage = "LoadingProRcp"
	StageLoadingShadow     Stage = "LoadingShadowlands"
	StageExtractingURL     Stage = "ExtractingUrl"
	StageComplete          Stage = "Complete"
	StageFailed            Stage = "Failed"
)

// stageProgress maps each stage to the loading percentage reported to the
// client at stage entry: 10/30/50/70/90 through the chain, 100 on either
// terminal stage.
var stageProgress = map[Stage]int{
	StageConnecting:        10,
	StageLoadingVidsrc:     10,
	StageLoadingRcp:        30,
	StageFindingPlayButton: 50,
	StageClickingPlay:      50,
	StageLoadingProRcp:     70,
	StageLoadingShadow:     90,
	StageExtractingURL:     90,
	StageComplete:          100,
	StageFailed:            100,
}

// stagePhase maps each stage to its human-readable progress phase.
var stagePhase = map[Stage]string{
	StageConnecting:        "Connecting",
	StageLoadingVidsrc:     "Loading vidsrc embed",
	StageLoadingRcp:        "Loading player frame",
	StageFindingPlayButton: "Finding play button",
	StageClickingPlay:      "Starting playback",
	StageLoadingProRcp:     "Loading stream frame",
	StageLoadingShadow:     "Loading stream host",
	StageExtractingURL:     "Extracting stream URL",
	StageComplete:          "Complete",
	StageFailed:            "Failed",
}

// progressBuffer bounds the per-session progress channel; slow consumers
// lose oldest events rather than blocking the engine.
const progressBuffer = 16

// Session is the state of one extraction attempt. Created by the controller,
// mutated only by the engine, discarded once the result is cached.
type Session struct {
	ID          string
	Ref         models.CatalogRef
	Server      string
	Fingerprint string
	StartedAt   time.Time

	mu       sync.Mutex
	stage    Stage
	progress int
	steps    []models.IframeStep
	events   chan models.ProgressEvent
	closed   bool
}

// NewSession creates a session for one attempt against the given server,
// bound to the fingerprint id borrowed for its lifetime.
func NewSession(ref models.CatalogRef, server, fingerprintID string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Ref:         ref,
		Server:      server,
		Fingerprint: fingerprintID,
		StartedAt:   time.Now(),
		stage:       StageConnecting,
		events:      make(chan models.ProgressEvent, progressBuffer),
	}
}

// Events exposes the bounded progress stream. Events are delivered in the
// order emitted; the caller need not consume them.
func (s *Session) Events() <-chan models.ProgressEvent { return s.events }

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Progress returns the current loading percentage.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SetStage transitions the session and emits a progress event. When the
// buffer is full the oldest event is dropped so the producer never blocks.
func (s *Session) SetStage(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
	s.progress = stageProgress[stage]
	slog.Debug("extraction progress",
		"session", s.ID,
		"stage", string(stage),
		"percent", s.progress,
	)
	if s.closed {
		return
	}
	ev := models.ProgressEvent{Percent: s.progress, Phase: stagePhase[stage]}
	select {
	case s.events <- ev:
	default:
		// Buffer full: drop the oldest event, then retry once.
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// AppendStep records one hop in the iframe chain. Steps are append-only.
func (s *Session) AppendStep(kind models.IframeKind, url, outcome string, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Debug("iframe step",
		"session", s.ID,
		"kind", string(kind),
		"outcome", outcome,
		"took", took,
	)
	s.steps = append(s.steps, models.IframeStep{
		Index:    len(s.steps),
		Kind:     kind,
		URL:      url,
		Outcome:  outcome,
		Duration: took,
	})
}

// Steps returns a copy of the recorded chain.
func (s *Session) Steps() []models.IframeStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.IframeStep, len(s.steps))
	copy(out, s.steps)
	return out
}

// ChainSummary assembles the ordered chain the client receives on success.
func (s *Session) ChainSummary() models.ChainSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.ChainSummary
	for _, step := range s.steps {
		switch step.Kind {
		case models.IframeVidsrc:
			c.Vidsrc = step.URL
		case models.IframeCloudnestra:
			c.Cloudnestra = step.URL
		case models.IframeProRcp:
			c.ProRcp = step.URL
		case models.IframeShadowlands:
			c.Shadowlands = step.URL
		}
	}
	return c
}

// Close terminates the progress stream. Called by the controller after the
// attempt finishes; SetStage becomes a no-op afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
