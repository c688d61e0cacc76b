package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// ServiceConfig bundles everything Service needs to construct its
// sub-components: a graph adapter, an optional completion gateway, and the
// workspace directory that Story/PendingEpisodeLog/NarrativeLock live under.
type ServiceConfig struct {
	WorkspaceDir string

	Adapter GraphAdapter
	Gateway CompletionGateway

	SeedModel     string
	FallbackModel string

	TokenThreshold       int
	SafeTokenLimit       int
	AutoBootstrapHistory bool

	LockPath      string
	StoryFilename string

	ConsolidationWorkers int

	// SkipResonance mirrors the MIND_SKIP_RESONANCE config key: when set,
	// Resonate short-circuits to "" without running the pipeline, retaining
	// only Story injection (which the caller handles separately).
	SkipResonance bool
}

// Service is the single entry point the surrounding agent invokes once per
// turn: RecordTurn records the turn, Resonate returns the block to inject
// ahead of the model call, and Close stops the background consolidation
// workers.
type Service struct {
	pending    *PendingEpisodeLog
	echoBuffer *EchoBuffer
	story      *Story
	lock       *NarrativeLock
	engine     *ConsolidationEngine
	pipeline   *ResonancePipeline
	scheduler  *ConsolidationScheduler

	adapter GraphAdapter

	skipResonance bool
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("memory: adapter is required")
	}
	if cfg.WorkspaceDir == "" {
		return nil, fmt.Errorf("memory: workspace dir is required")
	}

	storyFilename := cfg.StoryFilename
	if storyFilename == "" {
		storyFilename = defaultStoryFilename
	}

	pending := NewPendingEpisodeLog(cfg.WorkspaceDir)
	echoBuffer := NewEchoBuffer()
	story := NewStory(filepath.Join(cfg.WorkspaceDir, storyFilename))
	lock := NewNarrativeLock(cfg.LockPath)

	engine := NewConsolidationEngine(cfg.Adapter, cfg.Gateway, pending, story, lock, cfg.WorkspaceDir)
	if cfg.TokenThreshold > 0 {
		engine.TokenThreshold = cfg.TokenThreshold
	}
	if cfg.SafeTokenLimit > 0 {
		engine.SafeTokenLimit = cfg.SafeTokenLimit
	}
	engine.AutoBootstrapHistory = cfg.AutoBootstrapHistory

	var gateway CompletionGateway = cfg.Gateway
	pipeline := NewResonancePipeline(cfg.Adapter, gateway, echoBuffer, cfg.SeedModel)

	scheduler := NewConsolidationScheduler(engine, cfg.ConsolidationWorkers)

	return &Service{
		pending:       pending,
		echoBuffer:    echoBuffer,
		story:         story,
		lock:          lock,
		engine:        engine,
		pipeline:      pipeline,
		scheduler:     scheduler,
		adapter:       cfg.Adapter,
		skipResonance: cfg.SkipResonance,
	}, nil
}

// SetIdentity propagates the caller's persona/soul + ongoing Story into the
// consolidation engine's synthesis prompts.
func (s *Service) SetIdentity(id IdentityBundle) { s.engine.SetIdentity(id) }

// Resonate runs the resonance pipeline for the current turn and returns the
// serialized ResonanceBlock, or "" if nothing resonates. When SkipResonance
// is set (MIND_SKIP_RESONANCE=1), it short-circuits to "" without running
// the pipeline at all — the caller still injects the Story separately, so
// this only bypasses flashback retrieval, not Story context.
func (s *Service) Resonate(ctx context.Context, req ResonanceRequest) string {
	if s.skipResonance {
		return ""
	}
	return s.pipeline.Run(ctx, req)
}

// RecordTurn appends a turn to the pending episode log (a no-op for
// heartbeats) and, for every non-heartbeat turn whatever its role, adds an
// episode to the adapter. It then asynchronously requests a
// consolidation check for scope — the actual synthesis work never blocks
// this call.
func (s *Service) RecordTurn(ctx context.Context, scope Scope, role Role, body string, ts time.Time, source string) error {
	if err := s.pending.Track(body); err != nil {
		return fmt.Errorf("memory: track turn: %w", err)
	}
	if isHeartbeat(body) {
		return nil
	}

	if _, err := s.adapter.AddEpisode(ctx, scope, body, ts, EpisodeMeta{Source: source}); err != nil {
		return fmt.Errorf("memory: add episode: %w", err)
	}

	s.scheduler.RequestConsolidation(scope)
	return nil
}

// SyncOnStartup runs the global narrative sync, recovering un-narrated
// turns left behind by prior sessions before the first live turn is served.
func (s *Service) SyncOnStartup(ctx context.Context, scope Scope, sessionsDir, currentSessionPath string) error {
	return s.engine.SyncGlobalNarrative(ctx, scope, sessionsDir, currentSessionPath)
}

// SyncAfterCompaction is a fire-and-forget hook invoked right after a
// context-window compaction event. It never returns an error: failures are
// logged internally and absorbed.
func (s *Service) SyncAfterCompaction(ctx context.Context, messages []SessionMessage) {
	s.engine.SyncStoryWithSession(ctx, messages)
}

// Close stops the background consolidation workers and the underlying
// graph adapter connection.
func (s *Service) Close() error {
	s.scheduler.Close()
	return s.adapter.Close()
}
