package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T, gateway CompletionGateway) *Service {
	t.Helper()
	dir := t.TempDir()
	adapter := newTestAdapter(t)
	svc, err := NewService(ServiceConfig{
		WorkspaceDir:         dir,
		Adapter:              adapter,
		Gateway:              gateway,
		AutoBootstrapHistory: false,
		ConsolidationWorkers: 1,
	})
	if err != nil {
		t.Fatalf("NewService() returned error: %v", err)
	}
	return svc
}

func TestNewService_RequiresAdapter(t *testing.T) {
	_, err := NewService(ServiceConfig{WorkspaceDir: t.TempDir()})
	if err == nil {
		t.Error("expected an error when no adapter is supplied")
	}
}

func TestNewService_RequiresWorkspaceDir(t *testing.T) {
	_, err := NewService(ServiceConfig{Adapter: &stubAdapter{}})
	if err == nil {
		t.Error("expected an error when no workspace dir is supplied")
	}
}

func TestService_RecordTurn_TracksPendingAndAddsEpisode(t *testing.T) {
	svc := newTestService(t, nil)
	defer svc.Close()
	err := svc.RecordTurn(context.Background(), DefaultScope, RoleHuman, "Alice planned a trip to the coast.", time.Now(), "test")
	if err != nil {
		t.Fatalf("RecordTurn() returned error: %v", err)
	}

	status, err := svc.pending.Status()
	if err != nil {
		t.Fatalf("Status() returned error: %v", err)
	}
	if status.IsZero() {
		t.Error("RecordTurn() should have moved the pending status")
	}

	episodes, err := svc.adapter.GetEpisodesSince(context.Background(), DefaultScope, time.Time{}, 0)
	if err != nil {
		t.Fatalf("GetEpisodesSince() returned error: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("GetEpisodesSince() returned %d episodes, want 1", len(episodes))
	}
}

func TestService_RecordTurn_HeartbeatSkipsEpisode(t *testing.T) {
	svc := newTestService(t, nil)
	if err := svc.RecordTurn(context.Background(), DefaultScope, RoleHuman, "HEARTBEAT_OK", time.Now(), "test"); err != nil {
		t.Fatalf("RecordTurn() returned error: %v", err)
	}

	episodes, err := svc.adapter.GetEpisodesSince(context.Background(), DefaultScope, time.Time{}, 0)
	if err != nil {
		t.Fatalf("GetEpisodesSince() returned error: %v", err)
	}
	if len(episodes) != 0 {
		t.Errorf("GetEpisodesSince() returned %d episodes, want 0 for a heartbeat turn", len(episodes))
	}
}

func TestService_Resonate_ReturnsEmptyWithNoGraphContent(t *testing.T) {
	svc := newTestService(t, nil)
	got := svc.Resonate(context.Background(), ResonanceRequest{CurrentPrompt: "anything at all"})
	if got != "" {
		t.Errorf("Resonate() = %q, want empty with nothing in the graph yet", got)
	}
}

func TestService_Resonate_SkipResonanceShortCircuits(t *testing.T) {
	dir := t.TempDir()
	adapter := newTestAdapter(t)
	svc, err := NewService(ServiceConfig{
		WorkspaceDir:  dir,
		Adapter:       adapter,
		SkipResonance: true,
	})
	if err != nil {
		t.Fatalf("NewService() returned error: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	if _, err := svc.adapter.AddEpisode(ctx, DefaultScope, "Marcos lives near the coast", time.Now().Add(-48*time.Hour), EpisodeMeta{}); err != nil {
		t.Fatalf("AddEpisode() returned error: %v", err)
	}

	got := svc.Resonate(ctx, ResonanceRequest{Scope: DefaultScope, CurrentPrompt: "tell me about Marcos"})
	if got != "" {
		t.Errorf("Resonate() = %q, want empty when SkipResonance is set even with matching graph content", got)
	}
}

func TestService_SetIdentity_PropagatesToEngine(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetIdentity(IdentityBundle{Soul: "a calm, curious assistant"})
	if svc.engine.identity.Soul != "a calm, curious assistant" {
		t.Errorf("engine identity = %q, want propagated value", svc.engine.identity.Soul)
	}
}

func TestService_SyncAfterCompaction_NeverPanicsOnEmptyMessages(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SyncAfterCompaction(context.Background(), nil)
}

func TestService_SyncOnStartup_EmptySessionsDirIsNoop(t *testing.T) {
	svc := newTestService(t, nil)
	err := svc.SyncOnStartup(context.Background(), DefaultScope, filepath.Join(t.TempDir(), "nonexistent"), "")
	if err != nil {
		t.Fatalf("SyncOnStartup() returned error: %v", err)
	}
}

func TestService_Close_ClosesAdapterAndDrainsScheduler(t *testing.T) {
	svc := newTestService(t, nil)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
}
