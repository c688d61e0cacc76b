package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSessionFile(t *testing.T, dir, name string, entries []sessionFileEntry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	defer f.Close()
	for _, e := range entries {
		data, merr := json.Marshal(e)
		if merr != nil {
			t.Fatalf("Marshal() returned error: %v", merr)
		}
		if _, werr := f.Write(append(data, '\n')); werr != nil {
			t.Fatalf("Write() returned error: %v", werr)
		}
	}
	return path
}

func TestParseSessionFile_ParsesValidEntriesAndSkipsBad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := `{"type":"message","role":"human","content":"hi","timestamp":"2026-01-01T00:00:00Z"}
not valid json
{"type":"message","role":"assistant","content":"hello back","timestamp":"2026-01-01T00:01:00Z"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %v", err)
	}

	msgs, err := parseSessionFile(path)
	if err != nil {
		t.Fatalf("parseSessionFile() returned error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("parseSessionFile() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[1].Content != "hello back" {
		t.Errorf("parseSessionFile() = %v", msgs)
	}
}

func TestRecentSessionFiles_ExcludesCurrentAndNonJSONL(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl")
	b := filepath.Join(dir, "b.jsonl")
	_ = os.WriteFile(a, []byte("{}"), 0o644)
	_ = os.WriteFile(b, []byte("{}"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("{}"), 0o644)

	got := recentSessionFiles(dir, 5, b)
	if len(got) != 1 || got[0] != a {
		t.Errorf("recentSessionFiles() = %v, want only %q", got, a)
	}
}

func TestRecentSessionFiles_RespectsLimit(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		_ = os.WriteFile(filepath.Join(dir, time.Now().Add(time.Duration(i)*time.Second).Format("150405")+".jsonl"), []byte("{}"), 0o644)
	}
	got := recentSessionFiles(dir, 2, "")
	if len(got) != 2 {
		t.Errorf("recentSessionFiles() returned %d files, want capped at 2", len(got))
	}
}

func TestConsolidationEngine_SyncGlobalNarrative_IngestsFreshMessagesOnly(t *testing.T) {
	gw := &stubGateway{result: CompletionResult{Text: "updated narrative from sync"}}
	e, dir := newTestEngine(t, gw)

	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := e.story.Write("the prior story", anchor); err != nil {
		t.Fatalf("Write() returned error: %v", err)
	}

	sessionsDir := filepath.Join(dir, "sessions")
	_ = os.MkdirAll(sessionsDir, 0o755)
	writeSessionFile(t, sessionsDir, "old-session.jsonl", []sessionFileEntry{
		{Type: "message", Role: "human", Content: "an old message before the anchor", Timestamp: anchor.Add(-time.Hour).Format(time.RFC3339)},
		{Type: "message", Role: "human", Content: "a fresh message after the anchor", Timestamp: anchor.Add(time.Hour).Format(time.RFC3339)},
		{Type: "message", Role: "human", Content: "HEARTBEAT_OK", Timestamp: anchor.Add(2 * time.Hour).Format(time.RFC3339)},
	})

	if err := e.SyncGlobalNarrative(context.Background(), DefaultScope, sessionsDir, ""); err != nil {
		t.Fatalf("SyncGlobalNarrative() returned error: %v", err)
	}

	if gw.calls != 1 {
		t.Errorf("gateway.calls = %d, want 1 (one flush for the single fresh message)", gw.calls)
	}

	state, err := e.story.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if state.Body != "updated narrative from sync" {
		t.Errorf("story body = %q, want the synced narrative", state.Body)
	}
}

func TestConsolidationEngine_SyncGlobalNarrative_LockHeldIsNoop(t *testing.T) {
	gw := &stubGateway{result: CompletionResult{Text: "should never be used"}}
	e, dir := newTestEngine(t, gw)

	if err := e.lock.Acquire(); err != nil {
		t.Fatalf("Acquire() returned error: %v", err)
	}
	defer e.lock.Release()

	sessionsDir := filepath.Join(dir, "sessions")
	_ = os.MkdirAll(sessionsDir, 0o755)

	if err := e.SyncGlobalNarrative(context.Background(), DefaultScope, sessionsDir, ""); err != nil {
		t.Fatalf("SyncGlobalNarrative() returned error: %v", err)
	}
	if gw.calls != 0 {
		t.Error("SyncGlobalNarrative() should not touch the gateway while the lock is held elsewhere")
	}
}

func TestConsolidationEngine_SyncStoryWithSession_SkipsHeartbeatsAndStale(t *testing.T) {
	gw := &stubGateway{result: CompletionResult{Text: "synced from session"}}
	e, _ := newTestEngine(t, gw)

	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = e.story.Write("prior", anchor)

	messages := []SessionMessage{
		{Type: "message", Role: RoleHuman, Content: "HEARTBEAT_OK", Timestamp: anchor.Add(time.Hour)},
		{Type: "message", Role: RoleHuman, Content: "a real message", Timestamp: anchor.Add(2 * time.Hour)},
		{Type: "message", Role: RoleHuman, Content: "too old to matter", Timestamp: anchor.Add(-time.Hour)},
	}
	e.SyncStoryWithSession(context.Background(), messages)

	if gw.calls != 1 {
		t.Errorf("gateway.calls = %d, want 1", gw.calls)
	}
	if gw.lastRequest.Prompt == "" {
		t.Error("expected a non-empty synthesis prompt")
	}
}

func TestConsolidationEngine_FlushInChunks_NoMessagesIsNoop(t *testing.T) {
	gw := &stubGateway{result: CompletionResult{Text: "should not be called"}}
	e, _ := newTestEngine(t, gw)
	if err := e.flushInChunks(context.Background(), nil, "current"); err != nil {
		t.Fatalf("flushInChunks() returned error: %v", err)
	}
	if gw.calls != 0 {
		t.Error("flushInChunks() should not call the gateway with no messages")
	}
}

func TestConsolidationEngine_FlushInChunks_SplitsOversizedBatches(t *testing.T) {
	gw := &stubGateway{result: CompletionResult{Text: "chunked narrative"}}
	e, _ := newTestEngine(t, gw)
	e.SafeTokenLimit = 10

	now := time.Now()
	messages := []SessionMessage{
		{Role: RoleHuman, Content: "this message is long enough to exceed the tiny safe token limit on its own", Timestamp: now},
		{Role: RoleHuman, Content: "and so is this second one, also long enough to exceed the limit", Timestamp: now.Add(time.Minute)},
	}
	if err := e.flushInChunks(context.Background(), messages, ""); err != nil {
		t.Fatalf("flushInChunks() returned error: %v", err)
	}
	if gw.calls < 2 {
		t.Errorf("gateway.calls = %d, want at least 2 flushes for oversized batches", gw.calls)
	}
}
