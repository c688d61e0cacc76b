package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	defaultTokenThreshold  = 5000
	defaultSafeTokenLimit  = 4000
	bootstrapDoneFlagName  = ".graphiti-bootstrap-done"
	historicalMemoryDirName = "memory"
)

// ConsolidationEngine keeps STORY.md in sync with the growing backlog of
// non-heartbeat turns, compresses it when oversized, and honours exclusive
// access across concurrent agent processes.
type ConsolidationEngine struct {
	adapter  GraphAdapter
	gateway  CompletionGateway
	pending  *PendingEpisodeLog
	story    *Story
	lock     *NarrativeLock
	identity IdentityBundle

	workspaceDir string

	TokenThreshold       int
	SafeTokenLimit       int
	AutoBootstrapHistory bool
}

func NewConsolidationEngine(adapter GraphAdapter, gateway CompletionGateway, pending *PendingEpisodeLog, story *Story, lock *NarrativeLock, workspaceDir string) *ConsolidationEngine {
	return &ConsolidationEngine{
		adapter:        adapter,
		gateway:        gateway,
		pending:        pending,
		story:          story,
		lock:           lock,
		workspaceDir:   workspaceDir,
		TokenThreshold: defaultTokenThreshold,
		SafeTokenLimit: defaultSafeTokenLimit,
	}
}

func (e *ConsolidationEngine) SetIdentity(id IdentityBundle) { e.identity = id }

// CheckAndConsolidate is the batch trigger: it fires a narrative update once
// the pending log crosses the token threshold, or bootstraps from history on
// first run.
func (e *ConsolidationEngine) CheckAndConsolidate(ctx context.Context, scope Scope) error {
	if err := e.lock.Acquire(); err != nil {
		return nil // LockHeld: skip this run cycle, noop.
	}
	defer func() { _ = e.lock.Release() }()

	state, err := e.story.Load()
	if err != nil {
		return fmt.Errorf("load story: %w", err)
	}
	if state.IsNew {
		return e.coldStartBootstrap(ctx, scope)
	}

	status, err := e.pending.Status()
	if err != nil {
		return fmt.Errorf("pending status: %w", err)
	}
	if status.IsZero() {
		return nil
	}
	if status.Tokens < e.TokenThreshold {
		return nil
	}

	transcript, err := e.pending.ReadTranscript()
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		episodes, gerr := e.adapter.GetEpisodesSince(ctx, scope, state.LastProcessed, 0)
		if gerr != nil {
			return nil // PendingLogMissing + graph unavailable: defer.
		}
		transcript = joinEpisodeBodies(episodes)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	anchor := maxTimestampInTranscript(transcript, state.LastProcessed)
	if err := e.updateNarrativeStory(ctx, transcript, state.Body, anchor); err != nil {
		return fmt.Errorf("update narrative story: %w", err)
	}
	return e.pending.Reset()
}

// coldStartBootstrap synthesizes an initial Story from the historical
// memory directory when none exists yet, chunking files dynamically so no
// single synthesis prompt exceeds the safe token limit.
func (e *ConsolidationEngine) coldStartBootstrap(ctx context.Context, scope Scope) error {
	historyDir := filepath.Join(e.workspaceDir, historicalMemoryDirName)
	files := listHistoricalFiles(historyDir)

	if !e.AutoBootstrapHistory || len(files) == 0 {
		return e.story.WriteSkeleton()
	}

	var batch strings.Builder
	batchTokens := 0
	currentStory := ""
	var anchor time.Time

	flush := func() error {
		if strings.TrimSpace(batch.String()) == "" {
			return nil
		}
		if anchor.IsZero() {
			anchor = time.Now().UTC()
		}
		newStory, err := e.synthesizeNarrative(ctx, batch.String(), currentStory, anchor)
		if err != nil {
			return err
		}
		currentStory = newStory
		if werr := e.story.Write(newStory, anchor); werr != nil {
			return werr
		}
		batch.Reset()
		batchTokens = 0
		return nil
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue // unreadable historical file: skip it rather than fail the whole bootstrap.
		}
		content := string(data)
		fileTokens := estimateTokens(content)

		if batchTokens+fileTokens > e.SafeTokenLimit && batchTokens > 0 {
			if err := flush(); err != nil {
				return err
			}
		}

		if d := parseHistoricalFileDate(filepath.Base(file)); !d.IsZero() && d.After(anchor) {
			anchor = d
		}
		batch.WriteString(content)
		batch.WriteString("\n---\n")
		batchTokens += fileTokens
	}
	if err := flush(); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(e.workspaceDir, bootstrapDoneFlagName), []byte("1"), 0o644)
}

// updateNarrativeStory builds a synthesis prompt, validates the response,
// compresses it if oversized, and persists it with the batch's max
// timestamp as the anchor.
func (e *ConsolidationEngine) updateNarrativeStory(ctx context.Context, transcript, currentStory string, anchor time.Time) error {
	newStory, err := e.synthesizeNarrative(ctx, transcript, currentStory, anchor)
	if err != nil {
		return err
	}
	return e.story.Write(newStory, anchor)
}

func (e *ConsolidationEngine) synthesizeNarrative(ctx context.Context, transcript, currentStory string, anchor time.Time) (string, error) {
	if e.gateway == nil {
		return currentStory, nil // CompletionEmpty: keep the unchanged Story.
	}

	prompt := buildSynthesisPrompt(transcript, currentStory, e.identity)
	result, err := e.gateway.Complete(ctx, CompletionRequest{Prompt: prompt, Temperature: 0})
	if err != nil || result.Text == "" {
		return currentStory, nil
	}

	newStory := result.Text
	if wordCount(newStory) > maxStoryWords {
		compressed, cerr := e.compress(ctx, newStory)
		if cerr == nil && compressed != "" {
			newStory = compressed
		}
		// StoryTooLong with a failed compression: keep the uncompressed text.
	}
	return newStory, nil
}

func (e *ConsolidationEngine) compress(ctx context.Context, story string) (string, error) {
	prompt := buildCompressionPrompt(story)
	result, err := e.gateway.Complete(ctx, CompletionRequest{Prompt: prompt, Temperature: 0})
	if err != nil || result.Text == "" {
		return "", fmt.Errorf("compression failed")
	}
	return result.Text, nil
}

func buildSynthesisPrompt(transcript, currentStory string, identity IdentityBundle) string {
	mode := "update"
	if strings.TrimSpace(currentStory) == "" {
		mode = "bootstrap"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	b.WriteString("You are a first-person narrator; use I/me/my throughout. ")
	b.WriteString("Do not duplicate prior events; focus on growth. ")
	b.WriteString("Chapter headers use the exact format '### [YYYY-MM-DD HH:MM] Title'. ")
	b.WriteString("Paragraphs are separated by a blank line. Keep the whole narrative to 4000 characters or fewer. ")
	b.WriteString("Never emit any identity headers in your output, even though the identity bundle below is given for context.\n\n")
	b.WriteString("Identity bundle (context only, do not echo):\n")
	b.WriteString(identity.Soul)
	b.WriteString("\n\n")
	b.WriteString("Current story so far:\n")
	if strings.TrimSpace(currentStory) == "" {
		b.WriteString("(none yet)")
	} else {
		b.WriteString(currentStory)
	}
	b.WriteString("\n\nNew turns to narrativize:\n")
	b.WriteString(transcript)
	return b.String()
}

func buildCompressionPrompt(story string) string {
	var b strings.Builder
	b.WriteString("Compress the following first-person narrative to 4000 words or fewer. ")
	b.WriteString("Preserve the narrator's voice, all chapter headers, and the emotional arc.\n\n")
	b.WriteString(story)
	return b.String()
}

func joinEpisodeBodies(episodes []Episode) string {
	bodies := make([]string, 0, len(episodes))
	for _, e := range episodes {
		bodies = append(bodies, e.Body)
	}
	return strings.Join(bodies, "\n---\n")
}

var logEntryTimestampRe = regexp.MustCompile(`^\[([^\]]+)\]`)

// maxTimestampInTranscript scans "[<iso>] ..." entries and returns the
// maximum parseable timestamp found, falling back to `fallback` (never
// regressing the anchor) if none parse.
func maxTimestampInTranscript(transcript string, fallback time.Time) time.Time {
	max := fallback
	for _, line := range strings.Split(transcript, "\n") {
		m := logEntryTimestampRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, m[1]); err == nil && t.After(max) {
			max = t
		}
	}
	if max.IsZero() {
		max = time.Now().UTC()
	}
	return max
}

func listHistoricalFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isHistoricalFilename(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files
}

func isHistoricalFilename(name string) bool {
	if len(name) < 10 {
		return false
	}
	datePart := name[:10]
	_, err := time.Parse("2006-01-02", datePart)
	return err == nil && strings.HasSuffix(name, ".md")
}

func parseHistoricalFileDate(name string) time.Time {
	if len(name) < 10 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", name[:10])
	if err != nil {
		return time.Time{}
	}
	return t
}
