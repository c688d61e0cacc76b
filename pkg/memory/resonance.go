package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ResonancePipeline produces a ResonanceBlock for the current turn, or the
// empty string if nothing resonates. It is single-threaded per turn;
// internal phases fan out concurrently via errgroup.
type ResonancePipeline struct {
	adapter    GraphAdapter
	gateway    CompletionGateway
	echoBuffer *EchoBuffer
	seedModel  string
}

func NewResonancePipeline(adapter GraphAdapter, gateway CompletionGateway, echoBuffer *EchoBuffer, seedModel string) *ResonancePipeline {
	if echoBuffer == nil {
		echoBuffer = NewEchoBuffer()
	}
	return &ResonancePipeline{adapter: adapter, gateway: gateway, echoBuffer: echoBuffer, seedModel: seedModel}
}

// Run executes all six phases and returns the serialized ResonanceBlock, or
// "" if nothing resonates this turn. It never returns an error to the
// caller: every internal failure degrades gracefully and is folded into an
// empty/partial result.
func (p *ResonancePipeline) Run(ctx context.Context, req ResonanceRequest) string {
	seeds := p.extractSeeds(ctx, req)
	if len(seeds) == 0 {
		return ""
	}

	results := p.retrieveGraph(ctx, req.Scope, seeds)
	if len(results) == 0 {
		return ""
	}

	groups := p.filter(results, req.OldestContextTimestamp)
	if len(groups) == 0 {
		return ""
	}

	labeled := p.labelTemporally(groups)

	blocks := p.rewrite(ctx, labeled, req)
	if len(blocks) == 0 {
		return ""
	}

	return injectResonanceBlock(blocks)
}

// --- Phase 1: seed extraction ---

func (p *ResonancePipeline) extractSeeds(ctx context.Context, req ResonanceRequest) []string {
	cleanPrompt := stripMetadataBlock(req.CurrentPrompt)
	if strings.TrimSpace(cleanPrompt) == "" {
		return nil
	}

	if p.gateway == nil {
		return fallbackSeeds(cleanPrompt)
	}

	prompt := buildSeedExtractionPrompt(cleanPrompt, req.trimmedRecentMessages(), req.Identity.Story)
	result, err := p.gateway.Complete(ctx, CompletionRequest{Prompt: prompt, Model: p.seedModel, Temperature: 0})
	if err != nil || result.Text == "" {
		return fallbackSeeds(cleanPrompt)
	}

	truncated := truncateRepetitive(result.Text)
	seeds := parseSeedQueries(truncated)
	if len(seeds) == 0 {
		return fallbackSeeds(cleanPrompt)
	}
	return seeds
}

func fallbackSeeds(cleanPrompt string) []string {
	if cleanPrompt == "" {
		return nil
	}
	if len(cleanPrompt) > 50 {
		return []string{cleanPrompt[:50]}
	}
	return []string{cleanPrompt}
}

func buildSeedExtractionPrompt(prompt string, recent []ChatMessage, story string) string {
	var b strings.Builder
	b.WriteString("Produce exactly 3 newline-separated search queries grounded in this conversation. ")
	b.WriteString("Each query must be concrete (use named entities), resolve pronouns against the context below, ")
	b.WriteString("be written in the conversation's language, and ignore any metadata blocks.\n\n")
	if story != "" {
		b.WriteString("Ongoing story context:\n")
		b.WriteString(story)
		b.WriteString("\n\n")
	}
	if len(recent) > 0 {
		b.WriteString("Recent turns:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Current message:\n")
	b.WriteString(prompt)
	return b.String()
}

var bulletPrefixRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func parseSeedQueries(text string) []string {
	lines := strings.Split(text, "\n")
	seen := map[string]struct{}{}
	var out []string
	for _, line := range lines {
		cleaned := bulletPrefixRe.ReplaceAllString(line, "")
		cleaned = strings.Trim(cleaned, " \t\"'“”‘’")
		if cleaned == "" {
			continue
		}
		key := strings.ToLower(cleaned)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cleaned)
		if len(out) >= maxSeedQueries {
			break
		}
	}
	return out
}

// --- Phase 2: graph retrieval ---

func (p *ResonancePipeline) retrieveGraph(ctx context.Context, scope Scope, seeds []string) []MemoryResult {
	if p.adapter == nil {
		return nil
	}

	type queryResults struct {
		results []MemoryResult
	}
	collected := make([]queryResults, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		i, seed := i, seed
		g.Go(func() error {
			sanitized := sanitizeQuery(seed)
			if sanitized == "" {
				return nil
			}

			var nodes, facts []MemoryResult
			inner, innerCtx := errgroup.WithContext(gctx)
			inner.Go(func() error {
				var err error
				nodes, err = p.adapter.SearchNodes(innerCtx, scope, sanitized)
				if err != nil {
					nodes = nil
				}
				return nil
			})
			inner.Go(func() error {
				var err error
				facts, err = p.adapter.SearchFacts(innerCtx, scope, sanitized)
				if err != nil {
					facts = nil
				}
				return nil
			})
			_ = inner.Wait()

			tagged := make([]MemoryResult, 0, len(nodes)+len(facts))
			for _, n := range nodes {
				n.SourceQuery = seed
				tagged = append(tagged, n)
			}
			for _, f := range facts {
				f.SourceQuery = seed
				tagged = append(tagged, f)
			}
			collected[i] = queryResults{results: tagged}
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]struct{}{}
	var out []MemoryResult
	for _, qr := range collected {
		for _, r := range qr.results {
			key := r.DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// --- Phase 3: filtering ---

var (
	effDateRe      = regexp.MustCompile(`(?:Ocurrido el|memory log for|FECHA:|DATE:)\s*(\d{4}-\d{2}-\d{2})`)
	effTimestampRe = regexp.MustCompile(`\[TIMESTAMP:([^\]]+)\]`)
	timestampTagRe = regexp.MustCompile(`\[TIMESTAMP:[^\]]*\]`)
)

func effectiveTimestamp(r MemoryResult) (time.Time, bool) {
	if m := effDateRe.FindStringSubmatch(r.Content); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			return t, true
		}
	}
	if m := effTimestampRe.FindStringSubmatch(r.Content); m != nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(m[1])); err == nil {
			return t, true
		}
	}
	if r.HasTime {
		return r.Timestamp, true
	}
	return time.Time{}, false
}

func isJSONOnly(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

func normalizedDedupeKey(content string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(content) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > nearDuplicateKeyLen {
		s = s[:nearDuplicateKeyLen]
	}
	return s
}

// filter applies the memory horizon, echo filter, priority sort, and caps,
// then groups surviving results by SourceQuery.
func (p *ResonancePipeline) filter(results []MemoryResult, oldestContextTimestamp time.Time) map[string][]MemoryResult {
	var horizonSurvivors []MemoryResult
	for _, r := range results {
		eff, ok := effectiveTimestamp(r)
		if ok && !oldestContextTimestamp.IsZero() && !eff.Before(oldestContextTimestamp) {
			continue // drop: inside the live context window already
		}
		horizonSurvivors = append(horizonSurvivors, r)
	}

	var echoSurvivors []MemoryResult
	for _, r := range horizonSurvivors {
		id := r.DedupKey()
		if p.echoBuffer.Contains(id) && !r.Boosted {
			continue
		}
		echoSurvivors = append(echoSurvivors, r)
	}
	for _, r := range echoSurvivors {
		p.echoBuffer.Insert(r.DedupKey())
	}

	oldFirst := rand.IntN(2) == 0
	sort.SliceStable(echoSurvivors, func(i, j int) bool {
		a, b := echoSurvivors[i], echoSurvivors[j]
		if a.Boosted != b.Boosted {
			return a.Boosted
		}
		aFact, bFact := a.Kind == KindFact, b.Kind == KindFact
		if aFact != bFact {
			return aFact
		}
		at, aok := effectiveTimestamp(a)
		bt, bok := effectiveTimestamp(b)
		if !aok || !bok {
			return false
		}
		if oldFirst {
			return at.Before(bt)
		}
		return at.After(bt)
	})

	capped := echoSurvivors
	if len(capped) > maxTotalResults {
		capped = capped[:maxTotalResults]
	}

	groups := map[string][]MemoryResult{}
	dedupeSeen := map[string]struct{}{}
	for _, r := range capped {
		if isJSONOnly(r.Content) {
			continue
		}
		cleaned := r
		cleaned.Content = strings.TrimSpace(timestampTagRe.ReplaceAllString(r.Content, ""))
		key := normalizedDedupeKey(cleaned.Content)
		if _, ok := dedupeSeen[key]; ok {
			continue
		}
		dedupeSeen[key] = struct{}{}

		if len(groups[r.SourceQuery]) >= maxResultsPerGroup {
			continue
		}
		groups[r.SourceQuery] = append(groups[r.SourceQuery], cleaned)
	}
	for k, v := range groups {
		if len(v) == 0 {
			delete(groups, k)
		}
	}
	return groups
}

// --- Phase 4: temporal labeling ---

// labeledMemory pairs a MemoryResult with its rendered relative-time label.
type labeledMemory struct {
	result MemoryResult
	label  string
}

func (p *ResonancePipeline) labelTemporally(groups map[string][]MemoryResult) map[string][]labeledMemory {
	now := time.Now().UTC()
	out := make(map[string][]labeledMemory, len(groups))
	for query, results := range groups {
		sort.SliceStable(results, func(i, j int) bool {
			ti, _ := effectiveTimestamp(results[i])
			tj, _ := effectiveTimestamp(results[j])
			return ti.Before(tj)
		})
		labeled := make([]labeledMemory, 0, len(results))
		for _, r := range results {
			eff, ok := effectiveTimestamp(r)
			label := ""
			if ok {
				label = relativeTimeLabel(eff, now)
			}
			labeled = append(labeled, labeledMemory{result: r, label: label})
		}
		out[query] = labeled
	}
	return out
}
