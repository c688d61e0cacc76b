package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// --- Phase 5: re-narrativization ---

func (p *ResonancePipeline) rewrite(ctx context.Context, groups map[string][]labeledMemory, req ResonanceRequest) []string {
	queries := make([]string, 0, len(groups))
	for q := range groups {
		queries = append(queries, q)
	}

	blocks := make([]string, len(queries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			bullets := groups[query]
			rawBlock := renderGroupFallback(query, bullets)

			if p.gateway == nil || !req.RewriteEnabled {
				mu.Lock()
				blocks[i] = rawBlock
				mu.Unlock()
				return nil
			}

			prompt := buildRewritePrompt(query, bullets, req.Identity, req.CurrentPrompt)
			result, err := p.gateway.Complete(gctx, CompletionRequest{Prompt: prompt, Temperature: 0})
			block := rawBlock
			if err == nil && result.Text != "" {
				if filtered := filterRewriteOutput(result.Text); filtered != "" {
					block = groupHeader(query) + "\n" + filtered
				}
			}
			mu.Lock()
			blocks[i] = block
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

func groupHeader(query string) string {
	return fmt.Sprintf(`--- PENSAR EN "%s" ME RECUERDA QUE ---`, query)
}

func renderGroupFallback(query string, bullets []labeledMemory) string {
	var b strings.Builder
	b.WriteString(groupHeader(query))
	b.WriteString("\n")
	for _, lm := range bullets {
		content := strings.TrimSpace(lm.result.Content)
		if lm.label != "" {
			fmt.Fprintf(&b, "- (%s) %s\n", lm.label, content)
		} else {
			fmt.Fprintf(&b, "- %s\n", content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildRewritePrompt(query string, bullets []labeledMemory, identity IdentityBundle, currentMessage string) string {
	var b strings.Builder
	b.WriteString(groupHeader(query))
	b.WriteString("\n\n")
	for _, lm := range bullets {
		if lm.label != "" {
			fmt.Fprintf(&b, "- (%s) %s\n", lm.label, lm.result.Content)
		} else {
			fmt.Fprintf(&b, "- %s\n", lm.result.Content)
		}
	}
	b.WriteString("\nIdentity:\n")
	b.WriteString(identity.Soul)
	b.WriteString("\n")
	b.WriteString(identity.Story)
	b.WriteString("\n\nCurrent message (for language detection only):\n")
	b.WriteString(currentMessage)
	b.WriteString("\n\nRewrite the bullets above as brief first-person flashbacks in the same language as the current message. ")
	b.WriteString("Do not invent details. Do not add sensory details not present in the source. ")
	b.WriteString("Only rephrase style and point of view; keep every fact. Do not emit any identity headers.")
	return b.String()
}

// filterRewriteOutput keeps only lines that look like rewritten flashback
// prose: list-marker lines, lines containing the "reminds me"/"recuerda que"
// phrasing, or any other non-empty line that is not a bare JSON/control
// artifact.
func filterRewriteOutput(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		looksLikeMarker := strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") ||
			strings.HasPrefix(trimmed, "•") || strings.HasPrefix(trimmed, "---")
		mentionsRecall := strings.Contains(lower, "reminds me") || strings.Contains(lower, "recuerda que")
		isArtifact := strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")

		if looksLikeMarker || mentionsRecall || !isArtifact {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// --- Phase 6: injection ---

func injectResonanceBlock(blocks []string) string {
	body := strings.Join(blocks, "\n\n")
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return "\n---\n[SUBCONSCIOUS RESONANCE]\n" + body + "\n---\n"
}
