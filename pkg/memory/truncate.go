package memory

import "strings"

// truncateRepetitive suppresses LLM degenerate loops: a chunk of at least 3
// non-whitespace characters that immediately repeats is treated as the start
// of a loop and everything after the first repeat is cut. The cut is applied
// again to the shortened text until no such immediate repeat remains.
//
// Idempotent: truncateRepetitive(truncateRepetitive(s)) == truncateRepetitive(s).
func truncateRepetitive(text string) string {
outer:
	for {
		n := len(text)
		for length := n / 2; length >= 3; length-- {
			for i := 0; i+2*length <= n; i++ {
				chunk := text[i : i+length]
				if nonWhitespaceCount(chunk) < 3 {
					continue
				}
				if chunk == text[i+length:i+2*length] {
					text = text[:i+length]
					continue outer
				}
			}
		}
		return text
	}
}

func nonWhitespaceCount(s string) int {
	count := 0
	for _, r := range s {
		if !isSpaceRune(r) {
			count++
		}
	}
	return count
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// stripMetadataBlock removes a "Conversation info (untrusted metadata): ```json ... ```"
// block from a prompt before it is used to derive seed queries.
func stripMetadataBlock(prompt string) string {
	const marker = "Conversation info (untrusted metadata):"
	idx := strings.Index(prompt, marker)
	if idx < 0 {
		return prompt
	}
	rest := prompt[idx+len(marker):]
	fenceStart := strings.Index(rest, "```")
	if fenceStart < 0 {
		return strings.TrimSpace(prompt[:idx])
	}
	afterFence := rest[fenceStart+3:]
	fenceEnd := strings.Index(afterFence, "```")
	if fenceEnd < 0 {
		return strings.TrimSpace(prompt[:idx])
	}
	tail := afterFence[fenceEnd+3:]
	return strings.TrimSpace(prompt[:idx] + tail)
}
