package memory

import "time"

// ChatMessage is the minimal shape the pipeline needs from the caller's
// live transcript window.
type ChatMessage struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// IdentityBundle is the caller-supplied persona + ongoing Story context
// threaded into seed extraction and re-narrativization prompts.
type IdentityBundle struct {
	Soul  string
	Story string
}

// ResonanceRequest is the per-turn input to the ResonancePipeline.
type ResonanceRequest struct {
	Scope                  Scope
	CurrentPrompt          string
	RecentMessages         []ChatMessage
	Identity               IdentityBundle
	OldestContextTimestamp time.Time
	RewriteEnabled         bool
}

const maxRecentMessages = 20
const maxSeedQueries = 3
const maxTotalResults = 10
const maxResultsPerGroup = 5
const nearDuplicateKeyLen = 30

func (r ResonanceRequest) trimmedRecentMessages() []ChatMessage {
	msgs := r.RecentMessages
	var nonSystem []ChatMessage
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		nonSystem = append(nonSystem, m)
	}
	if len(nonSystem) > maxRecentMessages {
		nonSystem = nonSystem[len(nonSystem)-maxRecentMessages:]
	}
	return nonSystem
}
