package memory

import (
	"context"
	"time"
)

// EpisodeMeta carries optional out-of-band metadata for addEpisode, e.g. a
// historical-file source tag.
type EpisodeMeta struct {
	Source string
}

// GraphAdapter is the external capability through which retrieval/storage is
// performed. The core never talks to a graph database directly; it binds to
// whatever concrete adapter the deployment wires in (see store_sqlite.go for
// the one shipped here).
//
// Implementations must never panic and should prefer returning an empty
// result set over propagating an error for search operations, degrading
// gracefully rather than taking down a turn.
type GraphAdapter interface {
	// AddEpisode appends an episode. ts may predate wall clock for
	// historical ingest. Returns once the write is queued, not once it is
	// indexed for search.
	AddEpisode(ctx context.Context, scope Scope, body string, ts time.Time, meta EpisodeMeta) (string, error)

	// SearchNodes performs entity-oriented semantic search. The query is
	// assumed already sanitized by the caller.
	SearchNodes(ctx context.Context, scope Scope, query string) ([]MemoryResult, error)

	// SearchFacts performs relation-oriented semantic search. The query is
	// assumed already sanitized by the caller.
	SearchFacts(ctx context.Context, scope Scope, query string) ([]MemoryResult, error)

	// GetEpisodesSince returns a chronological backlog, used by bootstrap
	// and the Story-sync fallback path. limit <= 0 means unbounded.
	GetEpisodesSince(ctx context.Context, scope Scope, since time.Time, limit int) ([]Episode, error)

	Close() error
}
