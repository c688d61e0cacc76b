package memory

import "errors"

// ErrorKind classifies the degraded-but-non-fatal conditions this subsystem
// can hit. None of these ever escape a public entry point as a panic; they
// are either returned wrapped or silently absorbed by the caller.
type ErrorKind string

const (
	KindGraphUnavailable      ErrorKind = "GraphUnavailable"
	KindGraphSyntaxError      ErrorKind = "GraphSyntaxError"
	KindCompletionEmpty       ErrorKind = "CompletionEmpty"
	KindCompletionStreamError ErrorKind = "CompletionStreamError"
	KindStoryTooLong          ErrorKind = "StoryTooLong"
	KindLockHeld              ErrorKind = "LockHeld"
	KindLockStale             ErrorKind = "LockStale"
	KindPendingLogMissing     ErrorKind = "PendingLogMissing"
	KindHistoricalIngest      ErrorKind = "HistoricalIngestFailure"
)

var (
	// ErrLockHeld is returned (never panicked) when a NarrativeLock is held
	// by another process and is not yet stale.
	ErrLockHeld = errors.New("narrative lock held by another process")

	// ErrCompletionEmpty indicates a CompletionGateway call returned no text
	// and no retryable error event.
	ErrCompletionEmpty = errors.New("completion gateway returned empty text")

	// ErrGraphUnavailable indicates the GraphAdapter could not be reached.
	ErrGraphUnavailable = errors.New("graph adapter unavailable")
)

// CompletionError carries the error-as-event classification surfaced from a
// CompletionGateway stream when the provider sends an in-band {"error":...}
// event rather than failing the HTTP request outright.
type CompletionError struct {
	Kind    ErrorKind
	Message string
}

func (e *CompletionError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}
