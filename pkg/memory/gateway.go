package memory

import "context"

// CompletionRequest is the input to a CompletionGateway call. Temperature is
// 0 for every subconscious call the core makes (seed extraction, rewrite,
// narrative synthesis, compression); failover retries at 0.3.
type CompletionRequest struct {
	Prompt      string
	Model       string
	Temperature float64
}

// CompletionResult is the output of a CompletionGateway call. ErrorKind is
// non-empty when the stream emitted an error event; per the error-as-event
// contract, that is surfaced here rather than as a Go error when Text is
// also populated (an error event with empty text is still returned via
// ErrorKind with Text == "").
type CompletionResult struct {
	Text      string
	ErrorKind ErrorKind
	// Retryable is set when ErrorKind is non-empty and the underlying
	// provider/error class is one FailoverGateway should retry against the
	// fallback model (rate limit, billing, or an unrecognized error) rather
	// than give up (auth errors are never retryable: a different API key
	// will not appear mid-request).
	Retryable bool
}

// CompletionGateway is a single-prompt, streaming text completion
// primitive. The core never talks to an LLM provider's HTTP/auth surface
// directly; it binds to whatever concrete gateway is wired in (see
// gateway_http.go for the one shipped here).
type CompletionGateway interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}
