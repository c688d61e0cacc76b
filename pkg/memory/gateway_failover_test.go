package memory

import (
	"context"
	"testing"
)

type stubGateway struct {
	result      CompletionResult
	err         error
	lastRequest CompletionRequest
	calls       int
}

func (s *stubGateway) Complete(_ context.Context, req CompletionRequest) (CompletionResult, error) {
	s.calls++
	s.lastRequest = req
	return s.result, s.err
}

func TestFailoverGateway_NoFailoverOnSuccess(t *testing.T) {
	primary := &stubGateway{result: CompletionResult{Text: "a real answer"}}
	fallback := &stubGateway{result: CompletionResult{Text: "should not be used"}}
	g := NewFailoverGateway(primary, fallback, "fallback-model")

	result, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() returned error: %v", err)
	}
	if result.Text != "a real answer" {
		t.Errorf("Text = %q, want primary's answer", result.Text)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback.calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverGateway_FailsOverOnRetryableEmptyResult(t *testing.T) {
	primary := &stubGateway{result: CompletionResult{ErrorKind: KindCompletionStreamError, Retryable: true}}
	fallback := &stubGateway{result: CompletionResult{Text: "fallback answer"}}
	g := NewFailoverGateway(primary, fallback, "fallback-model")

	result, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi", Model: "primary-model", Temperature: 0})
	if err != nil {
		t.Fatalf("Complete() returned error: %v", err)
	}
	if result.Text != "fallback answer" {
		t.Errorf("Text = %q, want fallback's answer", result.Text)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback.calls = %d, want 1", fallback.calls)
	}
	if fallback.lastRequest.Model != "fallback-model" {
		t.Errorf("fallback request Model = %q, want %q", fallback.lastRequest.Model, "fallback-model")
	}
	if fallback.lastRequest.Temperature != failoverTemperature {
		t.Errorf("fallback request Temperature = %v, want %v", fallback.lastRequest.Temperature, failoverTemperature)
	}
}

func TestFailoverGateway_NoFailoverWhenNotRetryable(t *testing.T) {
	primary := &stubGateway{result: CompletionResult{ErrorKind: KindCompletionStreamError, Retryable: false}}
	fallback := &stubGateway{result: CompletionResult{Text: "fallback answer"}}
	g := NewFailoverGateway(primary, fallback, "fallback-model")

	result, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() returned error: %v", err)
	}
	if result.Text != "" {
		t.Errorf("Text = %q, want empty (auth-style errors should not fail over)", result.Text)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback.calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverGateway_NoFailoverWhenTextAlreadyPresent(t *testing.T) {
	primary := &stubGateway{result: CompletionResult{Text: "partial", ErrorKind: KindCompletionStreamError, Retryable: true}}
	fallback := &stubGateway{result: CompletionResult{Text: "fallback answer"}}
	g := NewFailoverGateway(primary, fallback, "fallback-model")

	result, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() returned error: %v", err)
	}
	if result.Text != "partial" {
		t.Errorf("Text = %q, want the primary's partial text kept", result.Text)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback.calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverGateway_NilFallbackNeverCalled(t *testing.T) {
	primary := &stubGateway{result: CompletionResult{ErrorKind: KindCompletionStreamError, Retryable: true}}
	g := NewFailoverGateway(primary, nil, "fallback-model")

	result, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() returned error: %v", err)
	}
	if result.ErrorKind != KindCompletionStreamError {
		t.Errorf("ErrorKind = %q, want propagated from primary", result.ErrorKind)
	}
}

func TestFailoverGateway_PropagatesPrimaryTransportError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	primary := &stubGateway{err: wantErr}
	fallback := &stubGateway{result: CompletionResult{Text: "fallback answer"}}
	g := NewFailoverGateway(primary, fallback, "fallback-model")

	_, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != wantErr {
		t.Errorf("Complete() error = %v, want %v", err, wantErr)
	}
	if fallback.calls != 0 {
		t.Error("fallback should not be consulted on a transport-level error")
	}
}
