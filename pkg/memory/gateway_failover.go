package memory

import "context"

const failoverTemperature = 0.3

// FailoverGateway wraps a primary CompletionGateway with a fallback. When
// the primary emits a retryable error event with empty collected text, it
// retries once against the fallback model at temperature 0.3. Failovers
// beyond that are the caller's responsibility; a second consecutive failure
// is surfaced as-is.
type FailoverGateway struct {
	primary      CompletionGateway
	fallback     CompletionGateway
	fallbackName string
}

func NewFailoverGateway(primary, fallback CompletionGateway, fallbackModel string) *FailoverGateway {
	return &FailoverGateway{primary: primary, fallback: fallback, fallbackName: fallbackModel}
}

func (g *FailoverGateway) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	result, err := g.primary.Complete(ctx, req)
	if err != nil {
		return result, err
	}
	if !shouldFailover(result) || g.fallback == nil {
		return result, nil
	}

	fallbackReq := req
	fallbackReq.Temperature = failoverTemperature
	if g.fallbackName != "" {
		fallbackReq.Model = g.fallbackName
	}
	return g.fallback.Complete(ctx, fallbackReq)
}

func shouldFailover(r CompletionResult) bool {
	return r.ErrorKind == KindCompletionStreamError && r.Retryable && r.Text == ""
}
