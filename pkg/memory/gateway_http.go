package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGatewayTimeout = 300 * time.Second

// AuthStrategy applies provider authentication to an outgoing request.
type AuthStrategy interface {
	Apply(ctx context.Context, req *http.Request) error
}

// BearerAuth is the common case: an "Authorization: Bearer <key>" header.
type BearerAuth struct {
	APIKey string
}

func (a BearerAuth) Apply(_ context.Context, req *http.Request) error {
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("api key is not configured")
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	return nil
}

// HTTPCompletionGateway is the concrete CompletionGateway shipped with this
// module: an HTTP client against an OpenAI-chat-completions-shaped
// streaming endpoint. Unlike a plain non-streaming client it parses
// text/event-stream chunks so it can surface the error-as-event contract
// (an in-stream {"error":...} event) rather than only HTTP-level failures.
type HTTPCompletionGateway struct {
	apiBase      string
	auth         AuthStrategy
	httpClient   *http.Client
	extraHeaders map[string]string
}

func NewHTTPCompletionGateway(apiBase string, auth AuthStrategy, proxy string, extraHeaders map[string]string) (*HTTPCompletionGateway, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("completion gateway API base not configured")
	}
	if auth == nil {
		return nil, fmt.Errorf("completion gateway auth is not configured")
	}

	client := &http.Client{Timeout: defaultGatewayTimeout}
	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse completion gateway proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	clean := map[string]string{}
	for k, v := range extraHeaders {
		name, value := strings.TrimSpace(k), strings.TrimSpace(v)
		if name == "" || value == "" {
			continue
		}
		clean[name] = value
	}

	return &HTTPCompletionGateway{apiBase: apiBase, auth: auth, httpClient: client, extraHeaders: clean}, nil
}

func (g *HTTPCompletionGateway) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	body := map[string]interface{}{
		"model":       req.Model,
		"temperature": req.Temperature,
		"stream":      true,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if err := g.auth.Apply(ctx, httpReq); err != nil {
		return CompletionResult{}, fmt.Errorf("apply completion auth: %w", err)
	}
	for name, value := range g.extraHeaders {
		httpReq.Header.Set(name, value)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		class := classRateLimit
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			class = classAuth
		}
		return CompletionResult{ErrorKind: KindCompletionStreamError, Retryable: class != classAuth}, nil
	}

	return parseSSEStream(resp.Body)
}

type sseChoiceDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type sseErrorEvent struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// parseSSEStream reads an OpenAI-shaped text/event-stream body line by
// line and JSON-decodes the payload of each data: line on its own; multi-line
// data fields are not joined into one event. A {"error":...} event is surfaced via ErrorKind rather than as a
// Go error, per the error-as-event contract.
func parseSSEStream(body interface{ Read([]byte) (int, error) }) (CompletionResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var text strings.Builder
	var errKind ErrorKind
	var retryable bool

	for scanner.Scan() {
		line := scanner.Text()
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if !strings.HasPrefix(line, "data:") || data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var errEvt sseErrorEvent
		if err := json.Unmarshal([]byte(data), &errEvt); err == nil && errEvt.Error.Message != "" {
			errKind = KindCompletionStreamError
			class := classifyStreamErrorClass(errEvt.Error.Type, errEvt.Error.Message)
			retryable = class == classRateLimit || class == classBilling || class == classUnknown
			continue
		}

		var chunk sseChoiceDelta
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			text.WriteString(c.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return CompletionResult{}, fmt.Errorf("read completion stream: %w", err)
	}

	return CompletionResult{Text: text.String(), ErrorKind: errKind, Retryable: retryable}, nil
}

// streamErrorClass is the fine-grained classification used by the failover
// policy to decide retry-eligibility; kept distinct from the coarse
// ErrorKind surfaced to callers.
type streamErrorClass string

const (
	classRateLimit streamErrorClass = "rate_limit"
	classBilling   streamErrorClass = "billing"
	classAuth      streamErrorClass = "auth"
	classTimeout   streamErrorClass = "timeout"
	classUnknown   streamErrorClass = "unknown"
)

func classifyStreamErrorClass(errType, message string) streamErrorClass {
	lower := strings.ToLower(errType + " " + message)
	switch {
	case strings.Contains(lower, "rate") || strings.Contains(lower, "429"):
		return classRateLimit
	case strings.Contains(lower, "billing") || strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient"):
		return classBilling
	case strings.Contains(lower, "auth") || strings.Contains(lower, "401") || strings.Contains(lower, "api key"):
		return classAuth
	case strings.Contains(lower, "timeout"):
		return classTimeout
	default:
		return classUnknown
	}
}
