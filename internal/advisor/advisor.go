// Package advisor forwards templated prompts to an OpenAI-compatible chat completion endpoint.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured   = errors.New("AI advisor is not configured: missing API key")
	ErrRateLimited     = errors.New("rate limits exceeded, please try again later")
	ErrPaymentRequired = errors.New("payment required, please add funds to your AI workspace")
	ErrUnparseable     = errors.New("failed to parse AI response")
	ErrInvalidRequest  = errors.New("invalid advisor request")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is one upstream provider. Implementations send exactly one request per call.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) (*Stream, error)
}

// UpstreamError is a non-2xx answer from the provider. Rate limit and credit exhaustion
// unwrap to ErrRateLimited and ErrPaymentRequired.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("AI gateway error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("AI gateway error: status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	default:
		return nil
	}
}

func upstreamError(code int, body string) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &UpstreamError{StatusCode: code, Body: body}
}
