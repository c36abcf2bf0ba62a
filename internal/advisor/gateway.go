package advisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/bytedance/sonic"
	"resty.dev/v3"
)

const (
	_chatCompletionsURL = "/chat/completions"
	_sseDataPrefix      = "data:"
	_sseDone            = "[DONE]"
)

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type gatewayError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Gateway talks to an OpenAI-compatible HTTP gateway with resty and parses its SSE stream itself.
type Gateway struct {
	c   *resty.Client
	cfg config.AdvisorConfig

	logger logger.Logger
}

func NewGateway(cfg config.AdvisorConfig, logger logger.Logger) *Gateway {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Gateway{
		c:      client,
		cfg:    cfg,
		logger: logger,
	}
}

func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.c.R().
		SetContext(ctx).
		SetBody(completionRequest{Model: g.cfg.Model, Messages: messages, Temperature: g.cfg.Temperature}).
		SetResult(&completionResponse{}).
		SetError(&gatewayError{}).
		Post(_chatCompletionsURL)
	if err != nil {
		return "", fmt.Errorf("%w: can't send completion request", err)
	}
	defer resp.Body.Close()

	g.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if resp.IsError() {
		msg := resp.String()
		if e, ok := resp.Error().(*gatewayError); ok && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return "", upstreamError(resp.StatusCode(), msg)
	}

	result, ok := resp.Result().(*completionResponse)
	if !ok || len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnparseable)
	}
	return result.Choices[0].Message.Content, nil
}

func (g *Gateway) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := g.c.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(completionRequest{Model: g.cfg.Model, Messages: messages, Stream: true, Temperature: g.cfg.Temperature}).
		SetDoNotParseResponse(true).
		Post(_chatCompletionsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't open completion stream", err)
	}

	g.logger.Debugf("stream opened %s status: %s", resp.Request.URL, resp.Status())

	if resp.IsError() || !resp.IsSuccess() {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, upstreamError(resp.StatusCode(), strings.TrimSpace(string(body)))
	}

	return NewStream(sseReader(resp.Body), resp.Body.Close), nil
}

// sseReader yields the delta content of each "data:" event until [DONE] or end of body.
func sseReader(body io.Reader) func() (string, error) {
	r := bufio.NewReader(body)
	return func() (string, error) {
		for {
			line, err := r.ReadBytes('\n')
			if len(line) == 0 && err != nil {
				if errors.Is(err, io.EOF) {
					return "", io.EOF
				}
				return "", fmt.Errorf("%w: can't read stream", err)
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte(_sseDataPrefix)) {
				continue // blank separators, comments, event names
			}
			payload := bytes.TrimSpace(line[len(_sseDataPrefix):])
			if string(payload) == _sseDone {
				return "", io.EOF
			}

			var chunk streamChunk
			if err := sonic.ConfigStd.Unmarshal(payload, &chunk); err != nil {
				continue // partial or non-JSON keepalive payloads
			}
			if chunk.Error != nil {
				return "", fmt.Errorf("upstream stream error: %s", chunk.Error.Message)
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			return chunk.Choices[0].Delta.Content, nil
		}
	}
}

func (g *Gateway) Close() error {
	return g.c.Close()
}
