package advisor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI uses the go-openai client against any OpenAI-compatible base URL.
type OpenAI struct {
	client *openai.Client
	cfg    config.AdvisorConfig

	logger logger.Logger
}

func NewOpenAI(cfg config.AdvisorConfig, logger logger.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}
}

func (o *OpenAI) request(messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
	}
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages))
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnparseable)
	}
	o.logger.Debugf("completion %s used %d tokens", resp.ID, resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages))
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	recv := func() (string, error) {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Delta.Content, nil
	}
	return NewStream(recv, stream.Close), nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return upstreamError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return upstreamError(reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	return fmt.Errorf("%w: AI request failed", err)
}
