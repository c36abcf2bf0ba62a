package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/benbjohnson/clock"
	"resty.dev/v3"
)

const _webhookTimeout = 5 * time.Second

type webhookError struct {
	Message string `json:"message"`
}

// Webhook posts notifications as JSON to a single endpoint.
type Webhook struct {
	c     *resty.Client
	url   string
	clock clock.Clock

	logger logger.Logger
}

func NewWebhook(url string, clk clock.Clock, logger logger.Logger) *Webhook {
	client := resty.New().
		SetLogger(logger).
		SetTimeout(_webhookTimeout).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		c:      client,
		url:    url,
		clock:  clk,
		logger: logger,
	}
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = w.clock.Now().UTC()
	}

	resp, err := w.c.R().
		SetContext(ctx).
		SetBody(n).
		SetError(&webhookError{}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("%w: can't send notification", err)
	}
	defer resp.Body.Close()

	w.logger.Debugf("webhook %s status: %s, %s", n.Kind, resp.Status(), resp.Duration())

	if resp.IsError() {
		if e, ok := resp.Error().(*webhookError); ok && e.Message != "" {
			return fmt.Errorf("%s: webhook rejected notification", e.Message)
		}
		return fmt.Errorf("webhook rejected notification: %s", resp.Status())
	}
	return nil
}

func (w *Webhook) Close() error {
	return w.c.Close()
}
