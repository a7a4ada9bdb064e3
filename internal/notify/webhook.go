// Package notify delivers cards to the chat-webhook sinks.
//
// Three sinks exist: order life-cycle, order fills, and position-alert
// digests. Each is a plain HTTP POST of a JSON card; delivery is best-effort
// with bounded retry — once the first attempt and maxRetry retries have all
// failed, the card is logged and dropped, never queued past process restart.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sink accepts card payloads for delivery.
type Sink interface {
	Send(ctx context.Context, payload any) error
}

// WebhookSink POSTs JSON cards to a single webhook URL with retry/backoff.
type WebhookSink struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

// NewWebhookSink creates a sink for one webhook URL. maxRetry counts the
// retries after the first attempt; backoff runs 500ms doubling to a 5s cap.
func NewWebhookSink(url string, maxRetry int, logger *slog.Logger) *WebhookSink {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(maxRetry).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 400
		}).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{
		http:   client,
		url:    url,
		logger: logger.With("component", "webhook"),
	}
}

// Send POSTs the payload. Exhausted retries surface as an error; the caller
// logs and drops.
func (s *WebhookSink) Send(ctx context.Context, payload any) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook post: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
