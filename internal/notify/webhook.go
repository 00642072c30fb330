// File: internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

const webhookMaxRetryDelay = 30 * time.Second

// WebhookSink POSTs account event notifications to a configured URL with
// retries on failure.
type WebhookSink struct {
	url           string
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	logger        *logrus.Entry
}

// webhookPayload is the JSON body sent to the webhook endpoint
type webhookPayload struct {
	Source    string        `json:"source"`
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Data      *Notification `json:"data"`
	Version   string        `json:"version"`
}

// NewWebhookSink creates a webhook sink from the notification config
func NewWebhookSink(cfg *config.NotificationsConfig) (*WebhookSink, error) {
	if cfg.WebhookURL == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "webhook URL is required", "")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &WebhookSink{
		url:           cfg.WebhookURL,
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: utils.ComponentLogger("webhook"),
	}, nil
}

// Name implements Sink
func (ws *WebhookSink) Name() string { return "webhook" }

// Send delivers one notification, retrying with exponential backoff until an
// attempt succeeds, the attempts are exhausted, or the context is cancelled.
func (ws *WebhookSink) Send(ctx context.Context, n *Notification) error {
	payload := &webhookPayload{
		Source:    "silk-indexer",
		Type:      "account_events",
		Timestamp: time.Now().UTC(),
		Data:      n,
		Version:   "1.0",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.WrapError(utils.ErrCodeInternal, "failed to marshal webhook payload", err)
	}

	var lastErr error
	for attempt := 1; attempt <= ws.retryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(ws.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = ws.post(ctx, body)
		if lastErr == nil {
			ws.logger.WithFields(logrus.Fields{
				"address": n.Address,
				"events":  len(n.Events),
			}).Debug("Webhook delivered")
			return nil
		}
		if attempt < ws.retryAttempts {
			ws.logger.WithError(lastErr).WithField("attempt", attempt).Warn("Webhook attempt failed, retrying")
		}
	}
	return lastErr
}

func (ws *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return utils.WrapError(utils.ErrCodeInternal, "failed to create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "silk-indexer/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", utils.GenerateID())

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.WrapError(utils.ErrCodeConnection, "failed to send webhook", err)
	}
	defer resp.Body.Close()

	// Read a bounded slice of the body for the error message
	buf := make([]byte, 1024)
	read, _ := resp.Body.Read(buf)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeConnection,
			"webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, string(buf[:read])))
	}
	return nil
}

// backoff doubles the base delay per attempt, capped at webhookMaxRetryDelay
func (ws *WebhookSink) backoff(attempt int) time.Duration {
	delay := ws.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	delay = time.Duration(int64(delay) << uint(attempt-2))
	if delay > webhookMaxRetryDelay {
		delay = webhookMaxRetryDelay
	}
	return delay
}
