// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
	webhookHeaderEvent   = "X-Workflow-Event"
)

var errWebhookNotConfigured = errors.New("webhook url not configured")

// WebhookDispatcher posts lifecycle messages to a single configured URL.
type WebhookDispatcher struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
	retryBase  time.Duration
}

func NewWebhookDispatcher(url, secret string, client *http.Client, logger *slog.Logger) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookDispatcher{
		url:        strings.TrimSpace(url),
		secret:     secret,
		httpClient: client,
		logger:     logger,
		retryBase:  webhookRetryBase,
	}
}

// Deliver sends msg, retrying non-2xx responses and transport errors with
// exponential backoff. It satisfies Handler.
func (d *WebhookDispatcher) Deliver(ctx context.Context, msg domain.LifecycleMessage) error {
	if d.url == "" {
		return errWebhookNotConfigured
	}

	body, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("webhook payload marshal failed",
			"instance_id", msg.InstanceID,
			"type", msg.Type,
			"error", err,
		)
		return err
	}

	signature := signWebhookPayload(d.secret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			d.logger.Error("webhook request build failed",
				"instance_id", msg.InstanceID,
				"type", msg.Type,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(webhookHeaderEvent, string(msg.Type))
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = err
			d.logger.Warn("webhook failure",
				"instance_id", msg.InstanceID,
				"type", msg.Type,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				d.logger.Info("webhook success",
					"instance_id", msg.InstanceID,
					"type", msg.Type,
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return nil
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			d.logger.Warn("webhook failure",
				"instance_id", msg.InstanceID,
				"type", msg.Type,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := d.retryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				d.logger.Warn("webhook canceled before retry",
					"instance_id", msg.InstanceID,
					"attempt", attempt,
					"error", ctx.Err(),
				)
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	d.logger.Error("webhook retries exhausted",
		"instance_id", msg.InstanceID,
		"type", msg.Type,
		"error", lastErr,
	)
	return lastErr
}

func signWebhookPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
