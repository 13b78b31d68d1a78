// delivery.go implements C7: the background delivery worker that drains
// webhook_deliveries, and the retention sweep.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/internal/telemetry"
)

// Pipeline drains eligible webhook_deliveries on a timer.
type Pipeline struct {
	storage            *store.Storage
	cipher             *Cipher
	logger             *slog.Logger
	httpClient         *http.Client
	batchSize          int
	maxRetries         int
	baseBackoffSeconds int
	capSeconds         int
	onDead             func(delivery store.WebhookDelivery, sub store.WebhookSubscription)
}

// NewPipeline creates a delivery Pipeline.
func NewPipeline(storage *store.Storage, cipher *Cipher, logger *slog.Logger, batchSize, maxRetries, baseBackoffSeconds, capSeconds int) *Pipeline {
	return &Pipeline{
		storage:            storage,
		cipher:             cipher,
		logger:             logger,
		httpClient:         &http.Client{},
		batchSize:          batchSize,
		maxRetries:         maxRetries,
		baseBackoffSeconds: baseBackoffSeconds,
		capSeconds:         capSeconds,
	}
}

// OnDead registers a callback invoked (best-effort, outside the claiming
// transaction) whenever a delivery transitions to DEAD — used to wire an
// optional operational Slack notification.
func (p *Pipeline) OnDead(fn func(delivery store.WebhookDelivery, sub store.WebhookSubscription)) {
	p.onDead = fn
}

// Tick runs one delivery cycle: claim a batch, attempt each, record outcome.
func (p *Pipeline) Tick(ctx context.Context) error {
	var batch []store.WebhookDelivery
	var deadNotifications []store.WebhookDelivery

	err := p.storage.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		batch, err = p.storage.WebhookDeliveries.ClaimBatch(ctx, tx, p.batchSize)
		if err != nil {
			return fmt.Errorf("claiming delivery batch: %w", err)
		}

		for _, d := range batch {
			sub, err := p.storage.WebhookSubs.ByID(ctx, d.SubscriptionID)
			if err != nil {
				p.logger.Error("loading subscription for delivery", "error", err, "delivery_id", d.ID)
				continue
			}

			outcome, errMsg := p.attempt(ctx, d, sub)
			switch outcome {
			case outcomeSuccess:
				if err := p.storage.WebhookDeliveries.MarkSuccess(ctx, tx, d.ID); err != nil {
					return fmt.Errorf("marking delivery success: %w", err)
				}
				telemetry.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			case outcomeRetryable:
				wasLastAttempt := d.Attempts+1 >= sub.MaxRetries
				if err := p.storage.WebhookDeliveries.MarkRetry(ctx, tx, d.ID, errMsg, sub.MaxRetries, p.baseBackoffSeconds, p.capSeconds); err != nil {
					return fmt.Errorf("marking delivery retry: %w", err)
				}
				if wasLastAttempt {
					telemetry.WebhookDeliveriesTotal.WithLabelValues("dead").Inc()
					deadNotifications = append(deadNotifications, d)
				} else {
					telemetry.WebhookDeliveriesTotal.WithLabelValues("retrying").Inc()
				}
			case outcomeDead:
				// Non-retryable 4xx: force MarkRetry's DEAD transition on the
				// first attempt by passing maxRetries=0, regardless of the
				// subscription's configured ceiling.
				if err := p.storage.WebhookDeliveries.MarkRetry(ctx, tx, d.ID, errMsg, 0, p.baseBackoffSeconds, p.capSeconds); err != nil {
					return fmt.Errorf("marking delivery dead: %w", err)
				}
				telemetry.WebhookDeliveriesTotal.WithLabelValues("dead").Inc()
				deadNotifications = append(deadNotifications, d)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.onDead != nil {
		for _, d := range deadNotifications {
			sub, err := p.storage.WebhookSubs.ByID(ctx, d.SubscriptionID)
			if err == nil {
				p.onDead(d, sub)
			}
		}
	}
	return nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	// outcomeDead marks a terminal, non-retryable failure: a 4xx response
	// other than 408/425/429, which should not consume retry attempts.
	outcomeDead
)

// attempt issues the POST and classifies the result, returning a truncated
// error message alongside the outcome for MarkRetry to persist.
func (p *Pipeline) attempt(ctx context.Context, d store.WebhookDelivery, sub store.WebhookSubscription) (outcome, string) {
	start := time.Now()

	url, err := p.cipher.Decrypt(sub.URLCiphertext)
	if err != nil {
		return outcomeRetryable, truncateError(fmt.Sprintf("decrypting url: %v", err))
	}
	authHeader, err := p.cipher.Decrypt(sub.AuthHeaderCiphertext)
	if err != nil {
		return outcomeRetryable, truncateError(fmt.Sprintf("decrypting auth header: %v", err))
	}

	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(d.Payload))
	if err != nil {
		return outcomeRetryable, truncateError(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event", d.EventType)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := p.httpClient.Do(req)
	telemetry.WebhookDeliveryDuration.WithLabelValues(classifyLabel(resp, err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return outcomeRetryable, truncateError(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return outcomeSuccess, ""
	}

	return classify(resp, nil), truncateError(fmt.Sprintf("non-2xx response: %d", resp.StatusCode))
}

// retryableClientErrors are 4xx statuses that, per §7, remain retryable
// rather than going straight to DEAD: the endpoint is asking for a retry
// (408/429) or isn't ready yet (425).
var retryableClientErrors = map[int]bool{
	http.StatusRequestTimeout:  true,
	http.StatusTooEarly:        true,
	http.StatusTooManyRequests: true,
}

// classify maps an attempt's result to an outcome: network errors and 5xx
// are retryable, 4xx is terminal except the codes in retryableClientErrors,
// and 2xx is success.
func classify(resp *http.Response, err error) outcome {
	if err != nil {
		return outcomeRetryable
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeSuccess
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if retryableClientErrors[resp.StatusCode] {
			return outcomeRetryable
		}
		return outcomeDead
	default:
		return outcomeRetryable
	}
}

func classifyLabel(resp *http.Response, err error) string {
	if err != nil {
		return "error"
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "success"
	}
	return "failure"
}

func truncateError(msg string) string {
	const maxLen = 1024
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

// RunCleanup removes terminal deliveries past the retention window — the
// hourly webhook cleanup sweep.
func (p *Pipeline) RunCleanup(ctx context.Context, retentionDays int) error {
	_, err := p.storage.WebhookDeliveries.DeleteOlderThan(ctx, retentionDays)
	return err
}
