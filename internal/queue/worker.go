package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/quotagate/quotagate/internal/backoff"
	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/ratelimit"
)

// UsageIncrementer is the slice of the quota tracker the worker needs
// after a successful dispatch.
type UsageIncrementer interface {
	IncrementUsage(ctx context.Context, providerID uint, projectID *uint, requests, tokens int64) (*database.QuotaUsage, error)
}

// EventRecorder is the slice of the rate-limit tracker the worker uses
// when a dispatch comes back 429.
type EventRecorder interface {
	RecordEvent(ctx context.Context, p ratelimit.EventParams) (*database.RateLimitEvent, error)
}

// Worker drains the queue: it claims due requests, replays them against
// the provider endpoint, and reports the outcome back into the queue,
// the quota counters and the rate-limit event log.
type Worker struct {
	queue     *Queue
	quota     UsageIncrementer
	events    EventRecorder
	client    *http.Client
	batchSize int
	interval  time.Duration
}

func NewWorker(q *Queue, quota UsageIncrementer, events EventRecorder, batchSize int, interval time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		queue:     q,
		quota:     quota,
		events:    events,
		client:    &http.Client{Timeout: 60 * time.Second},
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run processes batches until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.ProcessBatch(ctx); err != nil {
				log.Printf("[queue] batch: %v", err)
			} else if n > 0 {
				log.Printf("[queue] processed %d requests", n)
			}
		}
	}
}

// ProcessBatch claims and processes one batch. Returns the number of
// requests handled.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	batch, err := w.queue.Dequeue(ctx, w.batchSize, nil)
	if err != nil {
		return 0, err
	}

	for i := range batch {
		if ctx.Err() != nil {
			// Shutting down mid-batch: put the unprocessed remainder
			// back so another worker picks it up.
			for j := i; j < len(batch); j++ {
				w.requeue(&batch[j])
			}
			return i, ctx.Err()
		}
		w.process(ctx, &batch[i])
	}
	return len(batch), nil
}

func (w *Worker) process(ctx context.Context, req *database.QueuedRequest) {
	status, headers, body, err := w.dispatch(ctx, req)
	if err != nil {
		log.Printf("[queue] request %d: dispatch: %v", req.ID, err)
		w.fail(ctx, req, err.Error())
		return
	}

	if ratelimit.IsRateLimitError(status, headers, body) {
		w.handleRateLimited(ctx, req, status, headers, body)
		return
	}

	if status >= 400 {
		w.fail(ctx, req, fmt.Sprintf("HTTP %d: %s", status, truncateBody(body)))
		return
	}

	if err := w.queue.MarkCompleted(ctx, req.ID); err != nil {
		log.Printf("[queue] request %d: mark completed: %v", req.ID, err)
		return
	}
	if _, err := w.quota.IncrementUsage(ctx, req.ProviderID, req.ProjectID, 1, 0); err != nil {
		log.Printf("[queue] request %d: increment usage: %v", req.ID, err)
	}
}

// handleRateLimited records the 429 and returns the request to the
// queue deferred by the effective backoff, so the next attempt waits
// out the provider's Retry-After without blocking the worker.
func (w *Worker) handleRateLimited(ctx context.Context, req *database.QueuedRequest, status int, headers map[string]string, body string) {
	attempt := req.RetryCount + 1
	if _, err := w.events.RecordEvent(ctx, ratelimit.EventParams{
		ProviderID:    req.ProviderID,
		ProjectID:     req.ProjectID,
		SessionID:     req.SessionID,
		HTTPStatus:    status,
		Endpoint:      req.Endpoint,
		Method:        req.Method,
		Headers:       headers,
		Body:          body,
		AttemptNumber: attempt,
	}); err != nil {
		log.Printf("[queue] request %d: record rate limit event: %v", req.ID, err)
	}

	delay := backoff.EffectiveDelay(ratelimit.HeaderValue(headers, "Retry-After"), attempt)
	log.Printf("[queue] request %d rate limited, retrying in %s", req.ID, delay.Round(time.Millisecond))
	if _, err := w.queue.MarkFailedAfter(ctx, req.ID, fmt.Sprintf("rate limited (HTTP %d)", status), delay); err != nil {
		log.Printf("[queue] request %d: mark failed: %v", req.ID, err)
	}
}

func (w *Worker) fail(ctx context.Context, req *database.QueuedRequest, msg string) {
	if _, err := w.queue.MarkFailed(ctx, req.ID, msg); err != nil {
		log.Printf("[queue] request %d: mark failed: %v", req.ID, err)
	}
}

// requeue returns a claimed request to pending without consuming a
// retry, used on shutdown.
func (w *Worker) requeue(req *database.QueuedRequest) {
	err := w.queue.db.Model(&database.QueuedRequest{}).
		Where("id = ? AND status = ?", req.ID, database.QueueProcessing).
		Update("status", database.QueuePending).Error
	if err != nil {
		log.Printf("[queue] request %d: requeue: %v", req.ID, err)
	}
}

// dispatch replays the stored request against its endpoint.
func (w *Worker) dispatch(ctx context.Context, req *database.QueuedRequest) (status int, headers map[string]string, body string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Endpoint, strings.NewReader(req.Payload))
	if err != nil {
		return 0, nil, "", fmt.Errorf("build request: %w", err)
	}

	stored := map[string]string{}
	if req.Headers != "" {
		if err := json.Unmarshal([]byte(req.Headers), &stored); err != nil {
			return 0, nil, "", fmt.Errorf("parse stored headers: %w", err)
		}
	}
	for k, v := range stored {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" && req.Payload != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, "", fmt.Errorf("read response: %w", err)
	}

	headers = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, headers, string(raw), nil
}

func truncateBody(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}
