// Package queue persists deferred provider requests and drains them in
// strict priority order once quota headroom returns. Sustained
// high-priority traffic starves lower tiers; that is the intended
// policy, not an oversight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quotagate/quotagate/internal/backoff"
	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"gorm.io/gorm"
)

type notifySink interface {
	Notify(topic string, payload map[string]any)
}

// QuotaReader is the slice of the quota tracker the queue needs for
// admission decisions.
type QuotaReader interface {
	GetOrCreateUsage(ctx context.Context, providerID uint, projectID *uint) (*database.QuotaUsage, error)
}

// Queue owns the QueuedRequest rows.
type Queue struct {
	db    *gorm.DB
	sink  notifySink
	quota QuotaReader
	nowFn func() time.Time
}

func NewQueue(db *gorm.DB, sink notifySink, quota QuotaReader) *Queue {
	return &Queue{db: db, sink: sink, quota: quota, nowFn: time.Now}
}

// EnqueueParams describes one deferred request.
type EnqueueParams struct {
	ProviderID uint
	ProjectID  *uint
	SessionID  *string
	Endpoint   string
	Method     string
	Payload    string
	Headers    string // JSON object
	Priority   database.Priority
	MaxRetries int
}

// Enqueue inserts a pending request with a fresh idempotency key.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*database.QueuedRequest, error) {
	if err := q.checkScope(ctx, p.ProviderID, p.ProjectID); err != nil {
		return nil, err
	}

	if p.Method == "" {
		p.Method = "POST"
	}
	if p.Headers == "" {
		p.Headers = "{}"
	}
	if !p.Priority.Valid() {
		p.Priority = database.PriorityMedium
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}

	req := database.QueuedRequest{
		QueueKey:   uuid.NewString(),
		ProviderID: p.ProviderID,
		ProjectID:  p.ProjectID,
		SessionID:  p.SessionID,
		Endpoint:   p.Endpoint,
		Method:     p.Method,
		Payload:    p.Payload,
		Headers:    p.Headers,
		Priority:   p.Priority,
		Status:     database.QueuePending,
		MaxRetries: p.MaxRetries,
	}
	if err := q.db.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, fmt.Errorf("enqueue request: %w", err)
	}
	return &req, nil
}

// priorityOrder sorts high before medium before low in SQL, then FIFO
// within a tier.
const priorityOrder = "CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, created_at ASC, id ASC"

// Dequeue claims up to limit due pending requests and moves them to
// processing. Each row is claimed with a status-guarded UPDATE, so two
// consumers racing over the same set never both receive a row even on
// dialects without SKIP LOCKED.
func (q *Queue) Dequeue(ctx context.Context, limit int, providerID *uint) ([]database.QueuedRequest, error) {
	if limit <= 0 {
		limit = 10
	}
	now := q.nowFn()

	var claimed []database.QueuedRequest
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []database.QueuedRequest
		sel := database.LockSkipLocked(tx).
			Where("status = ?", database.QueuePending).
			Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
			Order(priorityOrder).
			Limit(limit)
		if providerID != nil {
			sel = sel.Where("provider_id = ?", *providerID)
		}
		if err := sel.Find(&candidates).Error; err != nil {
			return fmt.Errorf("select pending: %w", err)
		}

		for i := range candidates {
			res := tx.Model(&database.QueuedRequest{}).
				Where("id = ? AND status = ?", candidates[i].ID, database.QueuePending).
				Update("status", database.QueueProcessing)
			if res.Error != nil {
				return fmt.Errorf("claim request %d: %w", candidates[i].ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// Lost the race to another consumer.
				continue
			}
			candidates[i].Status = database.QueueProcessing
			claimed = append(claimed, candidates[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted finishes a processing request.
func (q *Queue) MarkCompleted(ctx context.Context, id uint) error {
	req, err := q.get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransition(database.QueueCompleted) {
		return faults.InvalidTransitionf("request %d: %s -> completed", id, req.Status)
	}

	now := q.nowFn()
	return q.db.WithContext(ctx).Model(req).Updates(map[string]any{
		"status":       database.QueueCompleted,
		"completed_at": now,
	}).Error
}

// MarkFailed records a failed attempt. While the retry budget still has
// room the request loops back to pending, deferred by the shared backoff
// schedule keyed on the attempt count; once the budget is spent it fails
// terminally.
func (q *Queue) MarkFailed(ctx context.Context, id uint, errMsg string) (*database.QueuedRequest, error) {
	return q.markFailed(ctx, id, errMsg, nil)
}

// MarkFailedAfter is MarkFailed with an explicit retry deferral, used
// when the provider dictated the wait via Retry-After.
func (q *Queue) MarkFailedAfter(ctx context.Context, id uint, errMsg string, delay time.Duration) (*database.QueuedRequest, error) {
	return q.markFailed(ctx, id, errMsg, &delay)
}

func (q *Queue) markFailed(ctx context.Context, id uint, errMsg string, delay *time.Duration) (*database.QueuedRequest, error) {
	req, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.RetryCount < req.MaxRetries {
		if !req.Status.CanTransition(database.QueuePending) {
			return nil, faults.InvalidTransitionf("request %d: %s -> pending", id, req.Status)
		}
		req.RetryCount++
		wait := backoff.Delay(req.RetryCount)
		if delay != nil {
			wait = *delay
		}
		next := q.nowFn().Add(wait)
		if err := q.db.WithContext(ctx).Model(req).Updates(map[string]any{
			"status":       database.QueuePending,
			"retry_count":  req.RetryCount,
			"scheduled_at": next,
			"last_error":   errMsg,
		}).Error; err != nil {
			return nil, err
		}
		req.Status = database.QueuePending
		req.ScheduledAt = &next
		req.LastError = errMsg
		return req, nil
	}

	if !req.Status.CanTransition(database.QueueFailed) {
		return nil, faults.InvalidTransitionf("request %d: %s -> failed", id, req.Status)
	}
	if err := q.db.WithContext(ctx).Model(req).Updates(map[string]any{
		"status":     database.QueueFailed,
		"last_error": errMsg,
	}).Error; err != nil {
		return nil, err
	}
	req.Status = database.QueueFailed
	req.LastError = errMsg
	if q.sink != nil {
		q.sink.Notify("queue.failed", map[string]any{
			"request_id": req.ID,
			"queue_key":  req.QueueKey,
			"error":      errMsg,
		})
	}
	return req, nil
}

// Cancel withdraws a pending or processing request.
func (q *Queue) Cancel(ctx context.Context, id uint) error {
	req, err := q.get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransition(database.QueueCancelled) {
		return faults.InvalidTransitionf("request %d: %s -> cancelled", id, req.Status)
	}
	return q.db.WithContext(ctx).Model(req).Update("status", database.QueueCancelled).Error
}

// FlushParams filters a bulk delete of terminal rows.
type FlushParams struct {
	Statuses   []database.QueueStatus // defaults to all terminal statuses
	ProviderID *uint
	ProjectID  *uint
	OlderThan  *time.Time
}

// Flush deletes terminal rows matching the filters and returns the
// per-status delete counts. Non-terminal statuses in the filter are
// rejected.
func (q *Queue) Flush(ctx context.Context, p FlushParams) (map[database.QueueStatus]int64, error) {
	statuses := p.Statuses
	if len(statuses) == 0 {
		statuses = []database.QueueStatus{database.QueueCompleted, database.QueueFailed, database.QueueCancelled}
	}
	for _, s := range statuses {
		if !s.IsTerminal() {
			return nil, fmt.Errorf("flush: status %q is not terminal", s)
		}
	}

	counts := make(map[database.QueueStatus]int64, len(statuses))
	for _, s := range statuses {
		del := q.db.WithContext(ctx).Where("status = ?", s)
		if p.ProviderID != nil {
			del = del.Where("provider_id = ?", *p.ProviderID)
		}
		if p.ProjectID != nil {
			del = del.Where("project_id = ?", *p.ProjectID)
		}
		if p.OlderThan != nil {
			del = del.Where("updated_at < ?", *p.OlderThan)
		}
		res := del.Delete(&database.QueuedRequest{})
		if res.Error != nil {
			return nil, fmt.Errorf("flush %s: %w", s, res.Error)
		}
		counts[s] = res.RowsAffected
	}
	return counts, nil
}

// ShouldQueueRequest is the admission signal: callers ask before
// dispatching to a provider, and queue instead when the quota is spent
// or nearly so.
func (q *Queue) ShouldQueueRequest(ctx context.Context, providerID uint, projectID *uint) (bool, string, error) {
	usage, err := q.quota.GetOrCreateUsage(ctx, providerID, projectID)
	if err != nil {
		return false, "", err
	}

	if usage.IsOverLimit() {
		return true, fmt.Sprintf("Quota exceeded: %d/%d", usage.CurrentRequests, usage.QuotaLimit), nil
	}
	if percent := usage.UsagePercent(); percent >= 90 {
		return true, fmt.Sprintf("Quota nearly exhausted: %.1f%%", percent), nil
	}
	return false, "", nil
}

// List returns queued requests newest first, optionally filtered by
// status.
func (q *Queue) List(ctx context.Context, status *database.QueueStatus, limit int) ([]database.QueuedRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	sel := q.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != nil {
		sel = sel.Where("status = ?", *status)
	}
	var reqs []database.QueuedRequest
	if err := sel.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// Stats counts requests per status.
func (q *Queue) Stats(ctx context.Context) (map[database.QueueStatus]int64, error) {
	type row struct {
		Status database.QueueStatus
		N      int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&database.QueuedRequest{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[database.QueueStatus]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.N
	}
	return stats, nil
}

func (q *Queue) get(ctx context.Context, id uint) (*database.QueuedRequest, error) {
	var req database.QueuedRequest
	if err := q.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NotFoundf("queued request %d", id)
		}
		return nil, err
	}
	return &req, nil
}

func (q *Queue) checkScope(ctx context.Context, providerID uint, projectID *uint) error {
	var count int64
	if err := q.db.WithContext(ctx).Model(&database.Provider{}).Where("id = ?", providerID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return faults.NotFoundf("provider %d", providerID)
	}
	if projectID != nil {
		if err := q.db.WithContext(ctx).Model(&database.Project{}).Where("id = ?", *projectID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return faults.NotFoundf("project %d", *projectID)
		}
	}
	return nil
}
