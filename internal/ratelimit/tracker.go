package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quotagate/quotagate/internal/backoff"
	"github.com/quotagate/quotagate/internal/database"
	"github.com/quotagate/quotagate/internal/faults"
	"github.com/quotagate/quotagate/internal/logutil"
	"gorm.io/gorm"
)

// DefaultMaxAttempts bounds the retry lifecycle of one event.
const DefaultMaxAttempts = 5

// Tracker persists rate-limit events and drives their state machine:
// detected -> retrying -> {resolved, failed}.
type Tracker struct {
	db    *gorm.DB
	sink  notifySink
	nowFn func() time.Time
}

// notifySink is the subset of notify.Sink the tracker needs; declared
// locally so tests can stub it without importing the hub.
type notifySink interface {
	Notify(topic string, payload map[string]any)
}

func NewTracker(db *gorm.DB, sink notifySink) *Tracker {
	return &Tracker{db: db, sink: sink, nowFn: time.Now}
}

// EventParams describes one detected 429 occurrence.
type EventParams struct {
	ProviderID    uint
	ProjectID     *uint
	SessionID     *string
	HTTPStatus    int
	Endpoint      string
	Method        string
	Headers       map[string]string
	Body          string
	AttemptNumber int
	MaxAttempts   int // 0 means DefaultMaxAttempts
}

// RecordEvent validates the provider, extracts any Retry-After hint and
// persists a new event in state detected.
func (t *Tracker) RecordEvent(ctx context.Context, p EventParams) (*database.RateLimitEvent, error) {
	var provider database.Provider
	if err := t.db.WithContext(ctx).First(&provider, p.ProviderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NotFoundf("provider %d", p.ProviderID)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	if p.AttemptNumber < 1 {
		p.AttemptNumber = 1
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	ev := database.RateLimitEvent{
		ProviderID:    p.ProviderID,
		ProjectID:     p.ProjectID,
		SessionID:     p.SessionID,
		Endpoint:      p.Endpoint,
		Method:        p.Method,
		HTTPStatus:    p.HTTPStatus,
		Status:        database.EventDetected,
		AttemptNumber: p.AttemptNumber,
		MaxAttempts:   p.MaxAttempts,
		ErrorDetails:  truncate(p.Body, 2000),
	}

	if header := HeaderValue(p.Headers, "Retry-After"); header != "" {
		if secs, at, ok := backoff.ParseRetryAfter(header); ok {
			ev.RetryAfterSeconds = &secs
			ev.RetryAfterDate = at
		} else {
			log.Printf("[ratelimit] unparseable Retry-After %q from %s", logutil.SanitizeForLog(header), provider.Name)
		}
	}

	if err := t.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return nil, fmt.Errorf("create rate limit event: %w", err)
	}

	t.sink.Notify("rate_limit.detected", map[string]any{
		"event_id": ev.ID,
		"provider": provider.Name,
		"endpoint": ev.Endpoint,
		"attempt":  ev.AttemptNumber,
	})

	return &ev, nil
}

// MarkRetrying transitions an event to retrying and records the backoff
// the caller is about to honor. Rejected unless the event still has
// retry budget.
func (t *Tracker) MarkRetrying(ctx context.Context, id uint, base, jitter time.Duration) (*database.RateLimitEvent, error) {
	ev, err := t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.ShouldRetry() {
		return nil, faults.InvalidTransitionf("event %d: %s with attempt %d/%d cannot retry",
			id, ev.Status, ev.AttemptNumber, ev.MaxAttempts)
	}

	updates := map[string]any{
		"status":                     database.EventRetrying,
		"calculated_backoff_seconds": base.Seconds(),
		"jitter_seconds":             jitter.Seconds(),
	}
	if err := t.db.WithContext(ctx).Model(ev).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update event %d: %w", id, err)
	}
	return ev, nil
}

// MarkResolved records a successful retry. Terminal.
func (t *Tracker) MarkResolved(ctx context.Context, id uint) error {
	ev, err := t.get(ctx, id)
	if err != nil {
		return err
	}
	if !ev.Status.CanTransition(database.EventResolved) {
		return faults.InvalidTransitionf("event %d: %s -> resolved", id, ev.Status)
	}

	now := t.nowFn()
	if err := t.db.WithContext(ctx).Model(ev).Updates(map[string]any{
		"status":      database.EventResolved,
		"resolved_at": now,
	}).Error; err != nil {
		return fmt.Errorf("resolve event %d: %w", id, err)
	}

	t.sink.Notify("rate_limit.resolved", map[string]any{"event_id": id})
	return nil
}

// MarkFailed records exhausted attempts. Terminal; details are kept for
// operator inspection.
func (t *Tracker) MarkFailed(ctx context.Context, id uint, details string) error {
	ev, err := t.get(ctx, id)
	if err != nil {
		return err
	}
	if !ev.Status.CanTransition(database.EventFailed) {
		return faults.InvalidTransitionf("event %d: %s -> failed", id, ev.Status)
	}

	if err := t.db.WithContext(ctx).Model(ev).Updates(map[string]any{
		"status":        database.EventFailed,
		"error_details": truncate(details, 2000),
	}).Error; err != nil {
		return fmt.Errorf("fail event %d: %w", id, err)
	}

	t.sink.Notify("rate_limit.failed", map[string]any{"event_id": id, "details": truncate(details, 200)})
	return nil
}

// Get returns one event by ID.
func (t *Tracker) Get(ctx context.Context, id uint) (*database.RateLimitEvent, error) {
	return t.get(ctx, id)
}

// List returns recent events, newest first, optionally filtered by
// provider.
func (t *Tracker) List(ctx context.Context, providerID *uint, limit int) ([]database.RateLimitEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := t.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if providerID != nil {
		q = q.Where("provider_id = ?", *providerID)
	}
	var events []database.RateLimitEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (t *Tracker) get(ctx context.Context, id uint) (*database.RateLimitEvent, error) {
	var ev database.RateLimitEvent
	if err := t.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NotFoundf("rate limit event %d", id)
		}
		return nil, err
	}
	return &ev, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
