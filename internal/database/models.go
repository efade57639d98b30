package database

import "time"

// Provider is immutable reference data describing one external API
// provider and its quota reset policy. Rows are seeded at startup and
// rarely updated.
type Provider struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"` // claude, gemini, openai, cursor, ...
	DisplayName string `gorm:"not null" json:"display_name"`

	// Informational per-window limits, not enforced here.
	RequestsPerMinute int `gorm:"not null;default:0" json:"requests_per_minute"`
	RequestsPerHour   int `gorm:"not null;default:0" json:"requests_per_hour"`
	TokensPerMinute   int `gorm:"not null;default:0" json:"tokens_per_minute"`
	TokensPerDay      int `gorm:"not null;default:0" json:"tokens_per_day"`

	DefaultQuotaLimit    int64     `gorm:"not null;default:1000" json:"default_quota_limit"`
	QuotaResetType       ResetType `gorm:"not null;default:daily" json:"quota_reset_type"`
	QuotaResetHour       int       `gorm:"not null;default:0" json:"quota_reset_hour"`
	QuotaResetDayOfMonth int       `gorm:"not null;default:1" json:"quota_reset_day_of_month"`
	QuotaResetTimezone   string    `gorm:"not null;default:UTC" json:"quota_reset_timezone"`
	IsActive             bool      `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Project is owned by the surrounding platform; this core only reads
// its priority and flips its status when auto-pausing. The auto-pause
// settings live alongside the project.
type Project struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"uniqueIndex;not null" json:"name"`
	Priority     ProjectPriority `gorm:"not null;default:medium" json:"priority"`
	Status       ProjectStatus   `gorm:"not null;default:idle" json:"status"`
	ActiveAgents int             `gorm:"not null;default:0" json:"active_agents"`

	AutoPauseEnabled      bool    `gorm:"not null;default:true" json:"auto_pause_enabled"`
	PauseThresholdPercent float64 `gorm:"not null;default:95" json:"pause_threshold_percent"`
	WarnThresholdPercent  float64 `gorm:"not null;default:80" json:"warn_threshold_percent"`
	AutoResume            bool    `gorm:"not null;default:true" json:"auto_resume"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuotaUsage holds the rolling usage counters for one (provider,
// project) pair; a NULL project is the provider-global row. The unique
// index enforces at most one row per pair. PeriodEnd is always the next
// reset instant computed from the owning provider's policy at the time
// of the last reset.
type QuotaUsage struct {
	ID         uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID uint  `gorm:"not null;uniqueIndex:idx_usage_scope" json:"provider_id"`
	ProjectID  *uint `gorm:"uniqueIndex:idx_usage_scope" json:"project_id,omitempty"`

	CurrentRequests  int64 `gorm:"not null;default:0" json:"current_requests"`
	CurrentTokens    int64 `gorm:"not null;default:0" json:"current_tokens"`
	QuotaLimit       int64 `gorm:"not null;default:0" json:"quota_limit"`
	QuotaLimitTokens int64 `gorm:"not null;default:0" json:"quota_limit_tokens"`

	PeriodStart   time.Time  `gorm:"not null" json:"period_start"`
	PeriodEnd     time.Time  `gorm:"not null" json:"period_end"`
	LastResetAt   *time.Time `json:"last_reset_at,omitempty"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
	OverageCount  int        `gorm:"not null;default:0" json:"overage_count"`
	LastAlertAt   *time.Time `json:"last_alert_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UsagePercent returns the request counter as a percentage of the
// quota limit. A zero or missing limit reads as 0%.
func (u *QuotaUsage) UsagePercent() float64 {
	if u.QuotaLimit <= 0 {
		return 0
	}
	return float64(u.CurrentRequests) / float64(u.QuotaLimit) * 100
}

// IsOverLimit reports whether the request counter has reached the
// quota limit.
func (u *QuotaUsage) IsOverLimit() bool {
	return u.QuotaLimit > 0 && u.CurrentRequests >= u.QuotaLimit
}

// AlertConfig holds alert thresholds and channels for a (provider,
// project) scope. Both IDs NULL is the global fallback, created lazily
// with defaults on first lookup.
type AlertConfig struct {
	ID         uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID *uint `gorm:"uniqueIndex:idx_alert_scope" json:"provider_id,omitempty"`
	ProjectID  *uint `gorm:"uniqueIndex:idx_alert_scope" json:"project_id,omitempty"`

	WarningThreshold   float64 `gorm:"not null;default:80" json:"warning_threshold"`
	CriticalThreshold  float64 `gorm:"not null;default:90" json:"critical_threshold"`
	EmergencyThreshold float64 `gorm:"not null;default:95" json:"emergency_threshold"`

	DashboardEnabled bool `gorm:"not null;default:true" json:"dashboard_enabled"`
	DesktopEnabled   bool `gorm:"not null;default:true" json:"desktop_enabled"`
	AudioEnabled     bool `gorm:"not null;default:true" json:"audio_enabled"`

	CooldownMinutes   int  `gorm:"not null;default:30" json:"cooldown_minutes"`
	EscalationEnabled bool `gorm:"not null;default:true" json:"escalation_enabled"`
	EscalationMinutes int  `gorm:"not null;default:15" json:"escalation_minutes"`
	MaxEscalations    int  `gorm:"not null;default:3" json:"max_escalations"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuotaAlert is one threshold-crossing alert for a QuotaUsage. At most
// one active alert exists per (usage, type); repeated crossings update
// the active row in place. Alerts resolve automatically when their
// usage resets.
type QuotaAlert struct {
	ID           uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	QuotaUsageID uint        `gorm:"not null;index" json:"quota_usage_id"`
	AlertType    AlertType   `gorm:"not null" json:"alert_type"`
	Status       AlertStatus `gorm:"not null;default:active;index" json:"status"`

	ThresholdPercent float64 `gorm:"not null;default:0" json:"threshold_percent"`
	CurrentUsage     int64   `gorm:"not null;default:0" json:"current_usage"`
	QuotaLimit       int64   `gorm:"not null;default:0" json:"quota_limit"`
	Message          string  `json:"message"`
	Channels         string  `json:"channels"` // comma-joined channel names

	EscalationCount int        `gorm:"not null;default:0" json:"escalation_count"`
	EscalationAt    *time.Time `json:"escalation_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RateLimitEvent records one detected provider rate-limit rejection and
// the retry lifecycle that follows it. Terminal once resolved or
// failed.
type RateLimitEvent struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID uint    `gorm:"not null;index" json:"provider_id"`
	ProjectID  *uint   `gorm:"index" json:"project_id,omitempty"`
	SessionID  *string `gorm:"size:64" json:"session_id,omitempty"`

	Endpoint   string      `json:"endpoint"`
	Method     string      `json:"method"`
	HTTPStatus int         `gorm:"not null;default:0" json:"http_status"`
	Status     EventStatus `gorm:"not null;default:detected;index" json:"status"`

	AttemptNumber int `gorm:"not null;default:1" json:"attempt_number"`
	MaxAttempts   int `gorm:"not null;default:5" json:"max_attempts"`

	RetryAfterSeconds        *int       `json:"retry_after_seconds,omitempty"`
	RetryAfterDate           *time.Time `json:"retry_after_date,omitempty"`
	CalculatedBackoffSeconds float64    `gorm:"not null;default:0" json:"calculated_backoff_seconds"`
	JitterSeconds            float64    `gorm:"not null;default:0" json:"jitter_seconds"`

	ErrorDetails string     `gorm:"type:text" json:"error_details,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShouldRetry reports whether another attempt is permitted: the event
// is not terminal and attempts are not exhausted.
func (e *RateLimitEvent) ShouldRetry() bool {
	return e.AttemptNumber < e.MaxAttempts &&
		(e.Status == EventDetected || e.Status == EventRetrying)
}

// QueuedRequest is one deferred outbound provider call.
type QueuedRequest struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	QueueKey   string  `gorm:"uniqueIndex;not null;size:36" json:"queue_key"`
	ProviderID uint    `gorm:"not null;index" json:"provider_id"`
	ProjectID  *uint   `gorm:"index" json:"project_id,omitempty"`
	SessionID  *string `gorm:"size:64" json:"session_id,omitempty"`

	Endpoint string `gorm:"not null" json:"endpoint"`
	Method   string `gorm:"not null;default:POST" json:"method"`
	Payload  string `gorm:"type:text" json:"payload"`
	Headers  string `gorm:"type:text;default:'{}'" json:"headers"` // JSON object

	Priority Priority    `gorm:"not null;default:medium;index" json:"priority"`
	Status   QueueStatus `gorm:"not null;default:pending;index" json:"status"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries  int        `gorm:"not null;default:3" json:"max_retries"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the request reached a final state.
func (r *QueuedRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// AutoPauseLog records one pause/resume/override cycle for a project.
type AutoPauseLog struct {
	ID        uint `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint `gorm:"not null;index" json:"project_id"`

	Trigger          string          `gorm:"not null" json:"trigger"`
	Status           PauseStatus     `gorm:"not null;default:pending;index" json:"status"`
	ThresholdPercent float64         `gorm:"not null;default:0" json:"threshold_percent"`
	PriorityAtPause  ProjectPriority `json:"priority_at_pause"`

	ResumedAt    *time.Time `json:"resumed_at,omitempty"`
	OverriddenBy string     `json:"overridden_by,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
