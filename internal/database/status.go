package database

// Closed status and priority dimensions. Each status field is a typed
// string with an explicit transition table; services reject anything
// outside these tables with faults.ErrInvalidTransition instead of
// writing free-form strings.

// ResetType selects how a provider's quota period rolls over.
type ResetType string

const (
	ResetDaily     ResetType = "daily"
	ResetMonthly   ResetType = "monthly"
	ResetFixedDate ResetType = "fixed_date"
)

func (t ResetType) Valid() bool {
	switch t {
	case ResetDaily, ResetMonthly, ResetFixedDate:
		return true
	}
	return false
}

// AlertType classifies a quota alert by the threshold tier it crossed.
type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
	AlertOverage  AlertType = "overage"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertWarning, AlertCritical, AlertOverage:
		return true
	}
	return false
}

// Rank orders alert types by severity, lowest first.
func (t AlertType) Rank() int {
	switch t {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertOverage:
		return 3
	}
	return 0
}

// AlertStatus is the lifecycle of a QuotaAlert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertAcknowledged, AlertResolved:
		return true
	}
	return false
}

// CanTransition reports whether the alert may move to the given state.
// Acknowledged alerts may still be resolved; resolved is terminal.
func (s AlertStatus) CanTransition(to AlertStatus) bool {
	switch s {
	case AlertActive:
		return to == AlertAcknowledged || to == AlertResolved
	case AlertAcknowledged:
		return to == AlertResolved
	}
	return false
}

// EventStatus is the lifecycle of a RateLimitEvent:
// detected -> retrying -> {resolved, failed}.
type EventStatus string

const (
	EventDetected EventStatus = "detected"
	EventRetrying EventStatus = "retrying"
	EventResolved EventStatus = "resolved"
	EventFailed   EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventDetected, EventRetrying, EventResolved, EventFailed:
		return true
	}
	return false
}

func (s EventStatus) IsTerminal() bool {
	return s == EventResolved || s == EventFailed
}

func (s EventStatus) CanTransition(to EventStatus) bool {
	switch s {
	case EventDetected:
		return to == EventRetrying || to == EventResolved || to == EventFailed
	case EventRetrying:
		return to == EventRetrying || to == EventResolved || to == EventFailed
	}
	return false
}

// Priority orders queued requests. Not weighted or fair: a sustained
// stream of high-priority work starves lower tiers.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities, lowest first.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

// QueueStatus is the lifecycle of a QueuedRequest:
// pending -> processing -> {completed, failed, cancelled}, with failed
// attempts below the retry budget looping back to pending.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

func (s QueueStatus) CanTransition(to QueueStatus) bool {
	switch s {
	case QueuePending:
		return to == QueueProcessing || to == QueueCancelled
	case QueueProcessing:
		// failed-with-retries-left loops back to pending
		return to == QueueCompleted || to == QueueFailed || to == QueueCancelled || to == QueuePending
	}
	return false
}

// ProjectPriority orders projects for auto-pause decisions; cheaper
// (lower) priorities are paused first.
type ProjectPriority string

const (
	ProjectLow      ProjectPriority = "low"
	ProjectMedium   ProjectPriority = "medium"
	ProjectHigh     ProjectPriority = "high"
	ProjectCritical ProjectPriority = "critical"
)

func (p ProjectPriority) Valid() bool {
	switch p {
	case ProjectLow, ProjectMedium, ProjectHigh, ProjectCritical:
		return true
	}
	return false
}

func (p ProjectPriority) Rank() int {
	switch p {
	case ProjectLow:
		return 1
	case ProjectMedium:
		return 2
	case ProjectHigh:
		return 3
	case ProjectCritical:
		return 4
	}
	return 0
}

// ProjectStatus mirrors the platform's project states. This core only
// ever writes paused, running and idle.
type ProjectStatus string

const (
	ProjectRunning   ProjectStatus = "running"
	ProjectIdle      ProjectStatus = "idle"
	ProjectPaused    ProjectStatus = "paused"
	ProjectError     ProjectStatus = "error"
	ProjectCompleted ProjectStatus = "completed"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectRunning, ProjectIdle, ProjectPaused, ProjectError, ProjectCompleted:
		return true
	}
	return false
}

// PauseStatus is the lifecycle of an AutoPauseLog:
// pending -> paused -> {resumed, overridden}.
type PauseStatus string

const (
	PausePending    PauseStatus = "pending"
	PausePaused     PauseStatus = "paused"
	PauseResumed    PauseStatus = "resumed"
	PauseOverridden PauseStatus = "overridden"
)

func (s PauseStatus) Valid() bool {
	switch s {
	case PausePending, PausePaused, PauseResumed, PauseOverridden:
		return true
	}
	return false
}

func (s PauseStatus) CanTransition(to PauseStatus) bool {
	switch s {
	case PausePending:
		return to == PausePaused
	case PausePaused:
		return to == PauseResumed || to == PauseOverridden
	}
	return false
}
