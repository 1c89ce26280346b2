package core

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies the handler for a scheduled action.
type ActionKind int

const (
	ActionKindUnknown ActionKind = iota
	ActionKindRunTask
	ActionKindExecutePipeline
	ActionKindSendNotification
	ActionKindCallAPI
)

// String returns the canonical lowercase token for the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionKindRunTask:
		return "run_task"
	case ActionKindExecutePipeline:
		return "execute_pipeline"
	case ActionKindSendNotification:
		return "send_notification"
	case ActionKindCallAPI:
		return "call_api"
	default:
		return "unknown"
	}
}

// ParseActionKind parses an action kind token.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(s) {
	case "run_task":
		return ActionKindRunTask, nil
	case "execute_pipeline":
		return ActionKindExecutePipeline, nil
	case "send_notification":
		return ActionKindSendNotification, nil
	case "call_api":
		return ActionKindCallAPI, nil
	default:
		return ActionKindUnknown, fmt.Errorf("invalid action kind: %q", s)
	}
}

// ScheduleKind identifies how an action's next run time advances.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
	ScheduleOnce
	ScheduleEvent
)

// String returns the canonical lowercase token for the schedule kind.
func (k ScheduleKind) String() string {
	switch k {
	case ScheduleCron:
		return "cron"
	case ScheduleInterval:
		return "interval"
	case ScheduleOnce:
		return "once"
	case ScheduleEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ParseScheduleKind parses a schedule kind token.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	switch strings.ToLower(s) {
	case "cron":
		return ScheduleCron, nil
	case "interval":
		return ScheduleInterval, nil
	case "once":
		return ScheduleOnce, nil
	case "event":
		return ScheduleEvent, nil
	default:
		return ScheduleCron, fmt.Errorf("invalid schedule kind: %q", s)
	}
}

// ActionStatus represents the administrative state of a scheduled action.
type ActionStatus int

const (
	ActionActive ActionStatus = iota
	ActionPaused
	ActionDisabled
	ActionExpired
)

// String returns the canonical lowercase token for the action status.
func (s ActionStatus) String() string {
	switch s {
	case ActionActive:
		return "active"
	case ActionPaused:
		return "paused"
	case ActionDisabled:
		return "disabled"
	case ActionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseActionStatus parses an action status token.
func ParseActionStatus(s string) (ActionStatus, error) {
	switch strings.ToLower(s) {
	case "active":
		return ActionActive, nil
	case "paused":
		return ActionPaused, nil
	case "disabled":
		return ActionDisabled, nil
	case "expired":
		return ActionExpired, nil
	default:
		return ActionActive, fmt.Errorf("invalid action status: %q", s)
	}
}

// TriggerSource records what caused a dispatch attempt.
type TriggerSource int

const (
	TriggeredByScheduler TriggerSource = iota
	TriggeredByRecovery
	TriggeredByManual
)

// String returns the canonical lowercase token for the trigger source.
func (t TriggerSource) String() string {
	switch t {
	case TriggeredByScheduler:
		return "scheduler"
	case TriggeredByRecovery:
		return "recovery"
	case TriggeredByManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseTriggerSource parses a trigger source token.
func ParseTriggerSource(s string) (TriggerSource, error) {
	switch strings.ToLower(s) {
	case "scheduler":
		return TriggeredByScheduler, nil
	case "recovery":
		return TriggeredByRecovery, nil
	case "manual":
		return TriggeredByManual, nil
	default:
		return TriggeredByScheduler, fmt.Errorf("invalid trigger source: %q", s)
	}
}

// ActionRunStatus represents the lifecycle of one dispatch attempt.
type ActionRunStatus int

const (
	ActionRunPending ActionRunStatus = iota
	ActionRunRunning
	ActionRunCompleted
	ActionRunFailed
)

// String returns the canonical lowercase token for the run status.
func (s ActionRunStatus) String() string {
	switch s {
	case ActionRunPending:
		return "pending"
	case ActionRunRunning:
		return "running"
	case ActionRunCompleted:
		return "completed"
	case ActionRunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseActionRunStatus parses an action run status token.
func ParseActionRunStatus(s string) (ActionRunStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return ActionRunPending, nil
	case "running":
		return ActionRunRunning, nil
	case "completed":
		return ActionRunCompleted, nil
	case "failed":
		return ActionRunFailed, nil
	default:
		return ActionRunPending, fmt.Errorf("invalid action run status: %q", s)
	}
}

// ScheduledAction is a recurring or one-shot trigger. The integer ID
// doubles as the advisory-lock resource key, so it must stay within
// the store's lock key domain.
type ScheduledAction struct {
	ID              int64          `json:"id"`
	AgentID         string         `json:"agentId,omitempty"`
	Kind            ActionKind     `json:"kind"`
	Config          map[string]any `json:"config,omitempty"`
	ScheduleKind    ScheduleKind   `json:"scheduleKind"`
	CronExpression  string         `json:"cronExpression,omitempty"`
	Interval        time.Duration  `json:"interval,omitempty"`
	RunAt           *time.Time     `json:"runAt,omitempty"`
	EventName       string         `json:"eventName,omitempty"`
	Status          ActionStatus   `json:"status"`
	NextRunAt       *time.Time     `json:"nextRunAt,omitempty"`
	Timeout         time.Duration  `json:"timeout,omitempty"`
	MaxRetries      int            `json:"maxRetries,omitempty"`
	RetryDelay      time.Duration  `json:"retryDelay,omitempty"`
	AllowConcurrent bool           `json:"allowConcurrent,omitempty"`
	ExecutionCount  int            `json:"executionCount"`
	LastRunStatus   string         `json:"lastRunStatus,omitempty"`
}

// ScheduledActionRun is one dispatch attempt for an action. The tuple
// (ActionID, TriggeredAt) identifies a dispatch window; the recovery
// deduplication query depends on it.
type ScheduledActionRun struct {
	ID          int64           `json:"id"`
	ActionID    int64           `json:"actionId"`
	TriggeredAt time.Time       `json:"triggeredAt"`
	TriggeredBy TriggerSource   `json:"triggeredBy"`
	Status      ActionRunStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retryCount"`
}
