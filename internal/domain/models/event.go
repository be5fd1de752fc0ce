package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the class of payload carried by an event.
type EventKind string

const (
	EventMarketDataUpdate      EventKind = "MARKET_DATA_UPDATE"
	EventMarketConditionUpdate EventKind = "MARKET_CONDITION_UPDATE"
	EventSignalGenerated       EventKind = "SIGNAL_GENERATED"
	EventRiskViolation         EventKind = "RISK_VIOLATION"
	EventEmergencyStop         EventKind = "EMERGENCY_STOP"
	EventSystemError           EventKind = "SYSTEM_ERROR"
)

// EventPriority orders dispatch on the bus. Higher values drain first.
type EventPriority int

const (
	PriorityLow EventPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p EventPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// EventStatus tracks an event through the bus lifecycle.
type EventStatus string

const (
	EventCreated        EventStatus = "CREATED"
	EventQueued         EventStatus = "QUEUED"
	EventDispatched     EventStatus = "DISPATCHED"
	EventProcessed      EventStatus = "PROCESSED"
	EventRetryScheduled EventStatus = "RETRY_SCHEDULED"
	EventFailed         EventStatus = "FAILED"
)

// Event is a unit of work on the bus. Once Status reaches PROCESSED or
// FAILED the event is immutable and survives only in the bus history.
type Event struct {
	ID            string         `json:"id"`
	Kind          EventKind      `json:"kind"`
	Source        string         `json:"source"`
	Payload       any            `json:"data"`
	Priority      EventPriority  `json:"priority"`
	Status        EventStatus    `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	ProcessedAt   *time.Time     `json:"processedAt,omitempty"`
	RetryCount    int            `json:"retryCount"`
	MaxRetries    int            `json:"maxRetries"`
	CorrelationID string         `json:"correlationId"`
}

// NewEvent creates an event in CREATED state. The correlation id defaults
// to the event's own id until overridden by the publisher.
func NewEvent(kind EventKind, source string, payload any, priority EventPriority) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Kind:          kind,
		Source:        source,
		Payload:       payload,
		Priority:      priority,
		Status:        EventCreated,
		CreatedAt:     time.Now(),
		MaxRetries:    3,
		CorrelationID: id,
	}
}

// Terminal reports whether the event reached a final state.
func (e *Event) Terminal() bool {
	return e.Status == EventProcessed || e.Status == EventFailed
}
