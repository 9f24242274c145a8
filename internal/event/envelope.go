package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeStaked
	EventTypeUnstaked
	EventTypeYieldClaimed
	EventTypeRebalanced
	EventTypeCycleAborted
	EventTypePrincipalSeeded
	EventTypeTreasurySwept
)

// Envelope wraps every committed event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Request id of the command that produced the event
	IdempotencyKey string

	EventType EventType

	// Versioned input timestamp (NOT wall-clock at apply time)
	Timestamp time.Time

	// JSON-encoded event payload (see Encode)
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all committed outcome events implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// OccurredAt returns the versioned timestamp stamped at execution
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeStaked:
		return "Staked"
	case EventTypeUnstaked:
		return "Unstaked"
	case EventTypeYieldClaimed:
		return "YieldClaimed"
	case EventTypeRebalanced:
		return "Rebalanced"
	case EventTypeCycleAborted:
		return "CycleAborted"
	case EventTypePrincipalSeeded:
		return "PrincipalSeeded"
	case EventTypeTreasurySwept:
		return "TreasurySwept"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeStaked; et <= EventTypeTreasurySwept; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
