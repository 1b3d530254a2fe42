package scheduled

import (
	"fmt"
	"strings"
	"time"

	domainErrors "go-line-scheduler/src/domain/errors"
)

// Status is the lifecycle state of a ScheduledMessage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition encodes the message state machine:
// pending -> sending -> {sent, failed}, pending -> cancelled.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSending || to == StatusCancelled
	case StatusSending:
		return to == StatusSent || to == StatusFailed
	default:
		return false
	}
}

// TargetType is the kind of chat destination the recipients belong to.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
	TargetRoom  TargetType = "room"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetUser, TargetGroup, TargetRoom:
		return true
	}
	return false
}

// ScheduledMessage is one unit of outbound work.
type ScheduledMessage struct {
	ID            int
	Content       string
	ImageRefs     []string
	ScheduledTime time.Time
	TargetType    TargetType
	TargetIDs     []string // not deduplicated, delivered in order
	ImageFirst    bool
	CredentialRef string // empty means the process default credential
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasContent reports whether there is at least one block to deliver.
func (m *ScheduledMessage) HasContent() bool {
	return strings.TrimSpace(m.Content) != "" || len(m.ImageRefs) > 0
}

// Validate checks the invariants a message must satisfy before it is stored as pending.
func (m *ScheduledMessage) Validate() error {
	if len(m.TargetIDs) == 0 {
		return domainErrors.NewAppError(fmt.Errorf("targetIds must not be empty"), domainErrors.ValidationError)
	}
	for i, id := range m.TargetIDs {
		if strings.TrimSpace(id) == "" {
			return domainErrors.NewAppError(fmt.Errorf("targetIds[%d] is blank", i), domainErrors.ValidationError)
		}
	}
	if !m.TargetType.Valid() {
		return domainErrors.NewAppError(fmt.Errorf("unsupported targetType %q", m.TargetType), domainErrors.ValidationError)
	}
	if !m.HasContent() {
		return domainErrors.NewAppError(fmt.Errorf("message has neither content nor images"), domainErrors.ValidationError)
	}
	if m.ScheduledTime.IsZero() {
		return domainErrors.NewAppError(fmt.Errorf("scheduledTime is required"), domainErrors.ValidationError)
	}
	return nil
}

// DeliveryAttemptLog is an append-only record of one terminal processing of a message.
type DeliveryAttemptLog struct {
	ID        int
	MessageID int
	Status    Status
	Error     string
	CreatedAt time.Time
}
