package outbox

import "fmt"

// OutboxEventStatus is a state of the outbox row lifecycle:
//
//	PENDING    -> PROCESSING
//	FAILED     -> PROCESSING
//	PROCESSING -> PROCESSING | PUBLISHED | FAILED | INVALID
//
// PUBLISHED and INVALID are terminal.
type OutboxEventStatus string

const (
	StatusPending    OutboxEventStatus = OutboxStatusPending
	StatusProcessing OutboxEventStatus = OutboxStatusProcessing
	StatusPublished  OutboxEventStatus = OutboxStatusPublished
	StatusFailed     OutboxEventStatus = OutboxStatusFailed
	StatusInvalid    OutboxEventStatus = OutboxStatusInvalid
)

// ParseOutboxEventStatus validates raw and converts it to a status.
func ParseOutboxEventStatus(raw string) (OutboxEventStatus, error) {
	status := OutboxEventStatus(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrOutboxStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether status belongs to the lifecycle.
func (status OutboxEventStatus) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusPublished, StatusFailed, StatusInvalid:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves status.
func (status OutboxEventStatus) IsTerminal() bool {
	return status == StatusPublished || status == StatusInvalid
}

// CanTransitionTo reports whether moving from status to next is allowed.
func (status OutboxEventStatus) CanTransitionTo(next OutboxEventStatus) bool {
	switch status {
	case StatusPending, StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusPublished || next == StatusFailed || next == StatusInvalid
	default:
		return false
	}
}

// ValidateOutboxTransition checks a transition between two raw statuses.
func ValidateOutboxTransition(fromRaw, toRaw string) error {
	from, err := ParseOutboxEventStatus(fromRaw)
	if err != nil {
		return fmt.Errorf("from status: %w", err)
	}

	to, err := ParseOutboxEventStatus(toRaw)
	if err != nil {
		return fmt.Errorf("to status: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrOutboxTransitionInvalid, from, to)
	}

	return nil
}

func (status OutboxEventStatus) String() string {
	return string(status)
}
