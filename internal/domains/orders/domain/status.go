package domain

import (
	"errors"
	"fmt"
)

// Status enumerates order progression. The order of lifecycle is authoritative.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
)

var lifecycle = []Status{StatusPending, StatusConfirmed, StatusOutForDelivery, StatusDelivered}

var (
	ErrInvalidStatus = errors.New("order status is invalid")
	// ErrInvalidTransition signals a status change that would skip a stage.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if s.rank() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

func (s Status) rank() int {
	for i, stage := range lifecycle {
		if stage == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no event can move the order further.
func (s Status) Terminal() bool { return s == StatusDelivered }

// Predecessor returns the stage an order must be in for s to be applied.
func (s Status) Predecessor() (Status, bool) {
	r := s.rank()
	if r <= 0 {
		return "", false
	}
	return lifecycle[r-1], true
}

// Decision is the outcome of comparing a stored status with a requested one.
type Decision int

const (
	// Apply means target is exactly the next stage.
	Apply Decision = iota
	// Noop means the order is already at or beyond target.
	Noop
	// Reject means target would skip at least one stage.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Noop:
		return "noop"
	default:
		return "reject"
	}
}

// Decide classifies moving an order from current to target.
func Decide(current, target Status) (Decision, error) {
	if !current.Valid() {
		return Reject, fmt.Errorf("%w: %q", ErrInvalidStatus, current)
	}
	if !target.Valid() {
		return Reject, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	switch diff := target.rank() - current.rank(); {
	case diff <= 0:
		return Noop, nil
	case diff == 1:
		return Apply, nil
	default:
		return Reject, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
}
