package registry

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrPaidRoom      = errors.New("room requires payment")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID accepts 1 to 64 characters of letters, digits, '-' and '_'.
// Token contract addresses (0x + 40 hex) fit that shape.
func ValidateID(roomID string) error {
	if !roomIDPattern.MatchString(roomID) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	return nil
}

// Policy decides which rooms must be paid for.
type Policy struct {
	paid *regexp.Regexp
}

// NewPolicy compiles the pattern of paid room ids.
func NewPolicy(paidPattern string) (*Policy, error) {
	re, err := regexp.Compile(paidPattern)
	if err != nil {
		return nil, fmt.Errorf("rooms.paid_pattern: %w", err)
	}
	return &Policy{paid: re}, nil
}

// RequiresPayment reports whether roomID can only be registered through a
// verified payment.
func (p *Policy) RequiresPayment(roomID string) bool {
	return p.paid.MatchString(roomID)
}

// CheckFree returns nil when roomID may be registered without payment.
func (p *Policy) CheckFree(roomID string) error {
	if err := ValidateID(roomID); err != nil {
		return err
	}
	if p.RequiresPayment(roomID) {
		return ErrPaidRoom
	}
	return nil
}
