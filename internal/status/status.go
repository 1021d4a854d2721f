package status

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of these.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrHoldExpired         = errors.New("hold expired")
	ErrPartialProvisioning = errors.New("partial provisioning")
)

var (
	ErrEventNotFound    = fmt.Errorf("event: %w", ErrNotFound)
	ErrTicketNotFound   = fmt.Errorf("ticket: %w", ErrNotFound)
	ErrPurchaseNotFound = fmt.Errorf("purchase: %w", ErrNotFound)
)

var (
	ErrTicketUnavailable = fmt.Errorf("ticket: not available: %w", ErrConflict)
	ErrNotHolder         = fmt.Errorf("ticket: not held by user: %w", ErrConflict)
	ErrTicketContended   = fmt.Errorf("ticket: modified concurrently: %w", ErrConflict)
	ErrAlreadyCancelled  = fmt.Errorf("purchase: already cancelled: %w", ErrConflict)
)

// Invalid wraps a validation failure as ErrInvalidInput.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// Invalidf builds an ErrInvalidInput with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
