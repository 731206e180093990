package service

import (
	"errors"
	"fmt"

	"github.com/qs-lzh/open-event/internal/model"
)

var (
	ErrNotFound              = errors.New("resource not found")
	ErrForbidden             = errors.New("forbidden")
	ErrValidation            = errors.New("invalid input")
	ErrOrderAlreadyFinalized = errors.New("order already finalized")
	ErrPaymentInProgress     = errors.New("payment in progress")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrInvalidDateRange      = errors.New("invalid date range")
	ErrAlreadyCheckedIn      = errors.New("ticket holder already checked in")
	ErrMissingOrderReference = model.ErrMissingOrderReference
)

// ValidationError wraps ErrValidation with the offending field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// PaymentError is a gateway rejection. Message is safe to show to the buyer.
type PaymentError struct {
	Gateway model.PaymentMethod
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s payment failed: %s", e.Gateway, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
