package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInvoiceFormat is returned when the recipient invoice is empty, too short or malformed.
	ErrInvalidInvoiceFormat = errors.New("invalid recipient invoice format")
	// ErrInvoiceTooLong is returned when the recipient invoice exceeds the maximum length.
	ErrInvoiceTooLong = errors.New("recipient invoice too long")
	// ErrInvalidUnitCount is returned when the unit count is not positive or exceeds the per-transaction ceiling.
	ErrInvalidUnitCount = errors.New("invalid unit count")
	// ErrRateLimited is returned when the hourly transfer ceiling is reached.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrServiceUnhealthy is returned when the backend was last sampled as unreachable.
	ErrServiceUnhealthy = errors.New("service unhealthy")
	// ErrDecryptionFailed is returned when the credential blob cannot be opened.
	ErrDecryptionFailed = errors.New("credential decryption failed")
	// ErrTransferFailed is returned when every transfer attempt failed.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrReceiptNotFound is returned when no receipt exists for an order.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// TransferFailedError carries the last backend error and the number of attempts made.
type TransferFailedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying backend error.
func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransferFailed as a match.
func (e *TransferFailedError) Is(target error) bool {
	return target == ErrTransferFailed
}

// IsTransferFailed returns the TransferFailedError inside err, if any.
func IsTransferFailed(err error) (*TransferFailedError, bool) {
	var tf *TransferFailedError
	if errors.As(err, &tf) {
		return tf, true
	}

	return nil, false
}

// PublicMessage maps an engine error to text safe to show end users.
// Backend output and credential material never reach this text.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInvoiceFormat), errors.Is(err, ErrInvoiceTooLong):
		return "the recipient invoice is not valid, please check it and try again"
	case errors.Is(err, ErrInvalidUnitCount):
		return "please try a smaller purchase"
	case errors.Is(err, ErrRateLimited):
		return "too many deliveries right now, please try again later"
	case errors.Is(err, ErrServiceUnhealthy), errors.Is(err, ErrDecryptionFailed):
		return "service temporarily unavailable"
	case errors.Is(err, ErrTransferFailed):
		return "delivery could not be completed, it will be retried"
	case errors.Is(err, ErrReceiptNotFound):
		return "no delivery found for this order"
	default:
		return "internal error"
	}
}
