package reconcile

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrFailedNotFound     = errors.New("failed-booking record not found")
	ErrAlreadyRefunded    = errors.New("already refunded")
	ErrNoPaymentRef       = errors.New("no payment reference to refund")
	ErrPaymentRefMismatch = errors.New("payment reference does not match booking")
	// ErrRefundPending means the gateway accepted the refund but never
	// confirmed it within the polling budget. No local state changed; the
	// admin retries later rather than assuming success.
	ErrRefundPending = errors.New("refund still pending at gateway")
)
