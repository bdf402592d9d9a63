package booking

import "errors"

var (
	ErrClassNotFound        = errors.New("class not found")
	ErrClassFull            = errors.New("class is full")
	ErrPaymentNotCompleted  = errors.New("payment not completed")
	ErrCardPaymentsDisabled = errors.New("card payments are disabled")
	ErrUnauthorized         = errors.New("unauthorized booking request")
	ErrRateLimited          = errors.New("rate limited")
)
