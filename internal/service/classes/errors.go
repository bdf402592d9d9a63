package classes

import "errors"

var (
	ErrClassNotFound    = errors.New("class not found")
	ErrClassInUse       = errors.New("class has active bookings")
	ErrInvalidSeatLimit = errors.New("seat limit must be positive")
	ErrInvalidSchedule  = errors.New("class must end after it starts")
)
