package repository

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrClassFull       = errors.New("class is full")
	ErrClassReferenced = errors.New("class has active bookings")
	ErrAlreadyRefunded = errors.New("already refunded")
)
