package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod identifies how a booking was (or will be) paid for.
type PaymentMethod string

const (
	// MethodCard is a card payment processed by the payment gateway.
	MethodCard PaymentMethod = "card"
	// MethodSwish is an out-of-band bank transfer that an admin later
	// confirms by hand.
	MethodSwish PaymentMethod = "swish"
	// MethodAdmin is a booking entered manually by an admin.
	MethodAdmin PaymentMethod = "admin"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodSwish, MethodAdmin:
		return true
	}
	return false
}

// ClassSession is a single scheduled, seat-limited offering. The seat limit
// is set by an admin and never touched by the booking flow.
type ClassSession struct {
	ID         int64
	Title      string
	StartsAt   time.Time
	EndsAt     time.Time
	SeatLimit  int
	PriceCents int
	CreatedAt  time.Time
}

// Booking is a confirmed seat reservation.
type Booking struct {
	ID        uuid.UUID
	ClassID   int64
	CreatedAt time.Time
}

// BookingDetail carries the payment and guest metadata for exactly one
// booking. UserID is nil for guest checkout; GuestName/GuestEmail are nil
// when a user reference is present. PaymentRef, when set, is unique across
// all details and serves as the idempotency key.
type BookingDetail struct {
	BookingID  uuid.UUID
	UserID     *int64
	GuestName  *string
	GuestEmail *string
	Method     PaymentMethod
	PaymentRef *string
	SwishPaid  bool
	Refunded   bool
	RefundedAt *time.Time
	CreatedAt  time.Time
}

type BookingWithDetail struct {
	Booking Booking
	Detail  BookingDetail
}

// NewBooking is the input for creating a booking and its detail as one unit.
type NewBooking struct {
	ClassID    int64
	UserID     *int64
	GuestName  *string
	GuestEmail *string
	Method     PaymentMethod
	PaymentRef *string
	SwishPaid  bool
}

// FailedBooking is an append-only audit entry recording a payment that could
// not be turned into a booking. Only the Refunded flag is ever updated.
type FailedBooking struct {
	ID          int64
	ClassID     int64
	UserID      *int64
	GuestName   *string
	GuestEmail  *string
	PaymentRef  *string
	GatewayPaid bool
	Method      PaymentMethod
	Reason      string
	Refunded    bool
	CreatedAt   time.Time
}

// ClassAvailability is the read-side capacity summary for a class.
type ClassAvailability struct {
	SeatLimit int `json:"seat_limit"`
	Booked    int `json:"booked"`
	Free      int `json:"free"`
}
