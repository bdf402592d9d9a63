package httpgin

import (
	"time"

	"github.com/klarasod/studio-go/internal/domain"
)

type CreateIntentRequest struct {
	ClassID     int64   `json:"class_id" binding:"required"`
	AmountCents int64   `json:"amount_cents" binding:"omitempty,gt=0"`
	UserID      *int64  `json:"user_id"`
	GuestName   *string `json:"guest_name"`
	GuestEmail  *string `json:"guest_email" binding:"omitempty,email"`
}

type IntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// CreateBookingRequest carries one of three request variants, selected by
// method: "card" requires payment_ref, "swish" takes neither, "admin" is
// only honored for authenticated admins and may set swish_paid.
type CreateBookingRequest struct {
	ClassID    int64   `json:"class_id" binding:"required"`
	Method     string  `json:"method" binding:"required,oneof=card swish admin"`
	PaymentRef *string `json:"payment_ref"`
	SwishPaid  bool    `json:"swish_paid"`
	UserID     *int64  `json:"user_id"`
	GuestName  *string `json:"guest_name"`
	GuestEmail *string `json:"guest_email" binding:"omitempty,email"`
}

type BookingResponse struct {
	BookingID  string    `json:"booking_id"`
	ClassID    int64     `json:"class_id"`
	Method     string    `json:"method"`
	PaymentRef *string   `json:"payment_ref,omitempty"`
	GuestName  *string   `json:"guest_name,omitempty"`
	GuestEmail *string   `json:"guest_email,omitempty"`
	SwishPaid  bool      `json:"swish_paid"`
	Refunded   bool      `json:"refunded"`
	CreatedAt  time.Time `json:"created_at"`
}

type ClassRequest struct {
	Title      string `json:"title" binding:"required"`
	StartsAt   string `json:"starts_at" binding:"required"`
	EndsAt     string `json:"ends_at" binding:"required"`
	SeatLimit  int    `json:"seat_limit" binding:"required,gt=0"`
	PriceCents int    `json:"price_cents" binding:"gte=0"`
}

type CreateClassResponse struct {
	ClassID int64 `json:"class_id"`
}

type RefundRequest struct {
	BookingID     string `json:"booking_id" binding:"required,uuid"`
	PaymentRef    string `json:"payment_ref" binding:"required"`
	RemoveBooking bool   `json:"remove_booking"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func bookingResponseFrom(bd *domain.BookingWithDetail) BookingResponse {
	return BookingResponse{
		BookingID:  bd.Booking.ID.String(),
		ClassID:    bd.Booking.ClassID,
		Method:     string(bd.Detail.Method),
		PaymentRef: bd.Detail.PaymentRef,
		GuestName:  bd.Detail.GuestName,
		GuestEmail: bd.Detail.GuestEmail,
		SwishPaid:  bd.Detail.SwishPaid,
		Refunded:   bd.Detail.Refunded,
		CreatedAt:  bd.Booking.CreatedAt,
	}
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
