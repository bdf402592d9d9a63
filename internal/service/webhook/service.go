package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/klarasod/studio-go/internal/domain"
)

// EventPaymentSucceeded is the only notification type that drives a booking
// write; everything else is acknowledged and dropped.
const EventPaymentSucceeded = "payment.succeeded"

// Event is the signed envelope the gateway delivers.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	PaymentRef  string            `json:"payment_ref"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// Ack is the definitive answer returned to the sender for a processed (or
// deliberately ignored) notification.
type Ack struct {
	BookingID string `json:"booking_id,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// Confirmer is the shared booking write path (idempotency guard, capacity
// check, paired insert, ledger on failure).
type Confirmer interface {
	Confirm(ctx context.Context, nb domain.NewBooking, gatewayPaid bool) (*domain.BookingWithDetail, error)
}

type Service struct {
	verifier *Verifier
	bookings Confirmer
	logger   *slog.Logger
}

func New(verifier *Verifier, bookings Confirmer, logger *slog.Logger) *Service {
	return &Service{
		verifier: verifier,
		bookings: bookings,
		logger:   logger,
	}
}

// Verify checks the delivery signature without processing the event. The
// transport runs it before consulting any delivery cache so an unsigned
// request never observes a prior acknowledgment.
//
// Returns:
//   - error: webhook.ErrInvalidSignature.
func (s *Service) Verify(rawBody []byte, signature string) error {
	if !s.verifier.Valid(rawBody, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// Process runs one delivered notification through the reconciliation state
// machine. The error contract is the acknowledgment contract: webhook and
// booking sentinels mean "terminal, do not redeliver" (4xx), anything else
// means "retry" (5xx). Retrying is safe because the idempotency guard makes
// redelivery converge on the original booking.
//
// Returns:
//   - *Ack: the acknowledgment body for a terminal success.
//   - error: webhook.ErrInvalidSignature, webhook.ErrMalformedPayload,
//     booking.ErrClassNotFound, booking.ErrClassFull, or a retryable
//     internal error.
func (s *Service) Process(ctx context.Context, rawBody []byte, signature string) (*Ack, error) {
	const op = "service.webhook.Process"

	if !s.verifier.Valid(rawBody, signature) {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidSignature)
	}

	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, fmt.Errorf("%s:%w: %v", op, ErrMalformedPayload, err)
	}

	if ev.Type != EventPaymentSucceeded {
		// acknowledged no-op so the sender stops retrying delivery
		return &Ack{Ignored: true}, nil
	}

	nb, err := s.bookingFromEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out, err := s.bookings.Confirm(ctx, nb, true)
	if err != nil {
		ref := ""
		if nb.PaymentRef != nil {
			ref = *nb.PaymentRef
		}
		s.logger.Error("webhook reconciliation failed",
			"event_id", ev.ID, "payment_ref", ref, "class_id", nb.ClassID, "error", err)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Ack{BookingID: out.Booking.ID.String()}, nil
}

// bookingFromEvent validates the payload and maps it onto a booking input.
// Class reference and payer email are hard requirements: without them the
// payment can never be reconciled, so the payload is rejected as malformed.
func (s *Service) bookingFromEvent(ev Event) (domain.NewBooking, error) {
	var nb domain.NewBooking

	if ev.Data.PaymentRef == "" {
		return nb, fmt.Errorf("%w: missing payment_ref", ErrMalformedPayload)
	}

	classStr, ok := ev.Data.Metadata["class_id"]
	if !ok || classStr == "" {
		return nb, fmt.Errorf("%w: missing class_id metadata", ErrMalformedPayload)
	}

	classID, err := strconv.ParseInt(classStr, 10, 64)
	if err != nil {
		return nb, fmt.Errorf("%w: bad class_id %q", ErrMalformedPayload, classStr)
	}

	email, ok := ev.Data.Metadata["guest_email"]
	if !ok || email == "" {
		return nb, fmt.Errorf("%w: missing guest_email metadata", ErrMalformedPayload)
	}

	ref := ev.Data.PaymentRef
	nb.ClassID = classID
	nb.Method = domain.MethodCard
	nb.PaymentRef = &ref
	nb.GuestEmail = &email

	if name, ok := ev.Data.Metadata["guest_name"]; ok && name != "" {
		nb.GuestName = &name
	}

	if uidStr, ok := ev.Data.Metadata["user_id"]; ok && uidStr != "" {
		if uid, err := strconv.ParseInt(uidStr, 10, 64); err == nil {
			nb.UserID = &uid
		}
	}

	return nb, nil
}
