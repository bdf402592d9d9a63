package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/payment"
	"github.com/klarasod/studio-go/internal/repository"
)

// Store is the slice of the relational store that admin reconciliation
// needs. FinalizeRefund runs the flag flip and the optional booking removal
// as one transactional unit.
type Store interface {
	BookingByID(ctx context.Context, id uuid.UUID) (*domain.BookingWithDetail, error)
	MarkSwishPaid(ctx context.Context, id uuid.UUID) error
	FinalizeRefund(ctx context.Context, id uuid.UUID, removeBooking bool) error
	DeleteBooking(ctx context.Context, id uuid.UUID) error
	FailedByID(ctx context.Context, id int64) (*domain.FailedBooking, error)
	SetFailedRefunded(ctx context.Context, id int64) error
	ListFailedCard(ctx context.Context) ([]domain.FailedBooking, error)
	ListOrphans(ctx context.Context) ([]domain.Booking, error)
}

type Config struct {
	// Refund confirmation is asynchronous on the processor side, so the
	// status is polled a bounded number of times with fixed backoff.
	RefundPollAttempts int
	RefundPollInterval time.Duration
}

type Service struct {
	store   Store
	gateway payment.Gateway
	logger  *slog.Logger
	cfg     Config
}

func New(store Store, gateway payment.Gateway, logger *slog.Logger, cfg Config) *Service {
	if cfg.RefundPollAttempts <= 0 {
		cfg.RefundPollAttempts = 3
	}

	if cfg.RefundPollInterval <= 0 {
		cfg.RefundPollInterval = 1500 * time.Millisecond
	}

	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger,
		cfg:     cfg,
	}
}

// MarkPaid flips the manual-payment-received flag on a swish booking.
//
// Returns:
//   - error: reconcile.ErrBookingNotFound if the booking does not exist.
func (s *Service) MarkPaid(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.reconcile.MarkPaid"

	if err := s.store.MarkSwishPaid(ctx, bookingID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

type RefundParams struct {
	BookingID     uuid.UUID
	PaymentRef    string
	RemoveBooking bool
}

// Refund refunds a booking's payment at the gateway and records the outcome.
// The already-refunded check runs before the gateway call, so a repeated
// refund request never reaches the processor. On confirmed success the
// refunded flag and timestamp are written and, when requested, the booking
// is removed to free the seat.
//
// Returns:
//   - error: reconcile.ErrBookingNotFound / ErrAlreadyRefunded /
//     ErrPaymentRefMismatch.
//   - error: reconcile.ErrRefundPending if the gateway never confirmed
//     within the polling budget; nothing was changed locally.
//   - error: payment.ErrGatewayUnavailable when the processor is
//     unreachable, distinct from internal failures so the admin retries.
func (s *Service) Refund(ctx context.Context, p RefundParams) error {
	const op = "service.reconcile.Refund"

	bd, err := s.store.BookingByID(ctx, p.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if bd.Detail.Refunded {
		return fmt.Errorf("%s:%w", op, ErrAlreadyRefunded)
	}

	if bd.Detail.PaymentRef == nil {
		return fmt.Errorf("%s:%w", op, ErrNoPaymentRef)
	}

	if *bd.Detail.PaymentRef != p.PaymentRef {
		return fmt.Errorf("%s:%w", op, ErrPaymentRefMismatch)
	}

	if err := s.refundAndConfirm(ctx, p.PaymentRef); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.FinalizeRefund(ctx, p.BookingID, p.RemoveBooking); err != nil {
		if errors.Is(err, repository.ErrAlreadyRefunded) {
			return fmt.Errorf("%s:%w", op, ErrAlreadyRefunded)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("booking refunded",
		"booking_id", p.BookingID, "payment_ref", p.PaymentRef, "removed", p.RemoveBooking)

	return nil
}

// ResolveFailed refunds a failed-booking ledger entry (payment went through,
// seat never materialized) and flips its refunded flag.
//
// Returns:
//   - error: reconcile.ErrFailedNotFound / ErrAlreadyRefunded /
//     ErrNoPaymentRef / ErrRefundPending.
func (s *Service) ResolveFailed(ctx context.Context, failedID int64) error {
	const op = "service.reconcile.ResolveFailed"

	fb, err := s.store.FailedByID(ctx, failedID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrFailedNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if fb.Refunded {
		return fmt.Errorf("%s:%w", op, ErrAlreadyRefunded)
	}

	if fb.PaymentRef == nil {
		return fmt.Errorf("%s:%w", op, ErrNoPaymentRef)
	}

	if err := s.refundAndConfirm(ctx, *fb.PaymentRef); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.SetFailedRefunded(ctx, failedID); err != nil {
		if errors.Is(err, repository.ErrAlreadyRefunded) {
			return fmt.Errorf("%s:%w", op, ErrAlreadyRefunded)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// CancelBooking removes a booking (admin cancellation), freeing the seat.
//
// Returns:
//   - error: reconcile.ErrBookingNotFound if the booking does not exist.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	const op = "service.reconcile.CancelBooking"

	if err := s.store.DeleteBooking(ctx, bookingID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// FailedForTriage lists unrefunded card payments that never produced a
// booking.
func (s *Service) FailedForTriage(ctx context.Context) ([]domain.FailedBooking, error) {
	const op = "service.reconcile.FailedForTriage"

	out, err := s.store.ListFailedCard(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Orphans lists bookings with no detail row for integrity auditing.
func (s *Service) Orphans(ctx context.Context) ([]domain.Booking, error) {
	const op = "service.reconcile.Orphans"

	out, err := s.store.ListOrphans(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// refundAndConfirm creates the refund and polls until the gateway reports it
// settled or the attempt budget runs out.
func (s *Service) refundAndConfirm(ctx context.Context, paymentRef string) error {
	refund, err := s.gateway.CreateRefund(ctx, paymentRef)
	if err != nil {
		return err
	}

	if refund.Status == payment.RefundSucceeded {
		return nil
	}

	for attempt := 0; attempt < s.cfg.RefundPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RefundPollInterval):
		}

		refund, err = s.gateway.RetrieveRefund(ctx, paymentRef, refund.ID)
		if err != nil {
			return err
		}

		if refund.Status == payment.RefundSucceeded {
			return nil
		}
	}

	return ErrRefundPending
}
