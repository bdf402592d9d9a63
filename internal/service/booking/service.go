package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/notify"
	"github.com/klarasod/studio-go/internal/payment"
	"github.com/klarasod/studio-go/internal/repository"
)

// Store is the slice of the relational store the booking flow needs. The
// capacity count must always be read fresh; CreateBooking re-checks it
// inside a serializable transaction, so the pre-check here only exists to
// fail fast and to classify the failure for the ledger.
type Store interface {
	ClassByID(ctx context.Context, classID int64) (*domain.ClassSession, error)
	BookingCount(ctx context.Context, classID int64) (int, error)
	BookingByPaymentRef(ctx context.Context, ref string) (*domain.BookingWithDetail, error)
	CreateBooking(ctx context.Context, nb domain.NewBooking) (*domain.BookingWithDetail, error)
	RecordFailed(ctx context.Context, fb domain.FailedBooking) (int64, error)
}

// Limiter throttles purchase traffic per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

// Mode is the tagged union of booking request variants. Deriving the variant
// at the API boundary, instead of sniffing which optional fields are set,
// keeps every request on exactly one explicit branch.
type Mode interface{ isMode() }

// CardPayment is a gateway-processed payment that must be independently
// confirmed as succeeded before a seat is written.
type CardPayment struct{ PaymentRef string }

// ManualPending is an unpaid swish booking; an admin confirms the payment
// later via reconciliation.
type ManualPending struct{}

// AdminOverride is a manual booking entered by an admin.
type AdminOverride struct{ MarkPaid bool }

func (CardPayment) isMode()   {}
func (ManualPending) isMode() {}
func (AdminOverride) isMode() {}

type Config struct {
	CardPaymentsEnabled bool
	Currency            string
}

type Service struct {
	store      Store
	gateway    payment.Gateway
	limiter    Limiter
	notifier   notify.Sink
	invalidate func(ctx context.Context, classID int64)
	logger     *slog.Logger
	cfg        Config
}

func New(
	store Store,
	gateway payment.Gateway,
	limiter Limiter,
	notifier notify.Sink,
	invalidate func(ctx context.Context, classID int64),
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "sek"
	}

	return &Service{
		store:      store,
		gateway:    gateway,
		limiter:    limiter,
		notifier:   notifier,
		invalidate: invalidate,
		logger:     logger,
		cfg:        cfg,
	}
}

// IntentParams describes a payment-intent request.
type IntentParams struct {
	ClassID     int64
	UserID      *int64
	GuestName   *string
	GuestEmail  *string
	AmountCents int64
	RateKey     string
}

// CreateIntent creates a pending payment at the gateway with class and guest
// identity embedded as metadata for the webhook to read back. It writes
// nothing to the booking store; the capacity check here is advisory only, a
// courtesy to the purchaser before they reach the payment UI.
//
// Returns:
//   - error: booking.ErrCardPaymentsDisabled when the feature flag is off.
//   - error: booking.ErrClassNotFound / booking.ErrClassFull.
func (s *Service) CreateIntent(ctx context.Context, p IntentParams) (*payment.Intent, error) {
	const op = "service.booking.CreateIntent"

	if !s.cfg.CardPaymentsEnabled {
		return nil, fmt.Errorf("%s:%w", op, ErrCardPaymentsDisabled)
	}

	if err := s.allow(ctx, p.RateKey); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	class, err := s.store.ClassByID(ctx, p.ClassID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrClassNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	booked, err := s.store.BookingCount(ctx, p.ClassID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if booked >= class.SeatLimit {
		return nil, fmt.Errorf("%s:%w", op, ErrClassFull)
	}

	amount := p.AmountCents
	if amount <= 0 {
		amount = int64(class.PriceCents)
	}

	meta := map[string]string{
		"class_id": strconv.FormatInt(p.ClassID, 10),
	}
	if p.UserID != nil {
		meta["user_id"] = strconv.FormatInt(*p.UserID, 10)
	}
	if p.GuestName != nil {
		meta["guest_name"] = *p.GuestName
	}
	if p.GuestEmail != nil {
		meta["guest_email"] = *p.GuestEmail
	}

	intent, err := s.gateway.CreateIntent(ctx, payment.CreateIntentParams{
		AmountCents: amount,
		Currency:    s.cfg.Currency,
		Metadata:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return intent, nil
}

// CreateParams describes a direct booking request.
type CreateParams struct {
	ClassID    int64
	Mode       Mode
	UserID     *int64
	GuestName  *string
	GuestEmail *string
	IsAdmin    bool
	RateKey    string
}

// Create handles the client-initiated booking path. Exactly one request
// variant applies; card payments are verified against the gateway before any
// write so a client cannot forge a success.
//
// Returns:
//   - error: booking.ErrUnauthorized for an admin override without the admin
//     capability, or an unrecognized variant.
//   - error: booking.ErrPaymentNotCompleted if the referenced payment has not
//     succeeded at the gateway.
//   - error: booking.ErrClassNotFound / booking.ErrClassFull.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.BookingWithDetail, error) {
	const op = "service.booking.Create"

	if err := s.allow(ctx, p.RateKey); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	nb := domain.NewBooking{
		ClassID:    p.ClassID,
		UserID:     p.UserID,
		GuestName:  p.GuestName,
		GuestEmail: p.GuestEmail,
	}

	var gatewayPaid bool

	switch mode := p.Mode.(type) {
	case CardPayment:
		if !s.cfg.CardPaymentsEnabled {
			return nil, fmt.Errorf("%s:%w", op, ErrCardPaymentsDisabled)
		}

		intent, err := s.gateway.RetrieveIntent(ctx, mode.PaymentRef)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if intent.Status != payment.IntentSucceeded {
			return nil, fmt.Errorf("%s:%w", op, ErrPaymentNotCompleted)
		}

		ref := mode.PaymentRef
		nb.Method = domain.MethodCard
		nb.PaymentRef = &ref
		gatewayPaid = true

	case ManualPending:
		nb.Method = domain.MethodSwish

	case AdminOverride:
		if !p.IsAdmin {
			return nil, fmt.Errorf("%s:%w", op, ErrUnauthorized)
		}
		nb.Method = domain.MethodAdmin
		nb.SwishPaid = mode.MarkPaid

	default:
		return nil, fmt.Errorf("%s:%w", op, ErrUnauthorized)
	}

	out, err := s.Confirm(ctx, nb, gatewayPaid)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Confirm is the shared write path behind the direct API and the webhook
// reconciler: idempotency guard, capacity check, paired insert, best-effort
// notification. When gatewayPaid is true the money has already moved, so any
// failure to produce a booking lands in the failed-booking ledger instead of
// being dropped.
func (s *Service) Confirm(ctx context.Context, nb domain.NewBooking, gatewayPaid bool) (*domain.BookingWithDetail, error) {
	const op = "service.booking.Confirm"

	if nb.PaymentRef != nil {
		existing, err := s.store.BookingByPaymentRef(ctx, *nb.PaymentRef)
		if err == nil {
			// redelivery or duplicate call: the original success is the answer
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	class, err := s.store.ClassByID(ctx, nb.ClassID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if gatewayPaid {
				s.recordFailed(ctx, nb, gatewayPaid,
					fmt.Sprintf("class %d not found", nb.ClassID))
			}
			return nil, fmt.Errorf("%s:%w", op, ErrClassNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	booked, err := s.store.BookingCount(ctx, nb.ClassID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if booked >= class.SeatLimit {
		if gatewayPaid {
			s.recordFailed(ctx, nb, gatewayPaid, fmt.Sprintf(
				"class %q is full: %d/%d spots taken", class.Title, booked, class.SeatLimit))
		}
		return nil, fmt.Errorf("%s:%w", op, ErrClassFull)
	}

	out, err := s.store.CreateBooking(ctx, nb)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrClassFull):
			if gatewayPaid {
				s.recordFailed(ctx, nb, gatewayPaid, fmt.Sprintf(
					"class %q became full during processing (%d seats)",
					class.Title, class.SeatLimit))
			}
			return nil, fmt.Errorf("%s:%w", op, ErrClassFull)

		case errors.Is(err, repository.ErrConflict) && nb.PaymentRef != nil:
			// lost the race against our own duplicate: the payment reference
			// was claimed between the guard check and the insert
			existing, lookupErr := s.store.BookingByPaymentRef(ctx, *nb.PaymentRef)
			if lookupErr == nil {
				return existing, nil
			}
			return nil, fmt.Errorf("%s:%w", op, err)

		default:
			if gatewayPaid {
				s.recordFailed(ctx, nb, gatewayPaid,
					fmt.Sprintf("booking write failed: %v", err))
			}
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	if s.invalidate != nil {
		s.invalidate(ctx, nb.ClassID)
	}

	if s.notifier != nil && nb.GuestEmail != nil {
		_ = s.notifier.BookingConfirmed(ctx, notify.BookingNotice{
			BookingID:  out.Booking.ID.String(),
			ClassID:    class.ID,
			ClassTitle: class.Title,
			Email:      *nb.GuestEmail,
		})
	}

	return out, nil
}

func (s *Service) allow(ctx context.Context, key string) error {
	if s.limiter == nil || key == "" {
		return nil
	}

	ok, _, retry, err := s.limiter.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w, retry in %s", ErrRateLimited, retry)
	}

	return nil
}

// recordFailed appends to the ledger. A ledger write failure is logged with
// full context and swallowed: the caller's error is the one that matters.
func (s *Service) recordFailed(ctx context.Context, nb domain.NewBooking, gatewayPaid bool, reason string) {
	_, err := s.store.RecordFailed(ctx, domain.FailedBooking{
		ClassID:     nb.ClassID,
		UserID:      nb.UserID,
		GuestName:   nb.GuestName,
		GuestEmail:  nb.GuestEmail,
		PaymentRef:  nb.PaymentRef,
		GatewayPaid: gatewayPaid,
		Method:      nb.Method,
		Reason:      reason,
	})
	if err != nil && s.logger != nil {
		ref := ""
		if nb.PaymentRef != nil {
			ref = *nb.PaymentRef
		}
		s.logger.Error("failed-booking ledger write failed",
			"class_id", nb.ClassID, "payment_ref", ref, "reason", reason, "error", err)
	}
}
