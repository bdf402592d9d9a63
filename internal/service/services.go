package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/notify"
	"github.com/klarasod/studio-go/internal/payment"
	postgres "github.com/klarasod/studio-go/internal/repository/postgres"
	redis "github.com/klarasod/studio-go/internal/repository/redis"
	"github.com/klarasod/studio-go/internal/service/booking"
	"github.com/klarasod/studio-go/internal/service/classes"
	"github.com/klarasod/studio-go/internal/service/reconcile"
	"github.com/klarasod/studio-go/internal/service/webhook"
	"github.com/klarasod/studio-go/internal/uow"
)

type Services struct {
	Booking   *booking.Service
	Webhook   *webhook.Service
	Reconcile *reconcile.Service
	Classes   *classes.Service
}

type Config struct {
	Booking       booking.Config
	Reconcile     reconcile.Config
	Classes       classes.Config
	WebhookSecret string
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	limiter *redis.SlidingWindowLimiter,
	gateway payment.Gateway,
	notifier notify.Sink,
	logger *slog.Logger,
	cfg Config,
) *Services {
	adapter := &storeAdapter{store: store, uow: uow.NewUoW(store), cache: cache}

	invalidate := func(ctx context.Context, classID int64) {
		if cache != nil {
			_ = cache.InvalidateClass(ctx, classID)
		}
	}

	bookingSvc := booking.New(adapter, gateway, limiterOrNil(limiter), notifier, invalidate, logger, cfg.Booking)

	return &Services{
		Booking:   bookingSvc,
		Webhook:   webhook.New(webhook.NewVerifier(cfg.WebhookSecret), bookingSvc, logger),
		Reconcile: reconcile.New(adapter, gateway, logger, cfg.Reconcile),
		Classes:   classes.New(adapter, cache, cfg.Classes),
	}
}

// limiterOrNil keeps a typed-nil *SlidingWindowLimiter from sneaking into
// the booking service's Limiter interface as a non-nil value.
func limiterOrNil(l *redis.SlidingWindowLimiter) booking.Limiter {
	if l == nil {
		return nil
	}
	return l
}

// storeAdapter narrows the Postgres store to the per-service interfaces and
// runs the composite admin operations inside a unit of work with
// after-commit cache invalidation.
type storeAdapter struct {
	store *postgres.Store
	uow   *uow.UoW
	cache *redis.Cache
}

func (a *storeAdapter) ClassByID(ctx context.Context, id int64) (*domain.ClassSession, error) {
	return a.store.Classes().ByID(ctx, id)
}

func (a *storeAdapter) BookingCount(ctx context.Context, classID int64) (int, error) {
	return a.store.Bookings().CountByClass(ctx, classID)
}

func (a *storeAdapter) BookingByPaymentRef(ctx context.Context, ref string) (*domain.BookingWithDetail, error) {
	return a.store.Bookings().ByPaymentRef(ctx, ref)
}

func (a *storeAdapter) CreateBooking(ctx context.Context, nb domain.NewBooking) (*domain.BookingWithDetail, error) {
	return a.store.Bookings().CreateConfirmed(ctx, nb)
}

func (a *storeAdapter) RecordFailed(ctx context.Context, fb domain.FailedBooking) (int64, error) {
	return a.store.Failed().Record(ctx, fb)
}

func (a *storeAdapter) BookingByID(ctx context.Context, id uuid.UUID) (*domain.BookingWithDetail, error) {
	return a.store.Bookings().ByID(ctx, id)
}

func (a *storeAdapter) MarkSwishPaid(ctx context.Context, id uuid.UUID) error {
	return a.store.Bookings().MarkSwishPaid(ctx, id)
}

// FinalizeRefund flips the refunded flag and, when requested, removes the
// booking in the same transaction, so a crash between the two can never
// leave a refunded-but-still-occupied seat.
func (a *storeAdapter) FinalizeRefund(ctx context.Context, id uuid.UUID, removeBooking bool) error {
	var classID int64

	err := a.uow.Do(ctx, func(ctx context.Context, tx postgres.DB, after func(uow.AfterCommit)) error {
		bd, err := a.store.Bookings().With(tx).ByID(ctx, id)
		if err != nil {
			return err
		}

		classID = bd.Booking.ClassID

		if err := a.store.Bookings().With(tx).SetRefunded(ctx, id); err != nil {
			return err
		}

		if removeBooking {
			if err := a.store.Bookings().With(tx).Delete(ctx, id); err != nil {
				return err
			}
		}

		after(func(ctx context.Context) {
			if a.cache != nil {
				_ = a.cache.InvalidateClass(ctx, classID)
			}
		})

		return nil
	})

	return err
}

// DeleteBooking removes a booking and invalidates its class views. The
// lookup deliberately skips the detail join so an orphan booking, the kind
// the integrity audit surfaces, can still be cancelled.
func (a *storeAdapter) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	err := a.uow.Do(ctx, func(ctx context.Context, tx postgres.DB, after func(uow.AfterCommit)) error {
		b, err := a.store.Bookings().With(tx).HeadByID(ctx, id)
		if err != nil {
			return err
		}

		if err := a.store.Bookings().With(tx).Delete(ctx, id); err != nil {
			return err
		}

		classID := b.ClassID
		after(func(ctx context.Context) {
			if a.cache != nil {
				_ = a.cache.InvalidateClass(ctx, classID)
			}
		})

		return nil
	})

	return err
}

func (a *storeAdapter) FailedByID(ctx context.Context, id int64) (*domain.FailedBooking, error) {
	return a.store.Failed().ByID(ctx, id)
}

func (a *storeAdapter) SetFailedRefunded(ctx context.Context, id int64) error {
	return a.store.Failed().SetRefunded(ctx, id)
}

func (a *storeAdapter) ListFailedCard(ctx context.Context) ([]domain.FailedBooking, error) {
	return a.store.Failed().ListUnrefundedCard(ctx)
}

func (a *storeAdapter) ListOrphans(ctx context.Context) ([]domain.Booking, error) {
	return a.store.Bookings().Orphans(ctx)
}

func (a *storeAdapter) CreateClass(ctx context.Context, c domain.ClassSession) (int64, error) {
	return a.store.Classes().Create(ctx, c)
}

func (a *storeAdapter) UpdateClass(ctx context.Context, c domain.ClassSession) error {
	return a.store.Classes().Update(ctx, c)
}

func (a *storeAdapter) DeleteClass(ctx context.Context, id int64) error {
	return a.store.Classes().Delete(ctx, id)
}

func (a *storeAdapter) ListUpcomingClasses(ctx context.Context, limit, offset int) ([]domain.ClassSession, error) {
	return a.store.Classes().ListUpcoming(ctx, limit, offset)
}

func (a *storeAdapter) ListClassBookings(ctx context.Context, classID int64) ([]domain.BookingWithDetail, error) {
	return a.store.Bookings().ListByClass(ctx, classID)
}
