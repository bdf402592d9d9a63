package classes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klarasod/studio-go/internal/domain"
	redisx "github.com/klarasod/studio-go/internal/redis"
	"github.com/klarasod/studio-go/internal/repository"
	redisrepo "github.com/klarasod/studio-go/internal/repository/redis"
)

// Store is the slice of the relational store the schedule needs.
type Store interface {
	CreateClass(ctx context.Context, c domain.ClassSession) (int64, error)
	UpdateClass(ctx context.Context, c domain.ClassSession) error
	DeleteClass(ctx context.Context, id int64) error
	ClassByID(ctx context.Context, id int64) (*domain.ClassSession, error)
	ListUpcomingClasses(ctx context.Context, limit, offset int) ([]domain.ClassSession, error)
	BookingCount(ctx context.Context, classID int64) (int, error)
	ListClassBookings(ctx context.Context, classID int64) ([]domain.BookingWithDetail, error)
}

type Config struct {
	SummaryTTL      time.Duration
	AvailabilityTTL time.Duration
	ListTTL         time.Duration
	DefaultPage     int
	MaxPage         int
}

type Service struct {
	store Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 30 * time.Second
	}

	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 50
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 200
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// Create validates and inserts a class session.
//
// Returns:
//   - error: classes.ErrInvalidSeatLimit / classes.ErrInvalidSchedule.
func (s *Service) Create(ctx context.Context, c domain.ClassSession) (int64, error) {
	const op = "service.classes.Create"

	if err := validate(c); err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	id, err := s.store.CreateClass(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, id)

	return id, nil
}

// Update rewrites a class session. The seat limit set here is the capacity
// invariant the booking flow enforces; nothing else ever changes it.
//
// Returns:
//   - error: classes.ErrClassNotFound if the class does not exist.
func (s *Service) Update(ctx context.Context, c domain.ClassSession) error {
	const op = "service.classes.Update"

	if err := validate(c); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.UpdateClass(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrClassNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, c.ID)

	return nil
}

// Delete removes a class session. Deletion is blocked while bookings still
// reference the class; that surfaces as ErrClassInUse, a user-facing
// conflict, not a crash.
func (s *Service) Delete(ctx context.Context, id int64) error {
	const op = "service.classes.Delete"

	if err := s.store.DeleteClass(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%s:%w", op, ErrClassNotFound)
		case errors.Is(err, repository.ErrClassReferenced):
			return fmt.Errorf("%s:%w", op, ErrClassInUse)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.invalidate(ctx, id)

	return nil
}

// Get retrieves a class session through the cache.
func (s *Service) Get(ctx context.Context, id int64) (*domain.ClassSession, error) {
	const op = "service.classes.Get"

	key := redisx.KeyClassSummary(id)

	class, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.SummaryTTL,
		func(ctx context.Context) (domain.ClassSession, error) {
			c, err := s.store.ClassByID(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ClassSession{}, ErrClassNotFound
				}

				return domain.ClassSession{}, err
			}

			return *c, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &class, nil
}

// ListUpcoming lists upcoming class sessions through the cache. Pagination
// beyond the first page bypasses the cache.
func (s *Service) ListUpcoming(ctx context.Context, limit, offset int) ([]domain.ClassSession, error) {
	const op = "service.classes.ListUpcoming"

	if limit <= 0 {
		limit = s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		limit = s.cfg.MaxPage
	}

	if offset != 0 || limit != s.cfg.DefaultPage {
		out, err := s.store.ListUpcomingClasses(ctx, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return out, nil
	}

	out, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisx.KeyClassList(),
		s.cfg.ListTTL,
		func(ctx context.Context) ([]domain.ClassSession, error) {
			return s.store.ListUpcomingClasses(ctx, limit, offset)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Availability reports seat limit, booked count and free seats for a class.
// Served through a short-TTL cache: this is the browse view, never the
// capacity decision; the booking flow re-counts inside its transaction.
func (s *Service) Availability(ctx context.Context, id int64) (*domain.ClassAvailability, error) {
	const op = "service.classes.Availability"

	key := redisx.KeyClassAvailability(id)

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.ClassAvailability, error) {
			c, err := s.store.ClassByID(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ClassAvailability{}, ErrClassNotFound
				}

				return domain.ClassAvailability{}, err
			}

			booked, err := s.store.BookingCount(ctx, id)
			if err != nil {
				return domain.ClassAvailability{}, err
			}

			free := c.SeatLimit - booked
			if free < 0 {
				free = 0
			}

			return domain.ClassAvailability{
				SeatLimit: c.SeatLimit,
				Booked:    booked,
				Free:      free,
			}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &av, nil
}

// Bookings lists a class's bookings with details for the admin dashboard.
func (s *Service) Bookings(ctx context.Context, classID int64) ([]domain.BookingWithDetail, error) {
	const op = "service.classes.Bookings"

	if _, err := s.store.ClassByID(ctx, classID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrClassNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out, err := s.store.ListClassBookings(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) invalidate(ctx context.Context, classID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateClass(ctx, classID)
	}
}

func validate(c domain.ClassSession) error {
	if c.SeatLimit <= 0 {
		return ErrInvalidSeatLimit
	}

	if !c.EndsAt.After(c.StartsAt) {
		return ErrInvalidSchedule
	}

	return nil
}
