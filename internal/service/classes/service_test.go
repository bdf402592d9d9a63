package classes_test

import (
	"context"
	"testing"
	"time"

	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/repository"
	"github.com/klarasod/studio-go/internal/service/classes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type storeMock struct{ mock.Mock }

func (m *storeMock) CreateClass(ctx context.Context, c domain.ClassSession) (int64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storeMock) UpdateClass(ctx context.Context, c domain.ClassSession) error {
	return m.Called(ctx, c).Error(0)
}

func (m *storeMock) DeleteClass(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *storeMock) ClassByID(ctx context.Context, id int64) (*domain.ClassSession, error) {
	args := m.Called(ctx, id)
	var c *domain.ClassSession
	if v := args.Get(0); v != nil {
		c = v.(*domain.ClassSession)
	}
	return c, args.Error(1)
}

func (m *storeMock) ListUpcomingClasses(ctx context.Context, limit, offset int) ([]domain.ClassSession, error) {
	args := m.Called(ctx, limit, offset)
	var out []domain.ClassSession
	if v := args.Get(0); v != nil {
		out = v.([]domain.ClassSession)
	}
	return out, args.Error(1)
}

func (m *storeMock) BookingCount(ctx context.Context, classID int64) (int, error) {
	args := m.Called(ctx, classID)
	return args.Int(0), args.Error(1)
}

func (m *storeMock) ListClassBookings(ctx context.Context, classID int64) ([]domain.BookingWithDetail, error) {
	args := m.Called(ctx, classID)
	var out []domain.BookingWithDetail
	if v := args.Get(0); v != nil {
		out = v.([]domain.BookingWithDetail)
	}
	return out, args.Error(1)
}

func validClass() domain.ClassSession {
	return domain.ClassSession{
		Title:      "Morning Yoga",
		StartsAt:   time.Now().Add(24 * time.Hour),
		EndsAt:     time.Now().Add(25 * time.Hour),
		SeatLimit:  12,
		PriceCents: 25000,
	}
}

func TestCreate_Success(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()
	c := validClass()

	store.On("CreateClass", ctx, c).Return(int64(42), nil)

	svc := classes.New(store, nil, classes.Config{})

	id, err := svc.Create(ctx, c)

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestCreate_RejectsNonPositiveSeatLimit(t *testing.T) {
	store := &storeMock{}
	svc := classes.New(store, nil, classes.Config{})

	c := validClass()
	c.SeatLimit = 0

	_, err := svc.Create(context.Background(), c)

	assert.ErrorIs(t, err, classes.ErrInvalidSeatLimit)
	store.AssertNotCalled(t, "CreateClass", mock.Anything, mock.Anything)
}

func TestCreate_RejectsInvertedSchedule(t *testing.T) {
	svc := classes.New(&storeMock{}, nil, classes.Config{})

	c := validClass()
	c.EndsAt = c.StartsAt.Add(-time.Hour)

	_, err := svc.Create(context.Background(), c)

	assert.ErrorIs(t, err, classes.ErrInvalidSchedule)
}

func TestUpdate_NotFound(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()

	c := validClass()
	c.ID = 9
	store.On("UpdateClass", ctx, c).Return(repository.ErrNotFound)

	svc := classes.New(store, nil, classes.Config{})

	err := svc.Update(ctx, c)

	assert.ErrorIs(t, err, classes.ErrClassNotFound)
}

func TestDelete_BlockedWhileBooked(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()

	store.On("DeleteClass", ctx, int64(9)).Return(repository.ErrClassReferenced)

	svc := classes.New(store, nil, classes.Config{})

	err := svc.Delete(ctx, 9)

	assert.ErrorIs(t, err, classes.ErrClassInUse)
}

func TestListUpcoming_ClampsPageSize(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()

	// over MaxPage, off the cached default page, so it goes straight to the
	// store with the clamped limit
	store.On("ListUpcomingClasses", ctx, 200, 10).Return([]domain.ClassSession{}, nil)

	svc := classes.New(store, nil, classes.Config{})

	_, err := svc.ListUpcoming(ctx, 1000, 10)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestBookings_ClassNotFound(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()

	store.On("ClassByID", ctx, int64(3)).Return(nil, repository.ErrNotFound)

	svc := classes.New(store, nil, classes.Config{})

	_, err := svc.Bookings(ctx, 3)

	assert.ErrorIs(t, err, classes.ErrClassNotFound)
	store.AssertNotCalled(t, "ListClassBookings", mock.Anything, mock.Anything)
}
