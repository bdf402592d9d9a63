package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/payment"
	"github.com/klarasod/studio-go/internal/repository"
	"github.com/klarasod/studio-go/internal/service/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type storeMock struct{ mock.Mock }

func (m *storeMock) BookingByID(ctx context.Context, id uuid.UUID) (*domain.BookingWithDetail, error) {
	args := m.Called(ctx, id)
	var bd *domain.BookingWithDetail
	if v := args.Get(0); v != nil {
		bd = v.(*domain.BookingWithDetail)
	}
	return bd, args.Error(1)
}

func (m *storeMock) MarkSwishPaid(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *storeMock) FinalizeRefund(ctx context.Context, id uuid.UUID, removeBooking bool) error {
	return m.Called(ctx, id, removeBooking).Error(0)
}

func (m *storeMock) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *storeMock) FailedByID(ctx context.Context, id int64) (*domain.FailedBooking, error) {
	args := m.Called(ctx, id)
	var fb *domain.FailedBooking
	if v := args.Get(0); v != nil {
		fb = v.(*domain.FailedBooking)
	}
	return fb, args.Error(1)
}

func (m *storeMock) SetFailedRefunded(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *storeMock) ListFailedCard(ctx context.Context) ([]domain.FailedBooking, error) {
	args := m.Called(ctx)
	var out []domain.FailedBooking
	if v := args.Get(0); v != nil {
		out = v.([]domain.FailedBooking)
	}
	return out, args.Error(1)
}

func (m *storeMock) ListOrphans(ctx context.Context) ([]domain.Booking, error) {
	args := m.Called(ctx)
	var out []domain.Booking
	if v := args.Get(0); v != nil {
		out = v.([]domain.Booking)
	}
	return out, args.Error(1)
}

type gatewayMock struct{ mock.Mock }

func (m *gatewayMock) CreateIntent(ctx context.Context, p payment.CreateIntentParams) (*payment.Intent, error) {
	args := m.Called(ctx, p)
	var in *payment.Intent
	if v := args.Get(0); v != nil {
		in = v.(*payment.Intent)
	}
	return in, args.Error(1)
}

func (m *gatewayMock) RetrieveIntent(ctx context.Context, id string) (*payment.Intent, error) {
	args := m.Called(ctx, id)
	var in *payment.Intent
	if v := args.Get(0); v != nil {
		in = v.(*payment.Intent)
	}
	return in, args.Error(1)
}

func (m *gatewayMock) CreateRefund(ctx context.Context, paymentRef string) (*payment.Refund, error) {
	args := m.Called(ctx, paymentRef)
	var r *payment.Refund
	if v := args.Get(0); v != nil {
		r = v.(*payment.Refund)
	}
	return r, args.Error(1)
}

func (m *gatewayMock) RetrieveRefund(ctx context.Context, paymentRef, refundID string) (*payment.Refund, error) {
	args := m.Called(ctx, paymentRef, refundID)
	var r *payment.Refund
	if v := args.Get(0); v != nil {
		r = v.(*payment.Refund)
	}
	return r, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastCfg keeps the poll loop effectively instant in tests.
func fastCfg() reconcile.Config {
	return reconcile.Config{
		RefundPollAttempts: 2,
		RefundPollInterval: time.Millisecond,
	}
}

func cardBooking(id uuid.UUID, ref string, refunded bool) *domain.BookingWithDetail {
	return &domain.BookingWithDetail{
		Booking: domain.Booking{ID: id, ClassID: 1},
		Detail: domain.BookingDetail{
			BookingID:  id,
			Method:     domain.MethodCard,
			PaymentRef: &ref,
			Refunded:   refunded,
		},
	}
}

func TestRefund_Success(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(cardBooking(id, "chrg_1", false), nil)
	gateway.On("CreateRefund", ctx, "chrg_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundSucceeded}, nil)
	store.On("FinalizeRefund", ctx, id, false).Return(nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{BookingID: id, PaymentRef: "chrg_1"})

	require.NoError(t, err)
	store.AssertExpectations(t)
	gateway.AssertExpectations(t)
}

func TestRefund_AlreadyRefunded_NeverReachesGateway(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(cardBooking(id, "chrg_1", true), nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{BookingID: id, PaymentRef: "chrg_1"})

	assert.ErrorIs(t, err, reconcile.ErrAlreadyRefunded)
	gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FinalizeRefund", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefund_PaymentRefMismatch(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(cardBooking(id, "chrg_stored", false), nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{BookingID: id, PaymentRef: "chrg_other"})

	assert.ErrorIs(t, err, reconcile.ErrPaymentRefMismatch)
	gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
}

func TestRefund_NoPaymentRef(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(&domain.BookingWithDetail{
		Booking: domain.Booking{ID: id, ClassID: 1},
		Detail:  domain.BookingDetail{BookingID: id, Method: domain.MethodSwish},
	}, nil)

	svc := reconcile.New(store, &gatewayMock{}, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{BookingID: id, PaymentRef: "chrg_1"})

	assert.ErrorIs(t, err, reconcile.ErrNoPaymentRef)
}

func TestRefund_PendingAfterPollBudget_NoLocalWrite(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(cardBooking(id, "chrg_1", false), nil)
	gateway.On("CreateRefund", ctx, "chrg_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundPending}, nil)
	gateway.On("RetrieveRefund", ctx, "chrg_1", "rfnd_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundPending}, nil).
		Times(2)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{BookingID: id, PaymentRef: "chrg_1"})

	assert.ErrorIs(t, err, reconcile.ErrRefundPending)
	store.AssertNotCalled(t, "FinalizeRefund", mock.Anything, mock.Anything, mock.Anything)
	gateway.AssertExpectations(t)
}

func TestRefund_ConfirmedOnSecondPoll(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("BookingByID", ctx, id).Return(cardBooking(id, "chrg_1", false), nil)
	gateway.On("CreateRefund", ctx, "chrg_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundPending}, nil)
	gateway.On("RetrieveRefund", ctx, "chrg_1", "rfnd_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundPending}, nil).Once()
	gateway.On("RetrieveRefund", ctx, "chrg_1", "rfnd_1").
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundSucceeded}, nil).Once()
	store.On("FinalizeRefund", ctx, id, true).Return(nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.Refund(ctx, reconcile.RefundParams{
		BookingID:     id,
		PaymentRef:    "chrg_1",
		RemoveBooking: true,
	})

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestMarkPaid_NotFound(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("MarkSwishPaid", ctx, id).Return(repository.ErrNotFound)

	svc := reconcile.New(store, &gatewayMock{}, testLogger(), fastCfg())

	err := svc.MarkPaid(ctx, id)

	assert.ErrorIs(t, err, reconcile.ErrBookingNotFound)
}

func TestResolveFailed_Success(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()

	ref := "chrg_lost"
	store.On("FailedByID", ctx, int64(5)).Return(&domain.FailedBooking{
		ID:          5,
		ClassID:     1,
		PaymentRef:  &ref,
		GatewayPaid: true,
		Method:      domain.MethodCard,
	}, nil)
	gateway.On("CreateRefund", ctx, ref).
		Return(&payment.Refund{ID: "rfnd_1", Status: payment.RefundSucceeded}, nil)
	store.On("SetFailedRefunded", ctx, int64(5)).Return(nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.ResolveFailed(ctx, 5)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestCancelBooking_Success(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("DeleteBooking", ctx, id).Return(nil)

	svc := reconcile.New(store, &gatewayMock{}, testLogger(), fastCfg())

	require.NoError(t, svc.CancelBooking(ctx, id))
	store.AssertNotCalled(t, "BookingByID", mock.Anything, mock.Anything)
}

func TestCancelBooking_NotFound(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()
	id := uuid.New()

	store.On("DeleteBooking", ctx, id).Return(repository.ErrNotFound)

	svc := reconcile.New(store, &gatewayMock{}, testLogger(), fastCfg())

	assert.ErrorIs(t, svc.CancelBooking(ctx, id), reconcile.ErrBookingNotFound)
}

func TestOrphans_SurfacesIntegrityViolations(t *testing.T) {
	store := &storeMock{}
	ctx := context.Background()

	orphan := domain.Booking{ID: uuid.New(), ClassID: 3}
	store.On("ListOrphans", ctx).Return([]domain.Booking{orphan}, nil)

	svc := reconcile.New(store, &gatewayMock{}, testLogger(), fastCfg())

	out, err := svc.Orphans(ctx)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, orphan.ID, out[0].ID)
}

func TestResolveFailed_AlreadyRefunded(t *testing.T) {
	store := &storeMock{}
	gateway := &gatewayMock{}
	ctx := context.Background()

	ref := "chrg_lost"
	store.On("FailedByID", ctx, int64(5)).Return(&domain.FailedBooking{
		ID:         5,
		PaymentRef: &ref,
		Refunded:   true,
	}, nil)

	svc := reconcile.New(store, gateway, testLogger(), fastCfg())

	err := svc.ResolveFailed(ctx, 5)

	assert.ErrorIs(t, err, reconcile.ErrAlreadyRefunded)
	gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
}
