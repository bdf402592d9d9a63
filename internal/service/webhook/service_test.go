package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/service/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type confirmerMock struct{ mock.Mock }

func (m *confirmerMock) Confirm(ctx context.Context, nb domain.NewBooking, gatewayPaid bool) (*domain.BookingWithDetail, error) {
	args := m.Called(ctx, nb, gatewayPaid)
	var bd *domain.BookingWithDetail
	if v := args.Get(0); v != nil {
		bd = v.(*domain.BookingWithDetail)
	}
	return bd, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testSecret = "whsec_test"

func signedEvent(t *testing.T, ev webhook.Event) ([]byte, string) {
	t.Helper()

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	return body, webhook.NewVerifier(testSecret).Sign(body)
}

func paymentEvent(ref string) webhook.Event {
	return webhook.Event{
		ID:      "evt_1",
		Type:    webhook.EventPaymentSucceeded,
		Created: time.Now().Unix(),
		Data: webhook.EventData{
			PaymentRef:  ref,
			AmountCents: 25000,
			Currency:    "sek",
			Metadata: map[string]string{
				"class_id":    "7",
				"guest_email": "guest@example.com",
				"guest_name":  "Alex",
			},
		},
	}
}

func TestVerify_SignatureOnly(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	body, sig := signedEvent(t, paymentEvent("chrg_1"))

	assert.NoError(t, svc.Verify(body, sig))
	assert.ErrorIs(t, svc.Verify(body, "deadbeef"), webhook.ErrInvalidSignature)
	assert.ErrorIs(t, svc.Verify(body, ""), webhook.ErrInvalidSignature)
	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_BadSignature_NoWrites(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	body, _ := signedEvent(t, paymentEvent("chrg_1"))

	ack, err := svc.Process(context.Background(), body, "deadbeef")

	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	assert.Nil(t, ack)
	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_PaymentSucceeded_ConfirmsBooking(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	body, sig := signedEvent(t, paymentEvent("chrg_1"))

	id := uuid.New()
	confirmer.On("Confirm", mock.Anything, mock.MatchedBy(func(nb domain.NewBooking) bool {
		return nb.ClassID == 7 &&
			nb.Method == domain.MethodCard &&
			nb.PaymentRef != nil && *nb.PaymentRef == "chrg_1" &&
			nb.GuestEmail != nil && *nb.GuestEmail == "guest@example.com" &&
			nb.GuestName != nil && *nb.GuestName == "Alex"
	}), true).Return(&domain.BookingWithDetail{
		Booking: domain.Booking{ID: id, ClassID: 7},
	}, nil)

	ack, err := svc.Process(context.Background(), body, sig)

	require.NoError(t, err)
	assert.Equal(t, id.String(), ack.BookingID)
	assert.False(t, ack.Ignored)
	confirmer.AssertExpectations(t)
}

func TestProcess_OtherEventType_AckedAndIgnored(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	ev := paymentEvent("chrg_1")
	ev.Type = "payment.failed"
	body, sig := signedEvent(t, ev)

	ack, err := svc.Process(context.Background(), body, sig)

	require.NoError(t, err)
	assert.True(t, ack.Ignored)
	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_MalformedJSON(t *testing.T) {
	svc := webhook.New(webhook.NewVerifier(testSecret), &confirmerMock{}, testLogger())

	body := []byte(`{"id":`)
	sig := webhook.NewVerifier(testSecret).Sign(body)

	_, err := svc.Process(context.Background(), body, sig)

	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
}

func TestProcess_MissingMetadata(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	tests := []struct {
		name   string
		mutate func(*webhook.Event)
	}{
		{"no payment_ref", func(ev *webhook.Event) { ev.Data.PaymentRef = "" }},
		{"no class_id", func(ev *webhook.Event) { delete(ev.Data.Metadata, "class_id") }},
		{"bad class_id", func(ev *webhook.Event) { ev.Data.Metadata["class_id"] = "seven" }},
		{"no guest_email", func(ev *webhook.Event) { delete(ev.Data.Metadata, "guest_email") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := paymentEvent("chrg_1")
			tc.mutate(&ev)
			body, sig := signedEvent(t, ev)

			_, err := svc.Process(context.Background(), body, sig)

			assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
		})
	}

	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_Redelivery_ConvergesOnOriginalBooking(t *testing.T) {
	confirmer := &confirmerMock{}
	svc := webhook.New(webhook.NewVerifier(testSecret), confirmer, testLogger())

	body, sig := signedEvent(t, paymentEvent("chrg_1"))

	id := uuid.New()
	// the booking layer's idempotency guard answers both deliveries with the
	// same booking
	confirmer.On("Confirm", mock.Anything, mock.Anything, true).
		Return(&domain.BookingWithDetail{Booking: domain.Booking{ID: id, ClassID: 7}}, nil).
		Twice()

	first, err := svc.Process(context.Background(), body, sig)
	require.NoError(t, err)

	second, err := svc.Process(context.Background(), body, sig)
	require.NoError(t, err)

	assert.Equal(t, first.BookingID, second.BookingID)
}
