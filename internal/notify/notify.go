// Package notify is the outbound notification sink. Delivery is best-effort:
// the booking is durable before any notification is attempted, and a failed
// send is logged, never propagated.
package notify

import (
	"context"
	"log/slog"

	redisx "github.com/klarasod/studio-go/internal/redis"
)

// BookingNotice is what the mail worker needs to send a confirmation.
type BookingNotice struct {
	BookingID  string
	ClassID    int64
	ClassTitle string
	Email      string
}

type Sink interface {
	BookingConfirmed(ctx context.Context, n BookingNotice) error
}

// PubSubSink publishes notices to the Redis booking channel, where the mail
// worker picks them up.
type PubSubSink struct {
	pubsub *redisx.BookingPubSub
	logger *slog.Logger
}

func NewPubSubSink(pubsub *redisx.BookingPubSub, logger *slog.Logger) *PubSubSink {
	return &PubSubSink{pubsub: pubsub, logger: logger}
}

func (s *PubSubSink) BookingConfirmed(ctx context.Context, n BookingNotice) error {
	err := s.pubsub.PublishBookingConfirmed(ctx, redisx.BookingMsg{
		BookingID:  n.BookingID,
		ClassID:    n.ClassID,
		ClassTitle: n.ClassTitle,
		Email:      n.Email,
	})
	if err != nil {
		s.logger.Error("booking confirmation notice failed",
			"booking_id", n.BookingID, "error", err)
	}

	return err
}
