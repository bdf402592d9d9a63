package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// BookingPubSub publishes booking lifecycle messages on a Redis channel.
// The mail worker subscribes to it; the booking flow treats delivery as
// fire-and-forget.
type BookingPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewBookingPubSub(rdb *redis.Client) *BookingPubSub {
	return &BookingPubSub{
		rdb:     rdb,
		channel: ChannelBookingEvents(),
	}
}

type BookingMsg struct {
	Type       string `json:"type"`
	BookingID  string `json:"booking_id"`
	ClassID    int64  `json:"class_id"`
	ClassTitle string `json:"class_title"`
	Email      string `json:"email,omitempty"`
	TsUnix     int64  `json:"ts_unix"`
}

func (p *BookingPubSub) PublishBookingConfirmed(ctx context.Context, msg BookingMsg) error {
	msg.Type = "booking_confirmed"
	msg.TsUnix = time.Now().Unix()

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *BookingPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, msg BookingMsg)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg BookingMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.BookingID != "" {
				handler(ctx, msg)
			}
		}
	}
}
