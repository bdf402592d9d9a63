package payment

import (
	"context"
	"errors"
)

// ErrGatewayUnavailable marks failures of the remote processor itself, so
// callers can tell "retry later" apart from a permanent rejection.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Intent is a payment attempt at the gateway. ClientSecret is the opaque
// handle the hosted payment UI consumes; ID doubles as the external payment
// reference once the payment goes through.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int64
	Currency     string
}

type Refund struct {
	ID     string
	Status RefundStatus
}

type CreateIntentParams struct {
	AmountCents int64
	Currency    string
	// Metadata travels to the gateway and comes back in webhook payloads;
	// the reconciler reads class and guest identity out of it.
	Metadata map[string]string
}

// Gateway wraps the external payment processor. Every call is a network
// round trip with its own latency and failure modes.
type Gateway interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	CreateRefund(ctx context.Context, paymentRef string) (*Refund, error)
	RetrieveRefund(ctx context.Context, paymentRef, refundID string) (*Refund, error)
}
