package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// OmiseGateway implements Gateway on top of the Omise API. The Omise client
// has no context plumbing; ctx is accepted for interface symmetry and checked
// between round trips.
type OmiseGateway struct {
	client    *omise.Client
	returnURI string
}

func NewOmiseGateway(publicKey, secretKey, returnURI string) (*OmiseGateway, error) {
	const op = "payment.NewOmiseGateway"

	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &OmiseGateway{client: client, returnURI: returnURI}, nil
}

func (g *OmiseGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	const op = "payment.OmiseGateway.CreateIntent"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	meta := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}

	charge := &omise.Charge{}
	err := g.client.Do(charge, &operations.CreateCharge{
		Amount:    p.AmountCents,
		Currency:  p.Currency,
		ReturnURI: g.returnURI,
		Metadata:  meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	return intentFromCharge(charge), nil
}

func (g *OmiseGateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	const op = "payment.OmiseGateway.RetrieveIntent"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	charge := &omise.Charge{}
	if err := g.client.Do(charge, &operations.RetrieveCharge{ChargeID: id}); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	return intentFromCharge(charge), nil
}

func (g *OmiseGateway) CreateRefund(ctx context.Context, paymentRef string) (*Refund, error) {
	const op = "payment.OmiseGateway.CreateRefund"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	charge := &omise.Charge{}
	if err := g.client.Do(charge, &operations.RetrieveCharge{ChargeID: paymentRef}); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	refund := &omise.Refund{}
	err := g.client.Do(refund, &operations.CreateRefund{
		ChargeID: paymentRef,
		Amount:   charge.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	return refundFromOmise(refund), nil
}

func (g *OmiseGateway) RetrieveRefund(ctx context.Context, paymentRef, refundID string) (*Refund, error) {
	const op = "payment.OmiseGateway.RetrieveRefund"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	refund := &omise.Refund{}
	err := g.client.Do(refund, &operations.RetrieveRefund{
		ChargeID: paymentRef,
		RefundID: refundID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateErr(err))
	}

	return refundFromOmise(refund), nil
}

func intentFromCharge(ch *omise.Charge) *Intent {
	intent := &Intent{
		ID:           ch.ID,
		ClientSecret: ch.AuthorizeURI,
		AmountCents:  ch.Amount,
		Currency:     ch.Currency,
	}

	switch string(ch.Status) {
	case "successful":
		intent.Status = IntentSucceeded
	case "failed", "expired", "reversed":
		intent.Status = IntentFailed
	default:
		intent.Status = IntentPending
	}

	return intent
}

func refundFromOmise(rf *omise.Refund) *Refund {
	out := &Refund{ID: rf.ID}

	// a settled refund carries the ledger transaction it posted to; until
	// then the processor is still working on it
	if rf.Transaction != "" {
		out.Status = RefundSucceeded
	} else {
		out.Status = RefundPending
	}

	return out
}

// translateErr keeps gateway rejections distinct from transport failures:
// an *omise.Error is the processor answering "no"; anything else means we
// could not get an answer at all.
func translateErr(err error) error {
	var oe *omise.Error
	if errors.As(err, &oe) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}
