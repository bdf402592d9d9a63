package webhook

import "errors"

var (
	// ErrInvalidSignature is terminal: the sender re-signs and retries on
	// its side, we never process the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is terminal and acknowledged as a client error so
	// the sender stops redelivering a payload that can never succeed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
