package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifier_SignAndValid(t *testing.T) {
	v := NewVerifier("whsec_test")
	body := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

	sig := v.Sign(body)
	assert.True(t, v.Valid(body, sig))
}

func TestVerifier_RejectsTamperedBody(t *testing.T) {
	v := NewVerifier("whsec_test")
	body := []byte(`{"id":"evt_1","amount_cents":25000}`)
	sig := v.Sign(body)

	tampered := []byte(`{"id":"evt_1","amount_cents":1}`)
	assert.False(t, v.Valid(tampered, sig))
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := NewVerifier("whsec_other").Sign(body)

	assert.False(t, NewVerifier("whsec_test").Valid(body, sig))
}

func TestVerifier_RejectsEmptyOrMalformedSignature(t *testing.T) {
	v := NewVerifier("whsec_test")
	body := []byte(`{}`)

	assert.False(t, v.Valid(body, ""))
	assert.False(t, v.Valid(body, "not-hex!"))
}
