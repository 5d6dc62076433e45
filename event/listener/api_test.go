package listener

import (
	"context"
	"errors"
	"sync"
	"testing"

	"roombox-service/booking"
	"roombox-service/errs"
	"roombox-service/event"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeVerifier struct {
	mu    sync.Mutex
	calls []booking.VerifyPayment
}

func (v *fakeVerifier) VerifyPayment(_ context.Context, in booking.VerifyPayment) (booking.Verification, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, in)
	switch in.Signature {
	case "bad":
		return booking.Verification{}, errs.NewVerificationFailedError("invalid payment signature")
	case "db-down":
		return booking.Verification{}, errors.New("dial tcp: connection refused")
	case "busy":
		return booking.Verification{}, errs.NewUnavailableError("try again")
	}
	return booking.Verification{}, nil
}

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

// recordingAcknowledger stands in for the amqp channel.
type recordingAcknowledger struct {
	mu  sync.Mutex
	got []settlement
}

func (a *recordingAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, settlement{tag: tag, ack: true})
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestPaymentsForwardsCallbacks(t *testing.T) {
	acks := &recordingAcknowledger{}
	delivery := func(tag uint64, action, body string) event.EventChannelData {
		return event.EventChannelData{Action: action, Data: []byte(body), Acknowledger: acks, DeliveryTag: tag}
	}

	ch := make(chan event.EventChannelData, 6)
	ch <- delivery(1, ActionPaymentCallback, `{"transaction_uuid":"tok","ref_id":"R1","total_amount":"5000.0","signature":"sig"}`)
	ch <- delivery(2, ActionPaymentCallback, `{"transaction_uuid":"tok","ref_id":"R1","signature":"bad"}`)
	ch <- delivery(3, ActionPaymentCallback, `not json`)
	ch <- delivery(4, "listing.updated", `{}`)
	ch <- delivery(5, ActionPaymentCallback, `{"transaction_uuid":"tok","ref_id":"R1","signature":"db-down"}`)
	ch <- delivery(6, ActionPaymentCallback, `{"transaction_uuid":"tok","ref_id":"R1","signature":"busy"}`)
	close(ch)

	v := &fakeVerifier{}
	Payments(context.Background(), ch, v, zap.NewNop())

	require.Len(t, v.calls, 4)
	require.Equal(t, booking.VerifyPayment{
		CorrelationToken: "tok",
		GatewayRefID:     "R1",
		Signature:        "sig",
		TotalAmount:      "5000.0",
	}, v.calls[0])

	require.Equal(t, []settlement{
		{tag: 1, ack: true},
		{tag: 2, requeue: false},
		{tag: 3, requeue: false},
		{tag: 4, ack: true},
		{tag: 5, requeue: true},
		{tag: 6, requeue: true},
	}, acks.got)
}

func TestRetryableCallbackIsRedelivered(t *testing.T) {
	acks := &recordingAcknowledger{}
	ch := make(chan event.EventChannelData, 1)
	ch <- event.EventChannelData{
		Action:       ActionPaymentCallback,
		Data:         []byte(`{"transaction_uuid":"tok","ref_id":"R1","signature":"db-down"}`),
		Acknowledger: acks,
		DeliveryTag:  9,
	}
	close(ch)

	Payments(context.Background(), ch, &fakeVerifier{}, zap.NewNop())

	require.Equal(t, []settlement{{tag: 9, requeue: true}}, acks.got)
}
