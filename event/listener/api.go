// Package listener consumes events other services put on the bus.
package listener

import (
	"context"
	"encoding/json"

	"roombox-service/booking"
	"roombox-service/errs"
	"roombox-service/event"

	"go.uber.org/zap"
)

// ActionPaymentCallback is published by the gateway webhook relay with the
// fields eSewa posts back to the success URL.
const ActionPaymentCallback = "payment.callback"

type PaymentCallback struct {
	TransactionUUID string `json:"transaction_uuid"`
	RefID           string `json:"ref_id"`
	TotalAmount     string `json:"total_amount"`
	Signature       string `json:"signature"`
}

type Verifier interface {
	VerifyPayment(ctx context.Context, in booking.VerifyPayment) (booking.Verification, error)
}

// Payments feeds relayed gateway callbacks into the same verification path
// the HTTP callback uses. It returns when ch is closed or ctx is done.
func Payments(ctx context.Context, ch <-chan event.EventChannelData, verifier Verifier, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			handlePayment(ctx, ev, verifier, log)
		}
	}
}

func handlePayment(ctx context.Context, ev event.EventChannelData, verifier Verifier, log *zap.Logger) {
	if ev.Action != ActionPaymentCallback {
		log.Debug("ignoring event", zap.String("action", ev.Action))
		settle(ev, ev.Ack(), log)
		return
	}

	var cb PaymentCallback
	if err := json.Unmarshal(ev.Data, &cb); err != nil {
		log.Warn("malformed payment callback", zap.Error(err))
		settle(ev, ev.Nack(false), log)
		return
	}

	v, err := verifier.VerifyPayment(ctx, booking.VerifyPayment{
		CorrelationToken: cb.TransactionUUID,
		GatewayRefID:     cb.RefID,
		Signature:        cb.Signature,
		TotalAmount:      cb.TotalAmount,
	})
	if err != nil {
		// failures we can't classify, or that may clear up, go back on the queue
		requeue := errs.KindOf(err) == "" || errs.Retryable(err)
		log.Warn("relayed payment callback not verified",
			zap.String("transaction_uuid", cb.TransactionUUID),
			zap.String("kind", string(errs.KindOf(err))),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		settle(ev, ev.Nack(requeue), log)
		return
	}
	log.Info("relayed payment callback verified",
		zap.Uint("payment_id", v.Payment.ID),
		zap.Bool("already_verified", v.AlreadyVerified))
	settle(ev, ev.Ack(), log)
}

func settle(ev event.EventChannelData, err error, log *zap.Logger) {
	if err != nil {
		log.Error("settle payment callback delivery",
			zap.Uint64("delivery_tag", ev.DeliveryTag),
			zap.Error(err))
	}
}
