package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"roombox-service/errs"
	"roombox-service/esewa"
	"roombox-service/metrics"
	"roombox-service/model"
	"roombox-service/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const monthLayout = "2006-01"

// qualifying payments move an awaiting_payment booking in front of the landlord.
var qualifying = []model.PaymentType{
	model.PaymentSecurityDeposit,
	model.PaymentAdvance,
	model.PaymentBooking,
}

func isQualifying(t model.PaymentType) bool {
	for _, q := range qualifying {
		if q == t {
			return true
		}
	}
	return false
}

// overlapping lists the payment types that already cover t.
func overlapping(t model.PaymentType) []model.PaymentType {
	switch t {
	case model.PaymentSecurityDeposit:
		return []model.PaymentType{model.PaymentSecurityDeposit, model.PaymentBooking}
	case model.PaymentAdvance:
		return []model.PaymentType{model.PaymentAdvance, model.PaymentBooking}
	case model.PaymentBooking:
		return qualifying
	}
	return []model.PaymentType{t}
}

type InitiatePayment struct {
	BookingID uint
	CallerID  uint
	Type      model.PaymentType
	// Month is YYYY-MM and only used for monthly rent.
	Month string
}

type PaymentRedirect struct {
	PaymentID        uint              `json:"payment_id"`
	CorrelationToken string            `json:"transaction_uuid"`
	Amount           decimal.Decimal   `json:"amount"`
	Type             model.PaymentType `json:"payment_type"`
	FormURL          string            `json:"form_url"`
	FormFields       map[string]string `json:"form_data"`
}

// InitiatePayment records a payment attempt and asks the gateway for the
// signed redirect. A gateway failure marks the attempt failed and is
// reported as retryable; nothing about the booking changes.
func (c *Coordinator) InitiatePayment(ctx context.Context, in InitiatePayment) (PaymentRedirect, error) {
	var out PaymentRedirect

	if in.CallerID == 0 {
		return out, errs.Unauthenticated
	}

	b, err := c.repo.Booking(ctx, in.BookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return out, errs.NewNotFoundError("booking not found")
	}
	if err != nil {
		return out, err
	}
	if b.TenantID != in.CallerID {
		return out, errs.NewPermissionDeniedError("only the tenant can pay for this booking")
	}

	if in.Type == "" {
		in.Type = model.PaymentBooking
		if b.Status == model.BookingApproved {
			in.Type = model.PaymentMonthlyRent
		}
	}
	if !in.Type.Valid() {
		return out, errs.NewInvalidArgumentError("payment_type", "unknown payment type")
	}
	if err := c.checkPayable(ctx, b, &in); err != nil {
		return out, err
	}

	amount := b.AmountFor(in.Type)
	if !amount.IsPositive() {
		return out, errs.NewInvalidArgumentError("payment_type", "nothing to pay for this payment type")
	}

	p := model.Payment{
		BookingID:        b.ID,
		TenantID:         b.TenantID,
		LandlordID:       b.LandlordID,
		Amount:           amount,
		Type:             in.Type,
		Month:            in.Month,
		CorrelationToken: uuid.NewString(),
		Status:           model.PaymentInitiated,
	}
	if err := c.repo.CreatePayment(ctx, &p); err != nil {
		return out, err
	}

	gctx, cancel := context.WithTimeout(ctx, c.opts.GatewayTimeout)
	defer cancel()

	form, err := c.gateway.BuildRedirectForm(gctx, esewa.RedirectRequest{
		Amount:           amount,
		CorrelationToken: p.CorrelationToken,
		SuccessURL:       withPaymentID(c.opts.SuccessURL, p.ID),
		FailureURL:       withPaymentID(c.opts.FailureURL, p.ID),
	})
	if err != nil {
		c.log.Warn("payment gateway redirect failed",
			zap.Uint("payment_id", p.ID),
			zap.Uint("booking_id", b.ID),
			zap.Error(err))

		p.Status = model.PaymentFailed
		if saveErr := c.repo.SavePayment(context.WithoutCancel(ctx), &p); saveErr != nil {
			c.log.Error("mark payment failed", zap.Uint("payment_id", p.ID), zap.Error(saveErr))
		}
		return out, errs.NewUpstreamUnavailableError("payment gateway is not responding, please retry")
	}

	return PaymentRedirect{
		PaymentID:        p.ID,
		CorrelationToken: p.CorrelationToken,
		Amount:           amount,
		Type:             in.Type,
		FormURL:          form.FormURL,
		FormFields:       form.FormFields,
	}, nil
}

func (c *Coordinator) checkPayable(ctx context.Context, b model.Booking, in *InitiatePayment) error {
	if in.Type == model.PaymentMonthlyRent {
		if b.Status != model.BookingApproved {
			return errs.NewConflictError("rent can only be paid on an approved booking")
		}
		if in.Month == "" {
			in.Month = c.opts.Now().Format(monthLayout)
		}
		if _, err := time.Parse(monthLayout, in.Month); err != nil {
			return errs.NewInvalidArgumentError("payment_month", "payment month must look like 2006-01")
		}
		n, err := c.repo.CompletedPayments(ctx, b.ID, in.Month, model.PaymentMonthlyRent)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.NewConflictError(fmt.Sprintf("rent for %s is already paid", in.Month))
		}
		return nil
	}

	in.Month = ""
	if b.Status != model.BookingAwaitingPayment {
		return errs.NewConflictError(fmt.Sprintf("booking is %s and does not accept %s payments", b.Status, in.Type))
	}
	n, err := c.repo.CompletedPayments(ctx, b.ID, "", overlapping(in.Type)...)
	if err != nil {
		return err
	}
	if n > 0 {
		return errs.NewConflictError(fmt.Sprintf("%s is already paid", in.Type))
	}
	return nil
}

func withPaymentID(base string, paymentID uint) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("payment_id", strconv.FormatUint(uint64(paymentID), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

type VerifyPayment struct {
	CorrelationToken string
	GatewayRefID     string
	Signature        string
	// TotalAmount is the amount as the gateway wrote it, e.g. "5000.0".
	// Empty means the stored amount in its signed form.
	TotalAmount string
}

type Verification struct {
	Payment model.Payment `json:"payment"`
	Booking model.Booking `json:"booking"`
	// AlreadyVerified is set when a retried callback found the work done.
	AlreadyVerified bool `json:"already_verified"`
}

type PaymentEvent struct {
	PaymentID    uint              `json:"payment_id"`
	BookingID    uint              `json:"booking_id"`
	TenantID     uint              `json:"tenant_id"`
	LandlordID   uint              `json:"landlord_id"`
	Type         model.PaymentType `json:"payment_type"`
	Amount       decimal.Decimal   `json:"amount"`
	Month        string            `json:"payment_month,omitempty"`
	GatewayRefID string            `json:"gateway_ref_id"`
}

// VerifyPayment trusts a gateway callback only after recomputing the
// gateway's signature over the reference, the amount and the token. The idempotency check, the payment update and the booking
// transition happen under the booking's lock in one transaction.
func (c *Coordinator) VerifyPayment(ctx context.Context, in VerifyPayment) (Verification, error) {
	var out Verification

	in.CorrelationToken = strings.TrimSpace(in.CorrelationToken)
	in.GatewayRefID = strings.TrimSpace(in.GatewayRefID)
	if in.CorrelationToken == "" || in.GatewayRefID == "" || in.Signature == "" {
		metrics.PaymentVerifications.WithLabelValues("rejected").Inc()
		return out, errs.NewVerificationFailedError("transaction_uuid, ref_id and signature are required")
	}

	p, err := c.repo.PaymentByToken(ctx, in.CorrelationToken)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.PaymentVerifications.WithLabelValues("rejected").Inc()
		return out, errs.NewVerificationFailedError("payment not found")
	}
	if err != nil {
		return out, err
	}

	unlock := c.bookings.Lock(p.BookingID)
	defer unlock()

	var transitioned bool
	err = c.repo.Transaction(ctx, func(tx *repository.Repository) error {
		transitioned = false

		p, err := tx.PaymentByTokenForUpdate(ctx, in.CorrelationToken)
		if err != nil {
			return err
		}
		b, err := tx.BookingForUpdate(ctx, p.BookingID)
		if err != nil {
			return err
		}

		switch p.Status {
		case model.PaymentCompleted:
			if p.GatewayRefID != in.GatewayRefID {
				return errs.NewVerificationFailedError("payment already completed with a different reference")
			}
			out = Verification{Payment: p, Booking: b, AlreadyVerified: true}
			return nil
		case model.PaymentFailed:
			return errs.NewVerificationFailedError("payment attempt is no longer pending")
		}

		total := esewa.FormatAmount(p.Amount)
		if in.TotalAmount != "" {
			sent, err := decimal.NewFromString(in.TotalAmount)
			if err != nil || !sent.Equal(p.Amount) {
				return errs.NewVerificationFailedError("amount does not match the payment")
			}
			total = in.TotalAmount
		}
		if !c.gateway.VerifySignature(total, p.CorrelationToken, in.GatewayRefID, in.Signature) {
			return errs.NewVerificationFailedError("invalid payment signature")
		}

		now := c.opts.Now()
		p.Status = model.PaymentCompleted
		p.GatewayRefID = in.GatewayRefID
		p.Signature = in.Signature
		p.CompletedAt = &now
		if err := tx.SavePayment(ctx, &p); err != nil {
			return err
		}

		if isQualifying(p.Type) && b.Status == model.BookingAwaitingPayment {
			if _, err := tx.RoomForUpdate(ctx, b.ListingID); err != nil {
				return err
			}
			if err := Transition(&b, model.BookingPaidPendingApproval); err != nil {
				return err
			}
			if err := tx.SaveBooking(ctx, &b); err != nil {
				return err
			}
			if err := syncRoomStatus(ctx, tx, b.ListingID); err != nil {
				return err
			}
			transitioned = true
		}

		out = Verification{Payment: p, Booking: b}
		return nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindVerificationFailed {
			metrics.PaymentVerifications.WithLabelValues("rejected").Inc()
			c.log.Warn("payment verification failed",
				zap.Uint("payment_id", p.ID),
				zap.String("transaction_uuid", in.CorrelationToken),
				zap.Error(err))
		}
		return Verification{}, err
	}

	if out.AlreadyVerified {
		metrics.PaymentVerifications.WithLabelValues("duplicate").Inc()
		return out, nil
	}

	metrics.PaymentVerifications.WithLabelValues("verified").Inc()
	c.log.Info("payment verified",
		zap.Uint("payment_id", out.Payment.ID),
		zap.Uint("booking_id", out.Booking.ID),
		zap.String("payment_type", string(out.Payment.Type)),
		zap.Bool("transitioned", transitioned))

	c.publish(ActionPaymentCompleted, PaymentEvent{
		PaymentID:    out.Payment.ID,
		BookingID:    out.Payment.BookingID,
		TenantID:     out.Payment.TenantID,
		LandlordID:   out.Payment.LandlordID,
		Type:         out.Payment.Type,
		Amount:       out.Payment.Amount,
		Month:        out.Payment.Month,
		GatewayRefID: out.Payment.GatewayRefID,
	})
	if transitioned {
		metrics.BookingTransitions.WithLabelValues(string(out.Booking.Status)).Inc()
		if c.notifier != nil {
			c.notifier.BookingUpdated(out.Booking)
		}
	}
	return out, nil
}

// Payments lists every attempt on a booking for either party.
func (c *Coordinator) Payments(ctx context.Context, bookingID, callerID uint) ([]model.Payment, error) {
	if _, err := c.Booking(ctx, bookingID, callerID); err != nil {
		return nil, err
	}
	return c.repo.Payments(ctx, bookingID)
}

type PaymentStatus struct {
	Payment model.Payment           `json:"payment"`
	Gateway esewa.TransactionStatus `json:"gateway"`
}

// PaymentStatus asks the gateway about an attempt without changing it.
// Completion still requires a signed callback through VerifyPayment.
func (c *Coordinator) PaymentStatus(ctx context.Context, token string, callerID uint) (PaymentStatus, error) {
	var out PaymentStatus

	if callerID == 0 {
		return out, errs.Unauthenticated
	}
	p, err := c.repo.PaymentByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return out, errs.NewNotFoundError("payment not found")
	}
	if err != nil {
		return out, err
	}
	if p.TenantID != callerID && p.LandlordID != callerID {
		return out, errs.NewPermissionDeniedError("not a party to this payment")
	}

	gctx, cancel := context.WithTimeout(ctx, c.opts.GatewayTimeout)
	defer cancel()

	st, err := c.gateway.Status(gctx, p.Amount, p.CorrelationToken)
	if err != nil {
		c.log.Warn("payment status lookup failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		return out, errs.NewUpstreamUnavailableError("payment gateway is not responding, please retry")
	}
	return PaymentStatus{Payment: p, Gateway: st}, nil
}
