// Package booking drives a booking from request through payment to the
// landlord's decision. Every state change goes through Transition and runs
// under a per-booking lock plus a database transaction.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"roombox-service/errs"
	"roombox-service/esewa"
	"roombox-service/keylock"
	"roombox-service/metrics"
	"roombox-service/model"
	"roombox-service/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ActionBookingRequested = "booking.requested"
	ActionPaymentCompleted = "payment.completed"
	ActionBookingApproved  = "booking.approved"
	ActionBookingRejected  = "booking.rejected"

	EventBookingUpdated = "booking_updated"

	DefaultRejectResponse = "Booking rejected"
	maxMessageLength      = 1000
)

// Gateway is the payment processor as the coordinator sees it.
type Gateway interface {
	BuildRedirectForm(ctx context.Context, in esewa.RedirectRequest) (esewa.RedirectForm, error)
	VerifySignature(totalAmount, token, refID, signature string) bool
	Status(ctx context.Context, amount decimal.Decimal, token string) (esewa.TransactionStatus, error)
}

type Publisher interface {
	Publish(ctx context.Context, action string, payload any) error
}

// Notifier pushes committed booking changes to the live sessions of both parties.
type Notifier interface {
	BookingUpdated(b model.Booking)
}

type Options struct {
	GatewayTimeout time.Duration
	SuccessURL     string
	FailureURL     string
	// Now is swapped in tests.
	Now func() time.Time
}

type Coordinator struct {
	repo     *repository.Repository
	gateway  Gateway
	events   Publisher
	notifier Notifier
	log      *zap.Logger
	opts     Options

	bookings   *keylock.Map[uint]
	requesting *keylock.Map[[2]uint]
}

func NewCoordinator(repo *repository.Repository, gateway Gateway, events Publisher, notifier Notifier, log *zap.Logger, opts Options) *Coordinator {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		repo:       repo,
		gateway:    gateway,
		events:     events,
		notifier:   notifier,
		log:        log,
		opts:       opts,
		bookings:   keylock.New[uint](),
		requesting: keylock.New[[2]uint](),
	}
}

type BookingEvent struct {
	BookingID  uint                `json:"booking_id"`
	ListingID  uint                `json:"listing_id"`
	TenantID   uint                `json:"tenant_id"`
	LandlordID uint                `json:"landlord_id"`
	Status     model.BookingStatus `json:"status"`
}

func bookingEvent(b model.Booking) BookingEvent {
	return BookingEvent{
		BookingID:  b.ID,
		ListingID:  b.ListingID,
		TenantID:   b.TenantID,
		LandlordID: b.LandlordID,
		Status:     b.Status,
	}
}

type RequestBooking struct {
	ListingID uint
	TenantID  uint
	StartDate time.Time
	EndDate   *time.Time
	Message   string
}

func (in *RequestBooking) Validate(now time.Time) error {
	in.Message = strings.TrimSpace(in.Message)
	if in.TenantID == 0 {
		return errs.Unauthenticated
	}
	if in.ListingID == 0 {
		return errs.NewInvalidArgumentError("room_id", "listing is required")
	}
	if in.StartDate.IsZero() {
		return errs.NewInvalidArgumentError("start_date", "start date is required")
	}
	if day(in.StartDate).Before(day(now)) {
		return errs.NewInvalidArgumentError("start_date", "start date cannot be in the past")
	}
	if in.EndDate != nil && day(*in.EndDate).Before(day(in.StartDate)) {
		return errs.NewInvalidArgumentError("end_date", "end date cannot be before start date")
	}
	if utf8.RuneCountInString(in.Message) > maxMessageLength {
		return errs.NewInvalidArgumentError("tenant_message", "message is too long")
	}
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RequestBooking opens a booking with the listing's current pricing copied
// onto it. Listings without a deposit or advance skip the payment step.
func (c *Coordinator) RequestBooking(ctx context.Context, in RequestBooking) (model.Booking, error) {
	var out model.Booking

	if err := in.Validate(c.opts.Now()); err != nil {
		return out, err
	}

	room, err := c.repo.Room(ctx, in.ListingID)
	if errors.Is(err, repository.ErrNotFound) {
		return out, errs.NewNotFoundError("listing not found")
	}
	if err != nil {
		return out, err
	}
	if room.OwnerID == in.TenantID {
		return out, errs.NewPermissionDeniedError("you cannot book your own listing")
	}
	if room.Status == model.RoomInactive || room.AvailableRooms <= 0 {
		return out, errs.NewConflictError("listing has no rooms available")
	}

	unlock := c.requesting.Lock([2]uint{in.ListingID, in.TenantID})
	defer unlock()

	open, err := c.repo.OpenBooking(ctx, in.TenantID, in.ListingID)
	if err != nil {
		return out, err
	}
	if open != nil {
		return out, errs.NewConflictError(fmt.Sprintf("you already have an open booking for this listing (%s)", open.Status))
	}

	out = model.Booking{
		ListingID:       room.ID,
		TenantID:        in.TenantID,
		LandlordID:      room.OwnerID,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Message:         in.Message,
		Status:          model.BookingRequested,
		MonthlyRent:     room.PricePerMonth,
		SecurityDeposit: room.SecurityDeposit,
		AdvancePayment:  room.AdvancePayment,
	}
	next := model.BookingAwaitingPayment
	if !room.RequiredPayment().IsPositive() {
		next = model.BookingPaidPendingApproval
	}
	if err := Transition(&out, next); err != nil {
		return model.Booking{}, err
	}
	if err := c.repo.CreateBooking(ctx, &out); err != nil {
		return model.Booking{}, err
	}

	c.log.Info("booking requested",
		zap.Uint("booking_id", out.ID),
		zap.Uint("listing_id", out.ListingID),
		zap.Uint("tenant_id", out.TenantID),
		zap.String("status", string(out.Status)))

	c.committed(out, ActionBookingRequested)
	return out, nil
}

// ApproveBooking accepts a paid booking and takes one room off the listing.
func (c *Coordinator) ApproveBooking(ctx context.Context, bookingID, landlordID uint) (model.Booking, error) {
	return c.decide(ctx, bookingID, landlordID, func(tx *repository.Repository, b *model.Booking, room model.Room) error {
		if err := Transition(b, model.BookingApproved); err != nil {
			return err
		}
		ok, err := tx.DecrementAvailableRooms(ctx, room.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.NewConflictError("no rooms left on this listing")
		}
		now := c.opts.Now()
		b.ApprovedAt = &now
		return nil
	})
}

func (c *Coordinator) RejectBooking(ctx context.Context, bookingID, landlordID uint, reason string) (model.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectResponse
	}
	if utf8.RuneCountInString(reason) > maxMessageLength {
		return model.Booking{}, errs.NewInvalidArgumentError("landlord_response", "response is too long")
	}

	return c.decide(ctx, bookingID, landlordID, func(_ *repository.Repository, b *model.Booking, _ model.Room) error {
		if err := Transition(b, model.BookingRejected); err != nil {
			return err
		}
		b.LandlordResponse = reason
		return nil
	})
}

func (c *Coordinator) decide(ctx context.Context, bookingID, landlordID uint, apply func(tx *repository.Repository, b *model.Booking, room model.Room) error) (model.Booking, error) {
	var out model.Booking

	if landlordID == 0 {
		return out, errs.Unauthenticated
	}

	unlock := c.bookings.Lock(bookingID)
	defer unlock()

	err := c.repo.Transaction(ctx, func(tx *repository.Repository) error {
		b, err := tx.BookingForUpdate(ctx, bookingID)
		if errors.Is(err, repository.ErrNotFound) {
			return errs.NewNotFoundError("booking not found")
		}
		if err != nil {
			return err
		}

		room, err := tx.RoomForUpdate(ctx, b.ListingID)
		if errors.Is(err, repository.ErrNotFound) {
			return errs.NewNotFoundError("listing not found")
		}
		if err != nil {
			return err
		}
		if room.OwnerID != landlordID {
			return errs.NewPermissionDeniedError("only the listing owner can decide on this booking")
		}

		if err := apply(tx, &b, room); err != nil {
			return err
		}
		if err := tx.SaveBooking(ctx, &b); err != nil {
			return err
		}
		if err := syncRoomStatus(ctx, tx, room.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}

	action := ActionBookingApproved
	if out.Status == model.BookingRejected {
		action = ActionBookingRejected
	}
	c.log.Info("booking decided",
		zap.Uint("booking_id", out.ID),
		zap.Uint("landlord_id", landlordID),
		zap.String("status", string(out.Status)))

	c.committed(out, action)
	return out, nil
}

// syncRoomStatus derives the listing's status from its rooms: occupied when
// none are left, reserved while paid bookings waiting on the landlord claim
// every remaining room. Inactive listings keep their status. The room row
// must already be locked by the caller's transaction.
func syncRoomStatus(ctx context.Context, tx *repository.Repository, roomID uint) error {
	room, err := tx.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == model.RoomInactive {
		return nil
	}

	status := model.RoomAvailable
	if room.AvailableRooms <= 0 {
		status = model.RoomOccupied
	} else {
		paid, err := tx.CountBookings(ctx, room.ID, model.BookingPaidPendingApproval)
		if err != nil {
			return err
		}
		if paid >= int64(room.AvailableRooms) {
			status = model.RoomReserved
		}
	}
	if status == room.Status {
		return nil
	}
	return tx.SetRoomStatus(ctx, room.ID, status)
}

// Booking returns a booking visible to either party.
func (c *Coordinator) Booking(ctx context.Context, bookingID, callerID uint) (model.Booking, error) {
	if callerID == 0 {
		return model.Booking{}, errs.Unauthenticated
	}
	b, err := c.repo.Booking(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return b, errs.NewNotFoundError("booking not found")
	}
	if err != nil {
		return b, err
	}
	if b.TenantID != callerID && b.LandlordID != callerID {
		return model.Booking{}, errs.NewPermissionDeniedError("not a party to this booking")
	}
	return b, nil
}

type Summary struct {
	model.Booking
	PaidTotal decimal.Decimal `json:"paid_total"`
}

// ListBookings lists the caller's bookings as tenant (the default) or as landlord.
func (c *Coordinator) ListBookings(ctx context.Context, callerID uint, as string) ([]Summary, error) {
	if callerID == 0 {
		return nil, errs.Unauthenticated
	}

	var (
		bookings []model.Booking
		err      error
	)
	switch as {
	case "", model.RoleTenant:
		bookings, err = c.repo.BookingsByTenant(ctx, callerID)
	case model.RoleLandlord:
		bookings, err = c.repo.BookingsByLandlord(ctx, callerID)
	default:
		return nil, errs.NewInvalidArgumentError("as", "must be tenant or landlord")
	}
	if err != nil {
		return nil, err
	}

	out := make([]Summary, len(bookings))
	for i, b := range bookings {
		total := decimal.Zero
		for _, p := range b.Payments {
			total = total.Add(p.Amount)
		}
		out[i] = Summary{Booking: b, PaidTotal: total}
	}
	return out, nil
}

// committed runs the side effects of a state change that is already durable.
func (c *Coordinator) committed(b model.Booking, action string) {
	metrics.BookingTransitions.WithLabelValues(string(b.Status)).Inc()
	if c.notifier != nil {
		c.notifier.BookingUpdated(b)
	}
	c.publish(action, bookingEvent(b))
}

func (c *Coordinator) publish(action string, payload any) {
	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.events.Publish(ctx, action, payload); err != nil {
		c.log.Warn("publish booking event", zap.String("action", action), zap.Error(err))
	}
}
