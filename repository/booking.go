package repository

import (
	"context"
	"errors"
	"fmt"

	"roombox-service/model"
)

func (r *Repository) Booking(ctx context.Context, id uint) (model.Booking, error) {
	return first[model.Booking](r.db.WithContext(ctx), "booking", id)
}

// BookingForUpdate reads the booking under a row lock when called inside Transaction.
func (r *Repository) BookingForUpdate(ctx context.Context, id uint) (model.Booking, error) {
	return first[model.Booking](r.forUpdate(ctx), "booking", id)
}

func (r *Repository) CreateBooking(ctx context.Context, b *model.Booking) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (r *Repository) SaveBooking(ctx context.Context, b *model.Booking) error {
	if err := r.db.WithContext(ctx).Omit("Payments").Save(b).Error; err != nil {
		return fmt.Errorf("save booking: %w", err)
	}
	return nil
}

// OpenBooking returns a tenant's booking for the listing that is not rejected, if any.
func (r *Repository) OpenBooking(ctx context.Context, tenantID, listingID uint) (*model.Booking, error) {
	b, err := first[model.Booking](r.db.WithContext(ctx).
		Where("tenant_id = ? AND listing_id = ? AND status <> ?", tenantID, listingID, model.BookingRejected),
		"booking")
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountBookings counts a listing's bookings in the given status.
func (r *Repository) CountBookings(ctx context.Context, listingID uint, status model.BookingStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("listing_id = ? AND status = ?", listingID, status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return n, nil
}

// BookingsByTenant lists a tenant's bookings newest first with their completed payments.
func (r *Repository) BookingsByTenant(ctx context.Context, tenantID uint) ([]model.Booking, error) {
	return r.bookingsWhere(ctx, "tenant_id = ?", tenantID)
}

// BookingsByLandlord lists bookings on a landlord's listings newest first with their completed payments.
func (r *Repository) BookingsByLandlord(ctx context.Context, landlordID uint) ([]model.Booking, error) {
	return r.bookingsWhere(ctx, "landlord_id = ?", landlordID)
}

func (r *Repository) bookingsWhere(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	var out []model.Booking
	err := r.db.WithContext(ctx).
		Preload("Payments", "status = ?", model.PaymentCompleted).
		Where(query, args...).
		Order("created_at desc").
		Order("id desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (r *Repository) CreatePayment(ctx context.Context, p *model.Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *Repository) SavePayment(ctx context.Context, p *model.Payment) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (r *Repository) PaymentByToken(ctx context.Context, token string) (model.Payment, error) {
	return first[model.Payment](r.db.WithContext(ctx).Where("correlation_token = ?", token), "payment")
}

func (r *Repository) PaymentByTokenForUpdate(ctx context.Context, token string) (model.Payment, error) {
	return first[model.Payment](r.forUpdate(ctx).Where("correlation_token = ?", token), "payment")
}

func (r *Repository) Payments(ctx context.Context, bookingID uint) ([]model.Payment, error) {
	var out []model.Payment
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

// CompletedPayments counts completed payments of the given types on a booking.
// An empty month matches any month.
func (r *Repository) CompletedPayments(ctx context.Context, bookingID uint, month string, types ...model.PaymentType) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("booking_id = ? AND status = ? AND type IN ?", bookingID, model.PaymentCompleted, types)
	if month != "" {
		q = q.Where("month = ?", month)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}
