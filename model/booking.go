package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingRequested           BookingStatus = "requested"
	BookingAwaitingPayment     BookingStatus = "awaiting_payment"
	BookingPaidPendingApproval BookingStatus = "paid_pending_approval"
	BookingApproved            BookingStatus = "approved"
	BookingRejected            BookingStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentType string

const (
	PaymentSecurityDeposit PaymentType = "security_deposit"
	PaymentAdvance         PaymentType = "advance"
	// PaymentBooking covers deposit and advance in a single redirect.
	PaymentBooking     PaymentType = "booking_payment"
	PaymentMonthlyRent PaymentType = "monthly_rent"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentSecurityDeposit, PaymentAdvance, PaymentBooking, PaymentMonthlyRent:
		return true
	}
	return false
}

type Booking struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	ListingID        uint            `gorm:"not null;index" json:"listing_id"`
	TenantID         uint            `gorm:"not null;index" json:"tenant_id"`
	LandlordID       uint            `gorm:"not null;index" json:"landlord_id"`
	StartDate        time.Time       `gorm:"not null" json:"start_date"`
	EndDate          *time.Time      `json:"end_date"`
	Message          string          `gorm:"type:text" json:"message,omitempty"`
	Status           BookingStatus   `gorm:"size:32;not null;index" json:"status"`
	MonthlyRent      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"monthly_rent"`
	SecurityDeposit  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"security_deposit"`
	AdvancePayment   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"advance_payment"`
	LandlordResponse string          `gorm:"type:text" json:"landlord_response,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	Payments         []Payment       `gorm:"foreignKey:BookingID" json:"payments,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AmountFor returns what a payment of type t costs for this booking.
func (b Booking) AmountFor(t PaymentType) decimal.Decimal {
	switch t {
	case PaymentSecurityDeposit:
		return b.SecurityDeposit
	case PaymentAdvance:
		return b.AdvancePayment
	case PaymentBooking:
		return b.SecurityDeposit.Add(b.AdvancePayment)
	case PaymentMonthlyRent:
		return b.MonthlyRent
	}
	return decimal.Zero
}

type Payment struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	BookingID        uint            `gorm:"not null;index" json:"booking_id"`
	TenantID         uint            `gorm:"not null;index" json:"tenant_id"`
	LandlordID       uint            `gorm:"not null;index" json:"landlord_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Type             PaymentType     `gorm:"size:32;not null" json:"type"`
	Month            string          `gorm:"size:7" json:"month,omitempty"`
	CorrelationToken string          `gorm:"size:64;not null;uniqueIndex" json:"correlation_token"`
	GatewayRefID     string          `gorm:"size:255;index" json:"gateway_ref_id,omitempty"`
	Signature        string          `gorm:"size:500" json:"-"`
	Status           PaymentStatus   `gorm:"size:16;not null;index" json:"status"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
