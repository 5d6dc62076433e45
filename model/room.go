package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomOccupied  RoomStatus = "occupied"
	RoomReserved  RoomStatus = "reserved"
	RoomInactive  RoomStatus = "inactive"
)

// Room is a rental listing. Listing CRUD lives elsewhere; this service reads
// pricing and owner, and decrements AvailableRooms on approval.
type Room struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OwnerID         uint            `gorm:"not null;index" json:"owner_id"`
	Title           string          `gorm:"not null" json:"title"`
	City            string          `gorm:"index" json:"city"`
	PricePerMonth   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price_per_month"`
	SecurityDeposit decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"security_deposit"`
	AdvancePayment  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"advance_payment"`
	TotalRooms      int             `gorm:"not null" json:"total_rooms"`
	AvailableRooms  int             `gorm:"not null" json:"available_rooms"`
	Status          RoomStatus      `gorm:"not null;default:available;index" json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RequiredPayment is what a tenant pays before the landlord sees the request.
func (r Room) RequiredPayment() decimal.Decimal {
	return r.SecurityDeposit.Add(r.AdvancePayment)
}
