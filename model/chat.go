package model

import "time"

// ChatChannel is the one conversation between a tenant and a landlord about a listing.
type ChatChannel struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ListingID  uint      `gorm:"not null;uniqueIndex:idx_chat_channel_triple,priority:1" json:"listing_id"`
	TenantID   uint      `gorm:"not null;uniqueIndex:idx_chat_channel_triple,priority:2;index" json:"tenant_id"`
	LandlordID uint      `gorm:"not null;uniqueIndex:idx_chat_channel_triple,priority:3;index" json:"landlord_id"`
	Listing    Room      `gorm:"foreignKey:ListingID" json:"-"`
	Tenant     User      `gorm:"foreignKey:TenantID" json:"-"`
	Landlord   User      `gorm:"foreignKey:LandlordID" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c ChatChannel) HasParticipant(userID uint) bool {
	return userID != 0 && (userID == c.TenantID || userID == c.LandlordID)
}

// Counterpart returns the other participant, or 0 if userID is not one.
func (c ChatChannel) Counterpart(userID uint) uint {
	switch userID {
	case c.TenantID:
		return c.LandlordID
	case c.LandlordID:
		return c.TenantID
	}
	return 0
}

// ChatMessage rows are append-only; id order is the channel's total order.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChannelID uint      `gorm:"not null;index;uniqueIndex:idx_chat_message_client_key,priority:1" json:"channel_id"`
	SenderID  uint      `gorm:"not null;index;uniqueIndex:idx_chat_message_client_key,priority:2" json:"sender_id"`
	ClientKey *string   `gorm:"size:128;uniqueIndex:idx_chat_message_client_key,priority:3" json:"client_key,omitempty"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
