package model

import "gorm.io/gorm"

const (
	RoleTenant   = "tenant"
	RoleLandlord = "landlord"
	RoleAdmin    = "admin"
)

// User struct
type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	FullName string `json:"full_name"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"not null;default:tenant" json:"role"`

	OtpEnabled bool   `gorm:"column:otp_enabled;default:false" json:"otp_enabled"`
	OtpSecret  string `json:"-"`
}

// DisplayName mirrors what chat and booking views show for a user.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
