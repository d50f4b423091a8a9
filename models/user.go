package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`
	IsAdmin  bool `gorm:"default:false" json:"is_admin"`

	// Credit-based plan information
	PlanName           string     `gorm:"default:'free'" json:"plan_name"` // free, starter, grow, enterprise
	SubscriptionActive bool       `gorm:"default:true" json:"subscription_active"`
	MessageCredits     int        `gorm:"default:1000" json:"message_credits"` // remaining sendable messages
	DailySendLimit     int        `gorm:"default:500" json:"daily_send_limit"`
	SentToday          int        `gorm:"default:0" json:"sent_today"`
	LastCreditReset    *time.Time `json:"last_credit_reset"`

	// Relations
	Campaigns []Campaign `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
}

// RefreshToken stores issued refresh tokens so they can be revoked
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`

	User User `json:"-"`
}

// RemainingToday returns how many messages the user may still send today.
func (u *User) RemainingToday() int {
	remaining := u.DailySendLimit - u.SentToday
	if remaining < 0 {
		return 0
	}
	return remaining
}
