package models

import (
	"time"

	"gorm.io/gorm"
)

// Chat directions
const (
	ChatDirectionIn  = "in"
	ChatDirectionOut = "out"
)

// Funnel stages
const (
	FunnelStageContacted = "contacted"
	FunnelStageReplied   = "replied"
)

// ChatEntry is one line of the per-contact conversation log. Outbound entries
// are appended best-effort after a successful campaign send; inbound entries
// when a reply arrives. Failures here never fail the dispatch itself.
type ChatEntry struct {
	gorm.Model
	UserID           uint    `gorm:"not null;index" json:"user_id"`
	Contact          string  `gorm:"not null;index" json:"contact"` // normalized phone number
	Direction        string  `gorm:"not null" json:"direction"`     // in, out
	Body             string  `gorm:"type:text" json:"body"`
	MediaURL         *string `json:"media_url,omitempty"`
	CampaignID       *uint   `gorm:"index" json:"campaign_id,omitempty"`
	GatewayMessageID string  `json:"gateway_message_id,omitempty"`

	User User `json:"-"`
}

// FunnelContact tracks where a contact sits in the outreach funnel. One row
// per (user, contact); the stage only moves forward (contacted -> replied).
type FunnelContact struct {
	gorm.Model
	UserID      uint      `gorm:"not null;index:idx_funnel_user_contact,unique" json:"user_id"`
	Contact     string    `gorm:"not null;index:idx_funnel_user_contact,unique" json:"contact"`
	Stage       string    `gorm:"default:'contacted'" json:"stage"` // contacted, replied
	CampaignID  *uint     `gorm:"index" json:"campaign_id,omitempty"`
	LastTouchAt time.Time `json:"last_touch_at"`

	User User `json:"-"`
}
