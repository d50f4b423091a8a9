package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification event names published by the engine
const (
	EventCampaignStarted   = "campaign:started"
	EventCampaignProgress  = "campaign:progress"
	EventCampaignCompleted = "campaign:completed"
	EventReplyReceived     = "reply:received"
)

// Notification is the durable record of an event published to a user. The
// websocket hub delivers the same payload in real time; this row is what a
// client that was offline catches up on.
type Notification struct {
	gorm.Model
	UserID  uint                   `gorm:"not null;index" json:"user_id"`
	Event   string                 `gorm:"not null;index" json:"event"`
	Payload map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"payload"`
	ReadAt  *time.Time             `json:"read_at"`

	User User `json:"-"`
}
