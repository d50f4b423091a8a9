package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusPending    = "pending"
	CampaignStatusProcessing = "processing"
	CampaignStatusCompleted  = "completed"
	CampaignStatusCancelled  = "cancelled"
	CampaignStatusFailed     = "failed"
)

// Campaign message statuses
const (
	MessageStatusPending       = "pending"
	MessageStatusQueued        = "queued"
	MessageStatusSent          = "sent"
	MessageStatusFailed        = "failed"
	MessageStatusCancelled     = "cancelled"
	MessageStatusInvalidNumber = "invalid_number"
)

// Media kinds accepted by the gateway
const (
	MediaKindImage    = "image"
	MediaKindVideo    = "video"
	MediaKindAudio    = "audio"
	MediaKindDocument = "document"
)

// Campaign represents a bulk-send operation to N recipients
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name      string  `gorm:"not null" json:"name"`
	Body      string  `gorm:"not null;type:text" json:"body"`
	MediaURL  *string `json:"media_url,omitempty"`
	MediaKind string  `json:"media_kind,omitempty"` // image, video, audio, document

	// Pacing: minimum spacing between recipients, in milliseconds
	DelayMs int `gorm:"default:3000" json:"delay_ms"`

	// Scheduling
	Status      string     `gorm:"default:'pending';index" json:"status"` // pending, processing, completed, cancelled, failed
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`

	// Aggregate counters (denormalized; sent+failed+invalid+pending == total)
	TotalCount   int `gorm:"default:0" json:"total_count"`
	SentCount    int `gorm:"default:0" json:"sent_count"`
	FailedCount  int `gorm:"default:0" json:"failed_count"`
	InvalidCount int `gorm:"default:0" json:"invalid_count"`
	PendingCount int `gorm:"default:0" json:"pending_count"`
	ReplyCount   int `gorm:"default:0" json:"reply_count"`

	// Relations
	Messages []CampaignMessage `gorm:"foreignKey:CampaignID" json:"messages,omitempty"`
	Replies  []CampaignReply   `gorm:"foreignKey:CampaignID" json:"replies,omitempty"`
}

// CampaignMessage is the per-recipient delivery record within a campaign.
// A row reaches at most one terminal state (sent, failed, cancelled,
// invalid_number) and never changes again afterward.
type CampaignMessage struct {
	gorm.Model
	CampaignID uint   `gorm:"not null;index" json:"campaign_id"`
	UserID     uint   `gorm:"not null;index" json:"user_id"`
	Recipient  string `gorm:"not null;index" json:"recipient"` // normalized phone number

	Status string `gorm:"default:'pending';index" json:"status"` // pending, queued, sent, failed, cancelled, invalid_number

	// Delivery metadata
	GatewayMessageID *string    `json:"gateway_message_id,omitempty"`
	RetryCount       int        `gorm:"default:0" json:"retry_count"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SentAt           *time.Time `gorm:"index" json:"sent_at"`

	// Relations
	Campaign Campaign `json:"-"`
}

// CampaignReply records an inbound message attributed to a campaign.
// Rows are immutable except for the read flag.
type CampaignReply struct {
	gorm.Model
	CampaignID uint  `gorm:"not null;index" json:"campaign_id"`
	MessageID  *uint `gorm:"index" json:"message_id,omitempty"` // matched outbound message, if any
	UserID     uint  `gorm:"not null;index" json:"user_id"`

	Sender           string    `gorm:"not null;index" json:"sender"` // normalized phone number
	Body             string    `gorm:"type:text" json:"body"`
	MediaURL         *string   `json:"media_url,omitempty"`
	GatewayMessageID string    `gorm:"index" json:"gateway_message_id"`
	ReceivedAt       time.Time `gorm:"not null" json:"received_at"`
	IsRead           bool      `gorm:"default:false" json:"is_read"`

	// Relations
	Campaign Campaign         `json:"-"`
	Message  *CampaignMessage `gorm:"foreignKey:MessageID" json:"message,omitempty"`
}

// Processed returns the number of recipients that reached a counted terminal state.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount + c.InvalidCount
}

// Percentage returns overall progress as 0-100.
func (c *Campaign) Percentage() int {
	if c.TotalCount == 0 {
		return 0
	}
	return c.Processed() * 100 / c.TotalCount
}
