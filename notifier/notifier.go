package notifier

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/models"
)

// Notifier persists every published event as a notification row and pushes it
// to the user's live websocket connections through the hub. Publishing is
// fire-and-forget: a dead socket or a failed insert is logged, never returned.
type Notifier struct {
	db     *gorm.DB
	hub    *Hub
	logger *logrus.Entry
}

func New(db *gorm.DB, hub *Hub, logger *logrus.Logger) *Notifier {
	return &Notifier{
		db:     db,
		hub:    hub,
		logger: logger.WithField("component", "notifier"),
	}
}

// Publish stores the event and fans it out to connected clients.
func (n *Notifier) Publish(userID uint, event string, payload map[string]interface{}) {
	record := models.Notification{
		UserID:  userID,
		Event:   event,
		Payload: payload,
	}
	if err := n.db.Create(&record).Error; err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event,
		}).Error("failed to persist notification")
	}

	n.hub.Send(userID, Envelope{
		Event:   event,
		Payload: payload,
		SentAt:  time.Now(),
	})
}

// List returns the user's notifications, newest first, capped at limit.
func (n *Notifier) List(userID uint, limit int) ([]models.Notification, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var notifications []models.Notification
	err := n.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

// MarkAllRead stamps every unread notification for the user.
func (n *Notifier) MarkAllRead(userID uint) error {
	return n.db.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", time.Now()).Error
}
