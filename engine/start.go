package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/models"
	"wablast/queue"
)

// StartCampaign transitions a pending campaign to processing, consumes quota
// for all recipients, and enqueues one delivery job per message with a
// staggered delay of index*DelayMs. The queue's delay mechanism is the rate
// limiter; no separate throttle exists.
func (e *Engine) StartCampaign(ctx context.Context, user *models.User, campaignID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", campaignID, user.ID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if campaign.Status != models.CampaignStatusPending {
		return nil, &StateConflictError{CampaignID: campaign.ID, Status: campaign.Status, Operation: "start"}
	}

	now := time.Now()

	// The existence check and the pending->processing flip share one
	// transaction so two interleaved starts cannot both pass the gate.
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	var active models.Campaign
	err := tx.Where("user_id = ? AND status = ? AND id <> ?",
		user.ID, models.CampaignStatusProcessing, campaign.ID).
		First(&active).Error
	if err == nil {
		tx.Rollback()
		return nil, &ConcurrentCampaignError{ActiveID: active.ID, ActiveName: active.Name}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, err
	}

	res := tx.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusPending).
		Updates(map[string]interface{}{
			"status":     models.CampaignStatusProcessing,
			"started_at": now,
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, &StateConflictError{CampaignID: campaign.ID, Status: campaign.Status, Operation: "start"}
	}

	// Quota is consumed for the whole recipient list up front and is not
	// refunded on cancellation.
	if err := tx.Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"message_credits": gorm.Expr("message_credits - ?", campaign.TotalCount),
			"sent_today":      gorm.Expr("sent_today + ?", campaign.TotalCount),
		}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit start: %w", err)
	}

	var messages []models.CampaignMessage
	if err := e.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.MessageStatusPending).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load campaign messages: %w", err)
	}

	jobs := make([]queue.Job, 0, len(messages))
	for i, m := range messages {
		var mediaURL string
		if campaign.MediaURL != nil {
			mediaURL = *campaign.MediaURL
		}
		jobs = append(jobs, queue.Job{
			ID:            uuid.New().String(),
			CampaignID:    campaign.ID,
			MessageID:     m.ID,
			UserID:        user.ID,
			Recipient:     m.Recipient,
			Body:          campaign.Body,
			MediaURL:      mediaURL,
			MediaKind:     campaign.MediaKind,
			MaxAttempts:   maxAttempts,
			BackoffBaseMs: backoffBaseMs,
			FireAt:        now.Add(time.Duration(i*campaign.DelayMs) * time.Millisecond).UnixMilli(),
		})
	}

	if err := e.queue.EnqueueBulk(ctx, jobs); err != nil {
		// Nothing was handed to the queue; put the campaign back and refund.
		e.db.Model(&models.Campaign{}).
			Where("id = ?", campaign.ID).
			Updates(map[string]interface{}{"status": models.CampaignStatusPending, "started_at": nil})
		e.db.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"message_credits": gorm.Expr("message_credits + ?", campaign.TotalCount),
				"sent_today":      gorm.Expr("sent_today - ?", campaign.TotalCount),
			})
		return nil, fmt.Errorf("enqueue jobs: %w", err)
	}

	if err := e.db.Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.MessageStatusPending).
		Update("status", models.MessageStatusQueued).Error; err != nil {
		e.logger.WithError(err).WithField("campaign_id", campaign.ID).
			Error("failed to mark messages queued")
	}

	campaign.Status = models.CampaignStatusProcessing
	campaign.StartedAt = &now

	e.publish(user.ID, models.EventCampaignStarted, map[string]interface{}{
		"campaign_id": campaign.ID,
		"name":        campaign.Name,
		"total":       campaign.TotalCount,
	})

	e.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"user_id":     user.ID,
		"jobs":        len(jobs),
		"delay_ms":    campaign.DelayMs,
	}).Info("campaign started")

	return &campaign, nil
}
