package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/models"
)

// CancelCampaign stops a pending or processing campaign. Undelivered messages
// are settled as cancelled, already-sent ones are untouched, and any jobs
// still waiting in the queue are drained. Consumed quota is not refunded.
func (e *Engine) CancelCampaign(ctx context.Context, user *models.User, campaignID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", campaignID, user.ID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if campaign.Status != models.CampaignStatusPending && campaign.Status != models.CampaignStatusProcessing {
		return nil, &StateConflictError{CampaignID: campaign.ID, Status: campaign.Status, Operation: "cancel"}
	}

	now := time.Now()
	res := e.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", campaign.ID,
			[]string{models.CampaignStatusPending, models.CampaignStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race to a concurrent cancel or completion.
		if err := e.db.WithContext(ctx).First(&campaign, campaign.ID).Error; err != nil {
			return nil, err
		}
		return nil, &StateConflictError{CampaignID: campaign.ID, Status: campaign.Status, Operation: "cancel"}
	}

	// Settle undelivered messages. Two disjoint status sets, so in-flight
	// workers flipping queued->sent concurrently are never overwritten.
	if err := e.db.WithContext(ctx).Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status IN ?", campaign.ID,
			[]string{models.MessageStatusPending, models.MessageStatusQueued}).
		Update("status", models.MessageStatusCancelled).Error; err != nil {
		e.logger.WithError(err).WithField("campaign_id", campaign.ID).
			Error("failed to settle cancelled messages")
	}

	drained, err := e.queue.DrainCampaign(ctx, campaign.ID)
	if err != nil {
		e.logger.WithError(err).WithField("campaign_id", campaign.ID).
			Error("failed to drain queued jobs")
	}

	campaign.Status = models.CampaignStatusCancelled
	campaign.CancelledAt = &now

	e.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"user_id":     user.ID,
		"drained":     drained,
	}).Info("campaign cancelled")

	return &campaign, nil
}
