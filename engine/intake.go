package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"wablast/gateway"
	"wablast/models"
	"wablast/utils"
)

// CreateCampaignInput is the validated campaign creation request. Recipients
// are expected to be pre-deduplicated by the caller.
type CreateCampaignInput struct {
	Name       string   `json:"name" validate:"required,max=120"`
	Body       string   `json:"body" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1,dive,required"`
	MediaURL   *string  `json:"media_url,omitempty"`
	MediaKind  string   `json:"media_kind,omitempty" validate:"omitempty,oneof=image video audio document"`
	DelayMs    int      `json:"delay_ms,omitempty" validate:"omitempty,gte=1000"`
}

// CreateCampaign validates the request, gates it against session readiness,
// subscription and quota, and persists the campaign with one message row per
// recipient in a single transaction.
func (e *Engine) CreateCampaign(ctx context.Context, user *models.User, input CreateCampaignInput) (*models.Campaign, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	if !e.gw.IsSessionReady(ctx, user.ID) {
		return nil, gateway.ErrSessionNotReady
	}
	if !user.SubscriptionActive {
		return nil, ErrNoSubscription
	}

	n := len(input.Recipients)
	if user.MessageCredits < n {
		return nil, &QuotaExceededError{Required: n, Available: user.MessageCredits}
	}
	if user.RemainingToday() < n {
		return nil, &QuotaExceededError{Required: n, Available: user.RemainingToday(), Daily: true}
	}

	delayMs := input.DelayMs
	if delayMs == 0 {
		delayMs = DefaultDelayMs
	}

	campaign := models.Campaign{
		UserID:       user.ID,
		Name:         input.Name,
		Body:         input.Body,
		MediaURL:     input.MediaURL,
		MediaKind:    input.MediaKind,
		DelayMs:      delayMs,
		Status:       models.CampaignStatusPending,
		TotalCount:   n,
		PendingCount: n,
	}

	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	if err := tx.Create(&campaign).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	messages := make([]models.CampaignMessage, 0, n)
	for _, recipient := range input.Recipients {
		messages = append(messages, models.CampaignMessage{
			CampaignID: campaign.ID,
			UserID:     user.ID,
			Recipient:  utils.NormalizePhone(recipient),
			Status:     models.MessageStatusPending,
		})
	}
	if err := tx.Create(&messages).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("create campaign messages: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit campaign: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"user_id":     user.ID,
		"recipients":  n,
	}).Info("campaign created")

	return &campaign, nil
}
