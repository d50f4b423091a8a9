package engine

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"wablast/models"
)

// GetCampaign loads one campaign owned by the user.
func (e *Engine) GetCampaign(ctx context.Context, user *models.User, campaignID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", campaignID, user.ID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &campaign, nil
}

// ListCampaigns pages through the user's campaigns, newest first, optionally
// filtered by status.
func (e *Engine) ListCampaigns(ctx context.Context, user *models.User, status string, page, perPage int) ([]models.Campaign, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	q := e.db.WithContext(ctx).Model(&models.Campaign{}).Where("user_id = ?", user.ID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var campaigns []models.Campaign
	if err := q.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&campaigns).Error; err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// ListMessages returns a campaign's per-recipient delivery records.
func (e *Engine) ListMessages(ctx context.Context, user *models.User, campaignID uint) ([]models.CampaignMessage, error) {
	if _, err := e.GetCampaign(ctx, user, campaignID); err != nil {
		return nil, err
	}
	var messages []models.CampaignMessage
	if err := e.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// Stats is the aggregate dashboard view across all of a user's campaigns.
type Stats struct {
	Campaigns  int64 `json:"campaigns"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Invalid    int64 `json:"invalid"`
	Replies    int64 `json:"replies"`
}

// GetStats aggregates delivery and reply totals for the user.
func (e *Engine) GetStats(ctx context.Context, userID uint) (*Stats, error) {
	var s Stats

	base := e.db.WithContext(ctx).Model(&models.Campaign{}).Where("user_id = ?", userID)
	if err := base.Session(&gorm.Session{}).Count(&s.Campaigns).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("status = ?", models.CampaignStatusProcessing).
		Count(&s.Processing).Error; err != nil {
		return nil, err
	}

	type totals struct {
		Sent    int64
		Failed  int64
		Invalid int64
		Replies int64
	}
	var t totals
	if err := e.db.WithContext(ctx).Model(&models.Campaign{}).
		Select("COALESCE(SUM(sent_count),0) AS sent, COALESCE(SUM(failed_count),0) AS failed, COALESCE(SUM(invalid_count),0) AS invalid, COALESCE(SUM(reply_count),0) AS replies").
		Where("user_id = ?", userID).
		Scan(&t).Error; err != nil {
		return nil, err
	}
	s.Sent, s.Failed, s.Invalid, s.Replies = t.Sent, t.Failed, t.Invalid, t.Replies

	return &s, nil
}
