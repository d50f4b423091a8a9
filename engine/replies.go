package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/gateway"
	"wablast/models"
	"wablast/utils"
)

// HandleInbound attributes an incoming message to the most recent campaign
// send to that contact within the lookback window. Inbound messages with no
// matching send are not campaign replies and are dropped silently.
func (e *Engine) HandleInbound(ctx context.Context, msg gateway.InboundMessage) {
	sender := utils.NormalizePhone(msg.Sender)
	if sender == "" {
		return
	}

	cutoff := time.Now().Add(-replyLookbackHours * time.Hour)

	var outbound models.CampaignMessage
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND recipient IN ? AND status = ? AND sent_at > ?",
			msg.UserID, utils.PhoneVariants(sender), models.MessageStatusSent, cutoff).
		Order("sent_at DESC").
		First(&outbound).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			e.logger.WithError(err).Error("reply attribution lookup failed")
		}
		return
	}

	receivedAt := time.Unix(msg.Timestamp, 0)
	if msg.Timestamp == 0 {
		receivedAt = time.Now()
	}

	reply := models.CampaignReply{
		CampaignID:       outbound.CampaignID,
		MessageID:        &outbound.ID,
		UserID:           msg.UserID,
		Sender:           sender,
		Body:             msg.Body,
		MediaURL:         msg.MediaURL,
		GatewayMessageID: msg.GatewayMessageID,
		ReceivedAt:       receivedAt,
	}
	if err := e.db.WithContext(ctx).Create(&reply).Error; err != nil {
		e.logger.WithError(err).WithField("campaign_id", outbound.CampaignID).
			Error("failed to store reply")
		return
	}

	if err := e.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", outbound.CampaignID).
		Update("reply_count", gorm.Expr("reply_count + ?", 1)).Error; err != nil {
		e.logger.WithError(err).WithField("campaign_id", outbound.CampaignID).
			Error("failed to bump reply count")
	}

	if e.effects != nil {
		e.effects.ReplyReceived(msg.UserID, outbound.CampaignID, sender, msg.Body, msg.MediaURL, msg.GatewayMessageID)
	}

	e.publish(msg.UserID, models.EventReplyReceived, map[string]interface{}{
		"campaign_id": outbound.CampaignID,
		"reply_id":    reply.ID,
		"sender":      sender,
		"body":        msg.Body,
	})

	e.logger.WithFields(logrus.Fields{
		"campaign_id": outbound.CampaignID,
		"message_id":  outbound.ID,
		"sender":      sender,
	}).Info("reply attributed")
}

// ListReplies returns a campaign's replies, newest first, optionally limited
// to unread ones.
func (e *Engine) ListReplies(ctx context.Context, user *models.User, campaignID uint, unreadOnly bool) ([]models.CampaignReply, error) {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", campaignID, user.ID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	q := e.db.WithContext(ctx).Where("campaign_id = ?", campaign.ID)
	if unreadOnly {
		q = q.Where("is_read = false")
	}

	var replies []models.CampaignReply
	if err := q.Order("received_at DESC").Find(&replies).Error; err != nil {
		return nil, err
	}
	return replies, nil
}

// MarkReplyRead flags one reply as read.
func (e *Engine) MarkReplyRead(ctx context.Context, user *models.User, replyID uint) error {
	res := e.db.WithContext(ctx).Model(&models.CampaignReply{}).
		Where("id = ? AND user_id = ?", replyID, user.ID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReplyNotFound
	}
	return nil
}
