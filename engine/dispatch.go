package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/gateway"
	"wablast/models"
	"wablast/queue"
)

// HandleJob delivers one campaign message. It is safe to call more than once
// for the same job: terminal message transitions are guarded by conditional
// updates, so a duplicate delivery attempt against an already-settled message
// is a no-op.
func (e *Engine) HandleJob(ctx context.Context, job queue.Job) error {
	log := e.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"campaign_id": job.CampaignID,
		"message_id":  job.MessageID,
		"attempt":     job.Attempt,
	})

	var campaign models.Campaign
	if err := e.db.WithContext(ctx).First(&campaign, job.CampaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("campaign gone, dropping job")
			return nil
		}
		return err
	}

	// A job that outraced the cancellation drainer settles its message and
	// leaves. No counters move: the campaign is already terminal.
	if campaign.Status == models.CampaignStatusCancelled {
		if err := e.db.Model(&models.CampaignMessage{}).
			Where("id = ? AND status IN ?", job.MessageID,
				[]string{models.MessageStatusPending, models.MessageStatusQueued}).
			Update("status", models.MessageStatusCancelled).Error; err != nil {
			log.WithError(err).Error("failed to settle cancelled message")
		}
		return nil
	}

	var msg models.CampaignMessage
	if err := e.db.WithContext(ctx).First(&msg, job.MessageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("message gone, dropping job")
			return nil
		}
		return err
	}
	if msg.Status != models.MessageStatusPending && msg.Status != models.MessageStatusQueued {
		return nil
	}

	if !e.gw.IsSessionReady(ctx, job.UserID) {
		return e.retryOrFail(ctx, &campaign, job, gateway.ErrSessionNotReady, log)
	}

	registered, err := e.gw.IsRegistered(ctx, job.UserID, job.Recipient)
	if err != nil {
		return e.retryOrFail(ctx, &campaign, job, err, log)
	}
	if !registered {
		// Unregistered numbers never become deliverable; no retry.
		return e.finishInvalid(ctx, &campaign, job, log)
	}

	gatewayMessageID, sendErr := e.sendMessage(ctx, job, log)
	if sendErr != nil {
		return e.retryOrFail(ctx, &campaign, job, sendErr, log)
	}

	return e.finishSent(ctx, &campaign, job, gatewayMessageID, log)
}

// sendMessage sends media when the campaign carries it, falling back to a
// text-only send when the media itself is the problem. Session and rate
// errors are not fallback candidates; those go back through retry.
func (e *Engine) sendMessage(ctx context.Context, job queue.Job, log *logrus.Entry) (string, error) {
	if job.MediaURL == "" {
		return e.gw.SendText(ctx, job.UserID, job.Recipient, job.Body)
	}

	id, err := e.gw.SendMedia(ctx, job.UserID, job.Recipient, job.Body, job.MediaURL, job.MediaKind)
	if err == nil {
		return id, nil
	}

	kind := ClassifyError(err)
	if kind != ErrorKindNetwork && kind != ErrorKindUnknown {
		return "", err
	}

	log.WithError(err).Warn("media send failed, degrading to text")
	return e.gw.SendText(ctx, job.UserID, job.Recipient, job.Body+"\n\n[media unavailable]")
}

func (e *Engine) finishSent(ctx context.Context, campaign *models.Campaign, job queue.Job, gatewayMessageID string, log *logrus.Entry) error {
	now := time.Now()
	ok, err := e.markTerminal(ctx, job.MessageID, map[string]interface{}{
		"status":             models.MessageStatusSent,
		"gateway_message_id": gatewayMessageID,
		"sent_at":            now,
		"error_kind":         "",
		"error_message":      "",
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := e.adjustCounters(ctx, campaign.ID, "sent_count"); err != nil {
		return err
	}

	if e.effects != nil {
		var mediaURL *string
		if job.MediaURL != "" {
			mediaURL = &job.MediaURL
		}
		e.effects.OutboundSent(job.UserID, campaign.ID, job.Recipient, job.Body, mediaURL, gatewayMessageID)
	}

	log.Info("message sent")
	return e.afterCounterChange(ctx, campaign.ID, job.UserID)
}

func (e *Engine) finishInvalid(ctx context.Context, campaign *models.Campaign, job queue.Job, log *logrus.Entry) error {
	ok, err := e.markTerminal(ctx, job.MessageID, map[string]interface{}{
		"status":        models.MessageStatusInvalidNumber,
		"error_kind":    ErrorKindInvalidNumber,
		"error_message": "recipient is not registered on the gateway",
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := e.adjustCounters(ctx, campaign.ID, "invalid_count"); err != nil {
		return err
	}

	log.WithField("recipient", job.Recipient).Info("recipient not registered")
	return e.afterCounterChange(ctx, campaign.ID, job.UserID)
}

// retryOrFail reschedules the job with exponential backoff until the attempt
// budget is spent, then settles the message as failed.
func (e *Engine) retryOrFail(ctx context.Context, campaign *models.Campaign, job queue.Job, cause error, log *logrus.Entry) error {
	kind := ClassifyError(cause)

	if job.Attempt < job.MaxAttempts {
		if err := e.queue.Retry(ctx, job); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		if err := e.db.Model(&models.CampaignMessage{}).
			Where("id = ?", job.MessageID).
			Updates(map[string]interface{}{
				"retry_count":   job.Attempt + 1,
				"error_kind":    kind,
				"error_message": cause.Error(),
			}).Error; err != nil {
			log.WithError(err).Error("failed to record retry attempt")
		}
		log.WithError(cause).WithField("error_kind", kind).Warn("delivery failed, retrying")
		return nil
	}

	ok, err := e.markTerminal(ctx, job.MessageID, map[string]interface{}{
		"status":        models.MessageStatusFailed,
		"error_kind":    kind,
		"error_message": cause.Error(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := e.adjustCounters(ctx, campaign.ID, "failed_count"); err != nil {
		return err
	}

	sentry.CaptureException(fmt.Errorf("campaign %d message %d exhausted retries: %w",
		campaign.ID, job.MessageID, cause))
	log.WithError(cause).WithField("error_kind", kind).Error("delivery failed permanently")
	return e.afterCounterChange(ctx, campaign.ID, job.UserID)
}

// markTerminal flips a message to a terminal status only if it is still in
// flight. The returned bool reports whether this call won the transition, and
// therefore whether the paired counter update may run.
func (e *Engine) markTerminal(ctx context.Context, messageID uint, updates map[string]interface{}) (bool, error) {
	res := e.db.WithContext(ctx).Model(&models.CampaignMessage{}).
		Where("id = ? AND status IN ?", messageID,
			[]string{models.MessageStatusPending, models.MessageStatusQueued}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// adjustCounters moves one unit from pending to the given terminal counter
// with relative updates, so concurrent workers never clobber each other.
func (e *Engine) adjustCounters(ctx context.Context, campaignID uint, column string) error {
	return e.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			column:          gorm.Expr(column+" + ?", 1),
			"pending_count": gorm.Expr("pending_count - ?", 1),
		}).Error
}

// afterCounterChange publishes batched progress and, when the last message
// settles, completes the campaign. Completion is a conditional update on the
// processing status, so concurrent workers racing on the final message
// publish exactly one terminal event.
func (e *Engine) afterCounterChange(ctx context.Context, campaignID, userID uint) error {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).First(&campaign, campaignID).Error; err != nil {
		return err
	}

	if campaign.Processed()%progressBatch == 0 || campaign.PendingCount == 0 {
		e.publish(userID, models.EventCampaignProgress, map[string]interface{}{
			"campaign_id": campaign.ID,
			"sent":        campaign.SentCount,
			"failed":      campaign.FailedCount,
			"invalid":     campaign.InvalidCount,
			"pending":     campaign.PendingCount,
			"total":       campaign.TotalCount,
			"percentage":  campaign.Percentage(),
		})
	}

	if campaign.PendingCount != 0 || campaign.Status != models.CampaignStatusProcessing {
		return nil
	}

	finalStatus := models.CampaignStatusCompleted
	if campaign.SentCount == 0 {
		finalStatus = models.CampaignStatusFailed
	}

	now := time.Now()
	res := e.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusProcessing).
		Updates(map[string]interface{}{
			"status":       finalStatus,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	var durationSeconds float64
	if campaign.StartedAt != nil {
		durationSeconds = now.Sub(*campaign.StartedAt).Seconds()
	}

	e.publish(userID, models.EventCampaignCompleted, map[string]interface{}{
		"campaign_id":      campaign.ID,
		"status":           finalStatus,
		"sent":             campaign.SentCount,
		"failed":           campaign.FailedCount,
		"invalid":          campaign.InvalidCount,
		"total":            campaign.TotalCount,
		"duration_seconds": durationSeconds,
	})

	e.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"status":      finalStatus,
		"sent":        campaign.SentCount,
		"failed":      campaign.FailedCount,
		"invalid":     campaign.InvalidCount,
	}).Info("campaign finished")

	return nil
}
