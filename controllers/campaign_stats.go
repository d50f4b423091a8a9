package controller

import (
	"github.com/gofiber/fiber/v2"

	"wablast/models"
)

// GetCampaignStats returns the live counters and progress of one campaign.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	campaign, err := cc.Engine.GetCampaign(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
		"total":       campaign.TotalCount,
		"sent":        campaign.SentCount,
		"failed":      campaign.FailedCount,
		"invalid":     campaign.InvalidCount,
		"pending":     campaign.PendingCount,
		"replies":     campaign.ReplyCount,
		"percentage":  campaign.Percentage(),
	})
}

// GetStats returns aggregate delivery and reply totals across the user's
// campaigns, plus remaining quota.
func (cc *CampaignController) GetStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	stats, err := cc.Engine.GetStats(c.Context(), user.ID)
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"stats": stats,
		"quota": fiber.Map{
			"message_credits":  user.MessageCredits,
			"daily_send_limit": user.DailySendLimit,
			"sent_today":       user.SentToday,
			"remaining_today":  user.RemainingToday(),
		},
	})
}
