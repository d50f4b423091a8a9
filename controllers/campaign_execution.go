package controller

import (
	"github.com/gofiber/fiber/v2"

	"wablast/models"
)

// StartCampaign transitions a pending campaign to processing and schedules
// its delivery jobs.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	campaign, err := cc.Engine.StartCampaign(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Campaign started successfully",
		"campaign": campaign,
	})
}

// CancelCampaign stops a pending or processing campaign. Messages already
// sent stay sent; everything still queued is cancelled.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	campaign, err := cc.Engine.CancelCampaign(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Campaign cancelled successfully",
		"campaign": campaign,
	})
}
