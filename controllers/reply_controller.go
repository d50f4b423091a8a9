package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"wablast/models"
)

// ListReplies returns the replies attributed to a campaign, newest first.
func (cc *CampaignController) ListReplies(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	replies, err := cc.Engine.ListReplies(c.Context(), user, campaignID, c.QueryBool("unread"))
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"replies": replies,
	})
}

// MarkReplyRead flags one reply as read.
func (cc *CampaignController) MarkReplyRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	replyID, err := strconv.ParseUint(c.Params("replyId"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid reply id",
		})
	}

	if err := cc.Engine.MarkReplyRead(c.Context(), user, uint(replyID)); err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Reply marked as read",
	})
}
