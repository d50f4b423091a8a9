package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wablast/engine"
	"wablast/gateway"
	"wablast/models"
)

// CampaignController exposes the campaign engine over HTTP.
type CampaignController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *logrus.Logger
}

func NewCampaignController(db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) *CampaignController {
	return &CampaignController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// CreateCampaign validates and persists a new campaign with its recipients.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input engine.CreateCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	campaign, err := cc.Engine.CreateCampaign(c.Context(), user, input)
	if err != nil {
		return engineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// ListCampaigns returns the user's campaigns, paged and optionally filtered
// by status.
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "20"))
	status := c.Query("status")

	campaigns, total, err := cc.Engine.ListCampaigns(c.Context(), user, status, page, perPage)
	if err != nil {
		return engineError(c, err)
	}

	return c.JSON(fiber.Map{
		"campaigns": campaigns,
		"total":     total,
		"page":      page,
		"per_page":  perPage,
	})
}

// GetCampaign returns one campaign with its live counters.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	campaign, err := cc.Engine.GetCampaign(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(campaign)
}

// ListMessages returns the per-recipient delivery records of a campaign.
func (cc *CampaignController) ListMessages(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	messages, err := cc.Engine.ListMessages(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{
		"messages": messages,
	})
}

// DeleteCampaign removes a campaign that is not currently processing.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaignID, ok := parseID(c)
	if !ok {
		return nil
	}

	campaign, err := cc.Engine.GetCampaign(c.Context(), user, campaignID)
	if err != nil {
		return engineError(c, err)
	}
	if campaign.Status == models.CampaignStatusProcessing {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Cannot delete a campaign while it is processing. Cancel it first.",
		})
	}

	if err := cc.DB.Select("Messages", "Replies").Delete(campaign).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign deleted successfully",
	})
}

// parseID reads the :id path parameter. On failure the 400 response is
// already written and ok is false.
func parseID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign id",
		})
		return 0, false
	}
	return uint(id), true
}

// engineError maps engine errors to HTTP responses.
func engineError(c *fiber.Ctx, err error) error {
	var quotaErr *engine.QuotaExceededError
	var stateErr *engine.StateConflictError
	var concurrentErr *engine.ConcurrentCampaignError

	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrReplyNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, gateway.ErrSessionNotReady):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Messaging session is not connected",
		})
	case errors.Is(err, engine.ErrNoSubscription):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.As(err, &quotaErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     quotaErr.Error(),
			"required":  quotaErr.Required,
			"available": quotaErr.Available,
		})
	case errors.As(err, &stateErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  stateErr.Error(),
			"status": stateErr.Status,
		})
	case errors.As(err, &concurrentErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":              concurrentErr.Error(),
			"active_campaign_id": concurrentErr.ActiveID,
		})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
