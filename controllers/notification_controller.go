package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"wablast/models"
	"wablast/notifier"
)

// NotificationController serves the durable notification feed that offline
// clients catch up on.
type NotificationController struct {
	Notifier *notifier.Notifier
}

func NewNotificationController(n *notifier.Notifier) *NotificationController {
	return &NotificationController{Notifier: n}
}

func (nc *NotificationController) List(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	notifications, err := nc.Notifier.List(user.ID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load notifications",
		})
	}

	return c.JSON(fiber.Map{
		"notifications": notifications,
	})
}

func (nc *NotificationController) MarkAllRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if err := nc.Notifier.MarkAllRead(user.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to mark notifications read",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Notifications marked read",
	})
}
