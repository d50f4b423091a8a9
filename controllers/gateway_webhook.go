package controller

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"wablast/config"
	"wablast/gateway"
)

// WebhookController receives inbound message events pushed by the messaging
// gateway and fans them out to subscribed handlers.
type WebhookController struct {
	Dispatcher *gateway.Dispatcher
	Logger     *logrus.Logger
}

func NewWebhookController(d *gateway.Dispatcher, logger *logrus.Logger) *WebhookController {
	return &WebhookController{
		Dispatcher: d,
		Logger:     logger,
	}
}

// Inbound handles POST /gateway/inbound. The gateway authenticates with the
// shared API key; events are acknowledged as soon as they are dispatched.
func (wc *WebhookController) Inbound(c *fiber.Ctx) error {
	apiKey := c.Get("X-Api-Key")
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(config.AppConfig.Gateway.APIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid API key",
		})
	}

	var msg gateway.InboundMessage
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event payload",
		})
	}
	if msg.UserID == 0 || msg.Sender == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id and sender are required",
		})
	}

	wc.Dispatcher.Dispatch(c.Context(), msg)

	wc.Logger.WithFields(logrus.Fields{
		"user_id": msg.UserID,
		"sender":  msg.Sender,
	}).Debug("inbound event dispatched")

	return c.JSON(fiber.Map{
		"message": "Event accepted",
	})
}
