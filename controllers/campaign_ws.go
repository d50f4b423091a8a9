package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"wablast/models"
	"wablast/notifier"
)

// WSController upgrades authenticated clients to a websocket fed by the
// notification hub.
type WSController struct {
	Hub    *notifier.Hub
	Logger *logrus.Logger
}

func NewWSController(hub *notifier.Hub, logger *logrus.Logger) *WSController {
	return &WSController{
		Hub:    hub,
		Logger: logger,
	}
}

// Upgrade gates the websocket endpoint: only upgrade requests pass through.
func (wsc *WSController) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error": "Websocket upgrade required",
		})
	}
	return c.Next()
}

// Events is the websocket handler. The connection only pushes events; client
// frames are read and discarded to keep the connection alive and to notice
// closes.
func (wsc *WSController) Events() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		user, ok := conn.Locals("user").(*models.User)
		if !ok {
			conn.Close()
			return
		}

		wsc.Hub.Register(user.ID, conn)
		defer func() {
			wsc.Hub.Unregister(user.ID, conn)
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
