package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "wablast/controllers"
	"wablast/engine"
	"wablast/gateway"
	"wablast/middleware"
	"wablast/notifier"
)

// Deps carries everything the HTTP layer needs wired in.
type Deps struct {
	DB         *gorm.DB
	Engine     *engine.Engine
	Dispatcher *gateway.Dispatcher
	Notifier   *notifier.Notifier
	Hub        *notifier.Hub
	Logger     *logrus.Logger
}

func SetupRoutes(app *fiber.App, deps Deps) {
	campaignController := controller.NewCampaignController(deps.DB, deps.Engine, deps.Logger)
	webhookController := controller.NewWebhookController(deps.Dispatcher, deps.Logger)
	wsController := controller.NewWSController(deps.Hub, deps.Logger)
	notificationController := controller.NewNotificationController(deps.Notifier)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Public auth endpoints
	auth := app.Group("/auth", requestLog)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Get("/me", controller.Me)

	// Gateway callbacks authenticate with the shared API key, not a JWT
	app.Post("/gateway/inbound", requestLog, webhookController.Inbound)

	// Authenticated API
	api := app.Group("/api/v1", middleware.Protected(), requestLog)

	api.Get("/stats", campaignController.GetStats)

	campaign := api.Group("/campaigns")
	campaign.Post("/", middleware.CampaignRateLimiter(), campaignController.CreateCampaign)
	campaign.Get("/", campaignController.ListCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/cancel", campaignController.CancelCampaign)
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)
	campaign.Get("/:id/messages", campaignController.ListMessages)
	campaign.Get("/:id/replies", campaignController.ListReplies)

	api.Put("/replies/:replyId/read", campaignController.MarkReplyRead)

	notifications := api.Group("/notifications")
	notifications.Get("/", notificationController.List)
	notifications.Post("/read-all", notificationController.MarkAllRead)

	// Realtime event stream
	app.Use("/ws", middleware.Protected(), wsController.Upgrade)
	app.Get("/ws", wsController.Events())
}
