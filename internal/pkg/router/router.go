package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tradewindhq/tradewind/app/controllers"
	"github.com/tradewindhq/tradewind/internal/pkg/middleware"
)

// Dependencies bundles the controllers the router wires up. Everything is
// constructed in main and handed in; no handler reaches for a global.
type Dependencies struct {
	Webhooks *controllers.WebhookController
	CRM      *controllers.CRMController
}

// InstallRouter registers all HTTP routes on the app.
func InstallRouter(app *fiber.App, deps Dependencies) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks authenticate via signature, not API key, and sit
	// outside the rate limiter so bursts of provider retries are never
	// throttled into redelivery loops.
	webhooks := app.Group("/webhooks")
	webhooks.Post("/stripe", deps.Webhooks.HandleStripeWebhook)
	webhooks.Post("/polar", deps.Webhooks.HandlePolarWebhook)

	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1", middleware.RequireAPIKey)

	crm := v1.Group("/crm")
	crm.Post("/companies/upsert", deps.CRM.HandleUpsertCompany)
	crm.Post("/people/upsert", deps.CRM.HandleUpsertPerson)

	v1.Get("/webhooks/stats", deps.Webhooks.HandleWebhookStats)
}
