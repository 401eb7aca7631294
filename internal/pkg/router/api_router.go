package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ProfileSync/app/controllers"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/middleware"
)

const defaultRateLimit = 120

type ApiRouter struct {
	svc Services
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.svc.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.svc.LimiterStorage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.svc.APIToken), middleware.ProfileOverlayMiddleware)

	pc := controllers.NewProfileController(h.svc.Subscriptions, h.svc.Profiles, h.svc.Orchestrator, h.svc.Queue, h.svc.Events)
	qc := controllers.NewQueueController(h.svc.Queue)

	v1.Get("/queue/metrics", qc.HandleQueueMetrics)
	v1.Get("/queue/stuck", qc.HandleStuckJobs)

	account := v1.Group("/accounts/:account")
	account.Get("/queue/metrics", qc.HandleCustomerQueueMetrics)
	account.Get("/profiles", pc.HandleListProfiles)

	profile := account.Group("/profiles/:profile")
	profile.Get("/", pc.HandleGetProfile)
	profile.Get("/events", pc.HandleListEvents)
	profile.Post("/refresh", pc.HandleRefreshProfile)
	profile.Post("/cancel", pc.HandleCancel)
	profile.Post("/suspend", pc.HandleSuspend)
	profile.Post("/reactivate", pc.HandleReactivate)
	profile.Post("/billing-cycles", pc.HandleUpdateBillingCycles)
	profile.Post("/payment-source", pc.HandleUpdatePaymentSource)
}

func NewApiRouter(svc Services) *ApiRouter {
	return &ApiRouter{svc: svc}
}
