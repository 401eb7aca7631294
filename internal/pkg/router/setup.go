package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profiles"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Services are the handlers' dependencies, built once in main.
type Services struct {
	Subscriptions repository.SubscriptionRepository
	Profiles      *profiles.Service
	Orchestrator  *lifecycle.Orchestrator
	Queue         *jobqueue.Queue
	Events        *refreshlog.Log

	APIToken string
	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	RateLimit      int
}

func InstallRouter(app *fiber.App, svc Services) {
	setup(app, NewMetricsRouter(), NewApiRouter(svc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
