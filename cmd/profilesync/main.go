package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/cache"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/classifier"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/database"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/env"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profiles"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/router"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app, manager := NewApplication()

	if env.GetEnv("REFRESH_WORKERS_ENABLED", "true") != "false" {
		if err := manager.Start(); err != nil {
			log.Fatalf("Failed to start refresh workers: %v", err)
		}
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Printf("HTTP shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	manager.Stop()
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires storage, cache, services and routes. The returned
// manager is not started yet.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()

	if env.GetEnv("STORAGE", "mysql") == "memory" {
		log.Println("STORAGE=memory: using process-local repositories")
		repository.InitializeFactory(nil)
	} else {
		database.SetupDatabase()
		repository.InitializeFactory(database.DB)
	}
	repos := repository.GetGlobalRepositories()

	var redisClient *redis.Client
	var limiterStorage fiber.Storage
	cache.SetupCache()
	if cache.Available(2 * time.Second) {
		redisClient = cache.GetClient()
		limiterStorage = cache.LimiterStorage()
	} else {
		log.Println("Cache unavailable: workers poll, rate limits are per process")
	}

	client := gateway.WithTimeout(gateway.UnavailableClient{},
		time.Duration(env.GetEnvInt("GATEWAY_TIMEOUT_SECONDS", int(gateway.DefaultTimeout/time.Second)))*time.Second)

	cfg := jobqueue.ConfigFromEnv()
	queue := jobqueue.NewQueue(repos.RefreshJob, redisClient, cfg)
	store := profilecache.NewStore(repos.ProfileCache)
	c := classifier.New(store, client, queue)
	events := refreshlog.New(repos.RefreshEvent)
	orchestrator := lifecycle.New(repos.Subscription, c, client, events, queue)

	manager := jobqueue.NewManager(queue, jobqueue.Deps{
		Subscriptions: repos.Subscription,
		Classifier:    c,
		Orchestrator:  orchestrator,
		Events:        events,
	}, cfg)

	app := fiber.New(fiber.Config{
		AppName:   "ProfileSync",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Services{
		Subscriptions:  repos.Subscription,
		Profiles:       profiles.New(c, queue),
		Orchestrator:   orchestrator,
		Queue:          queue,
		Events:         events,
		APIToken:       env.GetEnv("API_TOKEN", ""),
		LimiterStorage: limiterStorage,
		RateLimit:      env.GetEnvInt("API_RATE_LIMIT", 0),
	})

	return app, manager
}
