package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/jobqueue"
)

const defaultStuckLimit = 50

// QueueController exposes the refresh queue for operators.
type QueueController struct {
	queue *jobqueue.Queue
}

func NewQueueController(queue *jobqueue.Queue) *QueueController {
	return &QueueController{queue: queue}
}

// HandleQueueMetrics returns depth and counters across all accounts.
func (qc *QueueController) HandleQueueMetrics(c *fiber.Ctx) error {
	m, err := qc.queue.Metrics(c.UserContext())
	if err != nil {
		log.Errorf("[QueueController] Metrics failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load queue metrics")
	}
	return c.JSON(m)
}

// HandleCustomerQueueMetrics returns queue depth for one account.
func (qc *QueueController) HandleCustomerQueueMetrics(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid account")
	}
	m, err := qc.queue.CustomerMetrics(c.UserContext(), accountID)
	if err != nil {
		log.Errorf("[QueueController] Metrics for account %d failed: %v", accountID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load queue metrics")
	}
	return c.JSON(m)
}

// HandleStuckJobs lists jobs that reached the attempt limit.
func (qc *QueueController) HandleStuckJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultStuckLimit)
	if limit <= 0 || limit > 500 {
		limit = defaultStuckLimit
	}
	jobs, err := qc.queue.Stuck(c.UserContext(), limit)
	if err != nil {
		log.Errorf("[QueueController] Stuck job listing failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load stuck jobs")
	}
	if jobs == nil {
		jobs = []models.RefreshJob{}
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}
