package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/app/repository"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/classifier"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/lifecycle"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/refreshlog"
)

// Deps are the services a worker replays jobs through.
type Deps struct {
	Subscriptions repository.SubscriptionRepository
	Classifier    *classifier.Classifier
	Orchestrator  *lifecycle.Orchestrator
	Events        *refreshlog.Log
}

// Manager runs the refresh workers and the maintenance schedule.
type Manager struct {
	queue *Queue
	deps  Deps
	cfg   Config

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	workers []string
}

// NewManager wires a manager around queue.
func NewManager(queue *Queue, deps Deps, cfg Config) *Manager {
	return &Manager{
		queue: queue,
		deps:  deps,
		cfg:   cfg.withDefaults(),
	}
}

// GetQueue returns the managed queue.
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start launches the workers and the maintenance cron.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSpec, m.sweepCache); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.cfg.SweepSpec, err)
	}
	if _, err := c.AddFunc(m.cfg.ReportSpec, m.reportQueue); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", m.cfg.ReportSpec, err)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.cron = c
	m.running = true
	m.workers = m.workers[:0]
	log.Infof("[RefreshQueue Manager] Starting %d workers (claim=%d lease=%s poll=%s)",
		m.cfg.Workers, m.cfg.ClaimLimit, m.cfg.Lease, m.cfg.PollInterval)

	for i := 0; i < m.cfg.Workers; i++ {
		id := "worker-" + uuid.NewString()[:8]
		m.workers = append(m.workers, id)
		m.wg.Add(1)
		go m.worker(id)
	}
	m.cron.Start()

	log.Info("[RefreshQueue Manager] Started successfully")
	return nil
}

// Stop signals the workers, waits for in-flight jobs and stops the cron.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[RefreshQueue Manager] Stopping workers and maintenance...")
	m.cancel()
	m.running = false
	m.wg.Wait()
	<-m.cron.Stop().Done()
	log.Info("[RefreshQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Workers returns the identifiers of the running workers.
func (m *Manager) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.workers...)
}

func (m *Manager) worker(id string) {
	defer m.wg.Done()
	log.Infof("[RefreshQueue] Worker %s started", id)

	for {
		select {
		case <-m.ctx.Done():
			log.Infof("[RefreshQueue] Worker %s stopping", id)
			return
		default:
		}

		// Jobs run on a background context so Stop lets them finish instead
		// of failing them halfway.
		n, err := m.RunOnce(context.Background(), id)
		if err != nil {
			log.Errorf("[RefreshQueue] Worker %s: %v", id, err)
		}
		if n == 0 || err != nil {
			m.queue.Wait(m.ctx, m.cfg.PollInterval)
		}
	}
}

// RunOnce claims one batch for worker and processes it. It returns the
// number of jobs claimed.
func (m *Manager) RunOnce(ctx context.Context, worker string) (int, error) {
	jobs, err := m.queue.Claim(ctx, worker, m.cfg.ClaimLimit, m.cfg.Lease)
	if err != nil {
		return len(jobs), err
	}
	for i := range jobs {
		job := &jobs[i]
		if perr := m.process(ctx, job); perr != nil {
			m.settle(job, m.queue.Fail(ctx, job, perr.Error(), m.cfg.Retry))
			continue
		}
		m.settle(job, m.queue.Complete(ctx, job))
	}
	return len(jobs), nil
}

func (m *Manager) settle(job *models.RefreshJob, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrLeaseLost):
		log.Infof("[RefreshQueue] Job %d for profile %s changed while running, leaving it queued", job.ID, job.ProfileID)
	default:
		log.Errorf("[RefreshQueue] Could not settle job %d: %v", job.ID, err)
	}
}

func (m *Manager) process(ctx context.Context, job *models.RefreshJob) error {
	jc := job.DecodeContext()
	log.Infof("[RefreshQueue] Processing %s job %d for account %d profile %s (attempt %d)",
		jc.Operation, job.ID, job.AccountID, job.ProfileID, job.Attempts)

	rec, err := m.deps.Subscriptions.GetByProfile(ctx, job.AccountID, job.ProfileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// deleted by an admin in the meantime; nothing left to do
			log.Warnf("[RefreshQueue] Subscription %d/%s is gone, dropping job %d", job.AccountID, job.ProfileID, job.ID)
			return nil
		}
		return err
	}
	if jc.GatewayHint != "" && rec.GatewayHint == "" {
		rec.GatewayHint = jc.GatewayHint
	}

	switch jc.Operation {
	case models.JobOperationRefresh:
		return m.refresh(ctx, job, rec, jc)
	case models.JobOperationCancel:
		return m.cancelProfile(ctx, rec, jc)
	default:
		log.Warnf("[RefreshQueue] Dropping job %d with unknown operation %q", job.ID, jc.Operation)
		return nil
	}
}

func (m *Manager) refresh(ctx context.Context, job *models.RefreshJob, rec *models.SubscriptionRecord, jc models.JobContext) error {
	res, err := m.deps.Classifier.Classify(ctx, rec, classifier.Options{ForceRefresh: true, NoEnqueue: true})
	if err != nil {
		return err
	}
	source := jc.Source
	if source == "" {
		source = models.RefreshSourceBackground
	}
	if m.deps.Events != nil {
		if _, eerr := m.deps.Events.Record(ctx, refreshlog.Entry{
			AccountID: rec.AccountID,
			ProfileID: rec.ProfileID,
			Source:    source,
			ActorType: jc.ActorType,
			ActorID:   jc.ActorID,
			Context: map[string]interface{}{
				"operation": models.JobOperationRefresh,
				"success":   res.Live(),
				"status":    res.Status,
				"attempt":   job.Attempts,
				"message":   res.Message,
				"reason":    jc.Reason,
			},
		}); eerr != nil {
			log.Errorf("[RefreshQueue] %v", eerr)
		}
	}
	if !res.Live() {
		if res.Message == "" {
			return errors.New("gateway returned no status")
		}
		return errors.New(res.Message)
	}
	return nil
}

func (m *Manager) cancelProfile(ctx context.Context, rec *models.SubscriptionRecord, jc models.JobContext) error {
	res, err := m.deps.Orchestrator.CancelNow(ctx, rec.AccountID, rec.ProfileID, lifecycle.Options{
		Note:        jc.Note,
		Source:      models.RefreshSourceBackground,
		ActorType:   jc.ActorType,
		ActorID:     jc.ActorID,
		GatewayHint: jc.GatewayHint,
		Record:      rec,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	return nil
}

// RunMaintenance runs the cache sweep and the queue report once.
func (m *Manager) RunMaintenance() {
	m.sweepCache()
	m.reportQueue()
}

func (m *Manager) sweepCache() {
	if m.deps.Classifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := m.deps.Classifier.Store().Sweep(ctx, m.cfg.CleanupHorizon); err != nil {
		log.Errorf("[RefreshQueue Manager] Cache sweep failed: %v", err)
	}
}

func (m *Manager) reportQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := m.queue.Metrics(ctx)
	if err != nil {
		log.Errorf("[RefreshQueue Manager] Queue report failed: %v", err)
		return
	}
	metrics.SetQueueDepth(stats.Pending, stats.Due, stats.Locked, stats.Stuck)
	if stats.Stuck == 0 {
		return
	}

	stuck, err := m.queue.Stuck(ctx, stuckReportLimit)
	if err != nil {
		log.Errorf("[RefreshQueue Manager] Stuck job listing failed: %v", err)
		return
	}
	log.Warnf("[RefreshQueue Manager] %d jobs reached the attempt limit", stats.Stuck)
	for _, j := range stuck {
		log.Warnf("[RefreshQueue Manager] Stuck job %d account %d profile %s attempts=%d last_error=%q",
			j.ID, j.AccountID, j.ProfileID, j.Attempts, j.LastError)
	}
}
