package jobqueue

import (
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/env"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

const (
	// WakeupKey is a Redis list workers block on so a fresh enqueue is picked
	// up before the next poll.
	WakeupKey = "refresh_queue:wakeup"
	// wakeupBacklog caps the wake-up list.
	wakeupBacklog = 100

	DefaultWorkers      = 2
	DefaultClaimLimit   = 10
	DefaultLease        = 5 * time.Minute
	DefaultRetry        = 5 * time.Minute
	MinRetry            = time.Minute
	MaxBackoff          = 6 * time.Hour
	DefaultPollInterval = 15 * time.Second
	DefaultMaxAttempts  = 10
	DefaultSweepSpec    = "@every 1h"
	DefaultReportSpec   = "@every 1m"
	stuckReportLimit    = 20
)

// EnqueueOptions control a single enqueue. A zero AvailableAt means now.
type EnqueueOptions struct {
	AvailableAt time.Time
	Context     models.JobContext
}

// Config holds the queue and worker settings.
type Config struct {
	Workers        int
	ClaimLimit     int
	Lease          time.Duration
	Retry          time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	SweepSpec      string
	ReportSpec     string
	CleanupHorizon time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        DefaultWorkers,
		ClaimLimit:     DefaultClaimLimit,
		Lease:          DefaultLease,
		Retry:          DefaultRetry,
		PollInterval:   DefaultPollInterval,
		MaxAttempts:    DefaultMaxAttempts,
		SweepSpec:      DefaultSweepSpec,
		ReportSpec:     DefaultReportSpec,
		CleanupHorizon: profilecache.DefaultCleanupHorizon,
	}
}

// ConfigFromEnv reads the REFRESH_* and PROFILE_CACHE_* settings.
func ConfigFromEnv() Config {
	seconds := func(key string, def time.Duration) time.Duration {
		if v := env.GetEnvInt(key, 0); v > 0 {
			return time.Duration(v) * time.Second
		}
		return def
	}
	cfg := Config{
		Workers:        env.GetEnvInt("REFRESH_WORKERS", DefaultWorkers),
		ClaimLimit:     env.GetEnvInt("REFRESH_CLAIM_LIMIT", DefaultClaimLimit),
		Lease:          seconds("REFRESH_LEASE_SECONDS", DefaultLease),
		Retry:          seconds("REFRESH_RETRY_SECONDS", DefaultRetry),
		PollInterval:   seconds("REFRESH_POLL_SECONDS", DefaultPollInterval),
		MaxAttempts:    env.GetEnvInt("REFRESH_MAX_ATTEMPTS", DefaultMaxAttempts),
		SweepSpec:      env.GetEnv("PROFILE_CACHE_SWEEP_SPEC", DefaultSweepSpec),
		ReportSpec:     DefaultReportSpec,
		CleanupHorizon: profilecache.ConfiguredCleanupHorizon(),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = d.ClaimLimit
	}
	if c.Lease <= 0 {
		c.Lease = d.Lease
	}
	if c.Retry < MinRetry {
		c.Retry = MinRetry
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.SweepSpec == "" {
		c.SweepSpec = d.SweepSpec
	}
	if c.ReportSpec == "" {
		c.ReportSpec = d.ReportSpec
	}
	if c.CleanupHorizon <= 0 {
		c.CleanupHorizon = d.CleanupHorizon
	}
	return c
}

// Metrics is the operational view of the queue.
type Metrics struct {
	Total           int64            `json:"total"`
	Pending         int64            `json:"pending"`
	Due             int64            `json:"due"`
	Locked          int64            `json:"locked"`
	Stuck           int64            `json:"stuck"`
	OldestPendingAt *time.Time       `json:"oldest_pending_at,omitempty"`
	Counters        map[string]int64 `json:"counters,omitempty"`
}

// Backoff returns the delay before the next attempt: the retry interval
// (never below MinRetry) times the attempts made, capped at MaxBackoff unless
// the retry interval alone is longer.
func Backoff(retry time.Duration, attempts int) time.Duration {
	if retry < MinRetry {
		retry = MinRetry
	}
	if attempts < 1 {
		attempts = 1
	}
	ceiling := MaxBackoff
	if retry > ceiling {
		ceiling = retry
	}
	d := retry * time.Duration(attempts)
	if d > ceiling || d < retry {
		return ceiling
	}
	return d
}
