package profilecache

import (
	"time"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/env"
)

// Read-staleness TTLs per environment.
const (
	DevTTL     = 5 * time.Minute
	StagingTTL = 15 * time.Minute
	ProdTTL    = time.Hour

	// DefaultCleanupHorizon is how long an entry may sit unrefreshed before
	// the sweep deletes it. Always longer than any read TTL.
	DefaultCleanupHorizon = 72 * time.Hour
)

// TTLFor maps an environment name to its read TTL. Unknown names get the
// production value.
func TTLFor(appEnv string) time.Duration {
	switch appEnv {
	case env.AppEnvDev:
		return DevTTL
	case env.AppEnvStaging:
		return StagingTTL
	default:
		return ProdTTL
	}
}

// ConfiguredTTL returns PROFILE_CACHE_TTL_SECONDS when set, else TTLFor(APP_ENV).
func ConfiguredTTL() time.Duration {
	if secs := env.GetEnvInt("PROFILE_CACHE_TTL_SECONDS", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return TTLFor(env.AppEnv())
}

// ConfiguredCleanupHorizon returns PROFILE_CACHE_CLEANUP_HOURS, never shorter
// than twice the read TTL.
func ConfiguredCleanupHorizon() time.Duration {
	horizon := DefaultCleanupHorizon
	if hours := env.GetEnvInt("PROFILE_CACHE_CLEANUP_HOURS", 0); hours > 0 {
		horizon = time.Duration(hours) * time.Hour
	}
	if floor := 2 * ConfiguredTTL(); horizon < floor {
		horizon = floor
	}
	return horizon
}

// IsExpired reports whether entry is older than ttl at now. An absent entry
// is always expired.
func IsExpired(entry *models.ProfileCacheEntry, ttl time.Duration, now time.Time) bool {
	if entry == nil {
		return true
	}
	return now.After(entry.RefreshedAt.Add(ttl))
}
