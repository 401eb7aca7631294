package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Operations a refresh job can carry.
const (
	JobOperationRefresh = "refresh"
	JobOperationCancel  = "cancel"
)

// RefreshJob is a pending unit of background work for one (account, profile).
// The unique key keeps at most one pending job per profile; the lease fields
// (LockedAt/LockedBy) decide which worker currently owns it.
type RefreshJob struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	AccountID   uint           `gorm:"not null;uniqueIndex:ux_refresh_jobs_account_profile,priority:1;index:idx_refresh_jobs_account" json:"account_id"`
	ProfileID   string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_refresh_jobs_account_profile,priority:2" json:"profile_id"`
	AvailableAt time.Time      `gorm:"not null;index:idx_refresh_jobs_due,priority:1" json:"available_at"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   string         `gorm:"type:text" json:"last_error"`
	Context     datatypes.JSON `gorm:"type:json" json:"context"`
	LockedAt    *time.Time     `gorm:"default:null;index:idx_refresh_jobs_due,priority:2" json:"locked_at,omitempty"`
	LockedBy    string         `gorm:"type:varchar(64);not null;default:''" json:"locked_by"`
	LastRunAt   *time.Time     `gorm:"default:null" json:"last_run_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobContext is the free-form context stored with a job.
type JobContext struct {
	Operation   string `json:"operation"`
	GatewayHint string `json:"gateway_hint,omitempty"`
	Source      string `json:"source,omitempty"`
	ActorType   string `json:"actor_type,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	Note        string `json:"note,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DecodeContext returns the job context, defaulting the operation to refresh.
func (j *RefreshJob) DecodeContext() JobContext {
	var c JobContext
	if len(j.Context) > 0 {
		_ = json.Unmarshal(j.Context, &c)
	}
	if c.Operation == "" {
		c.Operation = JobOperationRefresh
	}
	return c
}

// EncodeContext stores c on the job.
func (j *RefreshJob) EncodeContext(c JobContext) error {
	if c.Operation == "" {
		c.Operation = JobOperationRefresh
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	j.Context = datatypes.JSON(b)
	return nil
}

// KeepsContextOver reports whether a pending job must keep its own context
// when incoming is enqueued for the same profile. A queued cancellation is
// never downgraded to a refresh; a refresh is redundant once the cancel runs.
func (j *RefreshJob) KeepsContextOver(incoming JobContext) bool {
	if len(j.Context) == 0 {
		return false
	}
	return j.DecodeContext().Operation == JobOperationCancel && incoming.Operation != JobOperationCancel
}

// IsLeased reports whether a worker holds a lease that has not expired yet.
func (j *RefreshJob) IsLeased(now time.Time, lease time.Duration) bool {
	return j.LockedAt != nil && !j.LockedAt.Before(now.Add(-lease))
}
