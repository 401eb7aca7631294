package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sources a refresh or lifecycle action can originate from.
const (
	RefreshSourceAdminManual = "admin_manual"
	RefreshSourceBackground  = "background"
	RefreshSourceAPI         = "api"
)

const (
	ActorTypeSystem   = "system"
	ActorTypeAdmin    = "admin"
	ActorTypeCustomer = "customer"
)

// RefreshEvent is an append-only audit row. Rows are never updated or deleted.
type RefreshEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	AccountID uint           `gorm:"not null;index:idx_refresh_events_profile,priority:1" json:"account_id"`
	ProfileID string         `gorm:"type:varchar(128);not null;index:idx_refresh_events_profile,priority:2" json:"profile_id"`
	Source    string         `gorm:"type:varchar(32);not null;index" json:"source"`
	ActorType string         `gorm:"type:varchar(32);not null;default:'system'" json:"actor_type"`
	ActorID   string         `gorm:"type:varchar(64);not null;default:''" json:"actor_id"`
	Context   datatypes.JSON `gorm:"type:json" json:"context"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// NormalizeRefreshSource maps unknown sources to api.
func NormalizeRefreshSource(source string) string {
	switch source {
	case RefreshSourceAdminManual, RefreshSourceBackground, RefreshSourceAPI:
		return source
	default:
		return RefreshSourceAPI
	}
}
