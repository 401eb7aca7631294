package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProfileCacheEntry is the last classification we got for a gateway profile.
// One row per (account, profile); writes always overwrite the whole row.
type ProfileCacheEntry struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	AccountID        uint           `gorm:"not null;uniqueIndex:ux_profile_cache_account_profile,priority:1" json:"account_id"`
	ProfileID        string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_profile_cache_account_profile,priority:2" json:"profile_id"`
	Status           string         `gorm:"type:varchar(64);not null;default:''" json:"status"`
	ProfileSource    string         `gorm:"type:varchar(16);not null;default:'unknown'" json:"profile_source"`
	PreferredGateway string         `gorm:"type:varchar(64);not null;default:''" json:"preferred_gateway"`
	RawProfile       datatypes.JSON `gorm:"type:json" json:"raw_profile"`
	RefreshedAt      time.Time      `gorm:"not null;index" json:"refreshed_at"`
}

func (ProfileCacheEntry) TableName() string {
	return "profile_cache"
}
