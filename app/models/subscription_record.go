package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusScheduled = "scheduled"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusFailed    = "failed"
)

// Protocol sources a gateway profile can be reported by.
const (
	ProfileSourceLegacy  = "legacy"
	ProfileSourceModern  = "modern"
	ProfileSourceUnknown = "unknown"
)

// SubscriptionRecord is the locally tracked recurring billing agreement. The
// surrounding application owns creation and deletion; this service only moves
// the lifecycle status.
type SubscriptionRecord struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	AccountID        uint            `gorm:"not null;index" json:"account_id"`
	ProfileID        string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_subscription_records_profile" json:"profile_id"`
	ProductRef       string          `gorm:"type:varchar(191);not null;default:''" json:"product_ref"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	BillingPeriod    string          `gorm:"type:varchar(16);not null;default:''" json:"billing_period"`
	BillingFrequency int             `gorm:"not null;default:1" json:"billing_frequency"`
	TotalCycles      int             `gorm:"not null;default:0" json:"total_cycles"`
	Status           string          `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	ProfileSource    string          `gorm:"type:varchar(16);not null;default:'unknown'" json:"profile_source"`
	GatewayHint      string          `gorm:"type:varchar(64);not null;default:''" json:"gateway_hint"`
	PlanID           string          `gorm:"type:varchar(128);not null;default:''" json:"plan_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCancelled reports whether the record reached the terminal status.
func (r *SubscriptionRecord) IsCancelled() bool {
	return NormalizeSubscriptionStatus(r.Status) == SubscriptionStatusCancelled
}

// NormalizeSubscriptionStatus folds spelling variants onto the known statuses.
func NormalizeSubscriptionStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "canceled" {
		return SubscriptionStatusCancelled
	}
	return s
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Cancelled is terminal; failed is set externally but an operator
// may still cancel or reactivate it.
func CanTransition(from, to string) bool {
	from = NormalizeSubscriptionStatus(from)
	to = NormalizeSubscriptionStatus(to)
	if from == SubscriptionStatusCancelled {
		return false
	}
	switch to {
	case SubscriptionStatusActive:
		return from == SubscriptionStatusScheduled || from == SubscriptionStatusSuspended ||
			from == SubscriptionStatusFailed || from == SubscriptionStatusActive
	case SubscriptionStatusSuspended:
		return from == SubscriptionStatusActive || from == SubscriptionStatusSuspended
	case SubscriptionStatusCancelled:
		return true
	case SubscriptionStatusFailed:
		return true
	default:
		return false
	}
}

// NormalizeProfileSource maps free-form source tags onto legacy/modern/unknown.
func NormalizeProfileSource(source string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case ProfileSourceLegacy:
		return ProfileSourceLegacy
	case ProfileSourceModern:
		return ProfileSourceModern
	default:
		return ProfileSourceUnknown
	}
}
