package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{SubscriptionStatusScheduled, SubscriptionStatusActive, true},
		{SubscriptionStatusActive, SubscriptionStatusSuspended, true},
		{SubscriptionStatusSuspended, SubscriptionStatusActive, true},
		{SubscriptionStatusFailed, SubscriptionStatusActive, true},
		{SubscriptionStatusScheduled, SubscriptionStatusSuspended, false},
		{SubscriptionStatusFailed, SubscriptionStatusSuspended, false},
		{SubscriptionStatusActive, SubscriptionStatusCancelled, true},
		{SubscriptionStatusScheduled, SubscriptionStatusCancelled, true},
		{SubscriptionStatusCancelled, SubscriptionStatusActive, false},
		{"Canceled", SubscriptionStatusSuspended, false},
		{SubscriptionStatusCancelled, SubscriptionStatusCancelled, false},
		{SubscriptionStatusActive, "paused", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSubscriptionRecordIsCancelled(t *testing.T) {
	assert.True(t, (&SubscriptionRecord{Status: "cancelled"}).IsCancelled())
	assert.True(t, (&SubscriptionRecord{Status: " Canceled "}).IsCancelled())
	assert.False(t, (&SubscriptionRecord{Status: "active"}).IsCancelled())
}

func TestNormalizeProfileSource(t *testing.T) {
	assert.Equal(t, ProfileSourceLegacy, NormalizeProfileSource("Legacy"))
	assert.Equal(t, ProfileSourceModern, NormalizeProfileSource(" modern "))
	assert.Equal(t, ProfileSourceUnknown, NormalizeProfileSource("braintree"))
	assert.Equal(t, ProfileSourceUnknown, NormalizeProfileSource(""))
}

func TestNormalizeRefreshSource(t *testing.T) {
	assert.Equal(t, RefreshSourceAdminManual, NormalizeRefreshSource("admin_manual"))
	assert.Equal(t, RefreshSourceBackground, NormalizeRefreshSource("background"))
	assert.Equal(t, RefreshSourceAPI, NormalizeRefreshSource("cron"))
}
