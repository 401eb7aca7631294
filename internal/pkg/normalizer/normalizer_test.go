package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
)

func modernFixture(t *testing.T, data string) gateway.RawProfile {
	t.Helper()
	p, err := gateway.DecodeProfile(models.ProfileSourceModern, []byte(data))
	require.NoError(t, err)
	return p
}

func TestLegacyAndModernNormalizeToSameValues(t *testing.T) {
	legacy := gateway.LegacyProfile{
		"STATUS":           "Active",
		"AMT":              "10",
		"CURRENCYCODE":     "usd",
		"NEXTBILLINGDATE":  "2024-03-01T10:00:00Z",
		"PROFILESTARTDATE": "2024-01-01T08:00:00Z",
		"CREDITCARDTYPE":   "Visa",
		"ACCT":             "4111111111111234",
	}
	modern := modernFixture(t, `{
		"status": "ACTIVE",
		"start_time": "2024-01-01T08:00:00Z",
		"plan_id": "P-PLAN",
		"billing_info": {
			"next_billing_time": "2024-03-01T10:00:00Z",
			"last_payment": {"amount": {"value": "10.00", "currency_code": "USD"}}
		},
		"subscriber": {"payment_source": {"card": {"brand": "VISA", "last_digits": "1234"}}}
	}`)

	a := Normalize(legacy, "")
	b := Normalize(modern, "")

	assert.Equal(t, "10.00", a.Amount)
	assert.Equal(t, a.Amount, b.Amount)
	assert.Equal(t, "2024-03-01", a.NextDate)
	assert.Equal(t, a.NextDate, b.NextDate)
	assert.Equal(t, a.StartDate, b.StartDate)
	assert.Equal(t, "USD", a.Currency)
	assert.Equal(t, a.Currency, b.Currency)
	assert.Equal(t, "Visa ending in 1234", a.PaymentMethod)
	assert.Equal(t, a.PaymentMethod, b.PaymentMethod)
	assert.Equal(t, CategoryActive, a.StatusCategory)
	assert.Equal(t, CategoryActive, b.StatusCategory)
	assert.Equal(t, "Active", b.StatusDisplay)

	assert.Equal(t, models.ProfileSourceLegacy, a.Source)
	assert.Equal(t, models.ProfileSourceModern, b.Source)
	assert.True(t, a.Editable)
	assert.False(t, b.Editable)
}

func TestAmountFallbackOrder(t *testing.T) {
	snap := Normalize(gateway.LegacyProfile{"REGULARAMT": "1,250.5"}, "")
	assert.Equal(t, "1250.50", snap.Amount)

	modern := modernFixture(t, `{
		"plan": {"billing_cycles": [{"pricing_scheme": {"fixed_price": {"value": "7.5", "currency_code": "eur"}}}]}
	}`)
	snap = Normalize(modern, "")
	assert.Equal(t, "7.50", snap.Amount)
	assert.Equal(t, "EUR", snap.Currency)

	snap = Normalize(gateway.LegacyProfile{"AMT": "n/a"}, "")
	assert.Equal(t, "n/a", snap.Amount)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"Active", CategoryActive},
		{"ACTIVE", CategoryActive},
		{"ActiveProfile", CategoryActive},
		{"ACTIVEPROFILE", CategoryActive},
		{"PendingProfile", CategoryPending},
		{"SuspendedProfile", CategorySuspended},
		{"CancelledProfile", CategoryCancelled},
		{"ExpiredProfile", CategoryCancelled},
		{"ApprovalPending", CategoryPending},
		{"Profile", CategoryUnknown},
		{"Suspended", CategorySuspended},
		{"APPROVAL_PENDING", CategoryPending},
		{"approval-pending", CategoryPending},
		{"APPROVED", CategoryPending},
		{"Pending", CategoryPending},
		{"Cancelled", CategoryCancelled},
		{"CANCELED", CategoryCancelled},
		{"Expired", CategoryCancelled},
		{"frozen", CategoryUnknown},
		{"", CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.status), tt.status)
	}
}

func TestLegacyProfileStatusFallback(t *testing.T) {
	snap := Normalize(gateway.LegacyProfile{"PROFILESTATUS": "SuspendedProfile"}, models.ProfileSourceLegacy)
	assert.Equal(t, CategorySuspended, snap.StatusCategory)
	assert.Equal(t, "Suspended Profile", snap.StatusDisplay)
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, "Approval Pending", DisplayStatus("APPROVAL_PENDING"))
	assert.Equal(t, "Active", DisplayStatus(" active "))
	assert.Equal(t, "Pending Setup", DisplayStatus("pending-setup"))
	assert.Equal(t, "", DisplayStatus(""))
	assert.Equal(t, "Active Profile", DisplayStatus("ActiveProfile"))
	assert.Equal(t, "Suspended Profile", DisplayStatus("SuspendedProfile"))
}

func TestDateFormats(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01T10:00:00Z", "2024-03-01"},
		{"2024-03-01T23:30:00-05:00", "2024-03-02"},
		{"2024-03-01T10:00:00.123Z", "2024-03-01"},
		{"2024-03-01", "2024-03-01"},
		{"next tuesday", "next tuesday"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDate(tt.in), tt.in)
	}
}

func TestErrorsDisableEditing(t *testing.T) {
	snap := Normalize(gateway.LegacyProfile{
		"STATUS":          "Active",
		"L_LONGMESSAGE0":  "Profile ID is not valid",
		"L_SHORTMESSAGE1": "Internal error",
	}, models.ProfileSourceLegacy)
	assert.Equal(t, []string{"Profile ID is not valid", "Internal error"}, snap.Errors)
	assert.False(t, snap.Editable)

	modern := modernFixture(t, `{"name":"RESOURCE_NOT_FOUND","details":[{"issue":"INVALID_RESOURCE_ID","description":"Invalid subscription id."}]}`)
	snap = Normalize(modern, "")
	assert.Equal(t, []string{"Invalid subscription id."}, snap.Errors)
}

func TestPaymentMethodFallbacks(t *testing.T) {
	snap := Normalize(gateway.LegacyProfile{"EMAIL": "buyer@example.com"}, "")
	assert.Equal(t, "PayPal (buyer@example.com)", snap.PaymentMethod)

	modern := modernFixture(t, `{"subscriber":{"email_address":"buyer@example.com"}}`)
	snap = Normalize(modern, "")
	assert.Equal(t, "PayPal (buyer@example.com)", snap.PaymentMethod)

	snap = Normalize(gateway.LegacyProfile{"ACCT": "9876"}, "")
	assert.Equal(t, "Card ending in 9876", snap.PaymentMethod)
}

func TestNilProfile(t *testing.T) {
	snap := Normalize(nil, "")
	assert.Equal(t, models.ProfileSourceUnknown, snap.Source)
	assert.Equal(t, CategoryUnknown, snap.StatusCategory)
	assert.Empty(t, snap.Errors)
	assert.True(t, snap.Editable)

	snap = Normalize(nil, models.ProfileSourceModern)
	assert.False(t, snap.Editable)
}

func TestSourceOverride(t *testing.T) {
	snap := Normalize(gateway.LegacyProfile{"STATUS": "Active"}, models.ProfileSourceModern)
	assert.Equal(t, models.ProfileSourceModern, snap.Source)
	assert.False(t, snap.Editable)
}
