// Package normalizer turns legacy or modern gateway payloads into one
// display-ready Snapshot. Nothing in here performs I/O.
package normalizer

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
)

// Status categories.
const (
	CategoryActive    = "active"
	CategorySuspended = "suspended"
	CategoryPending   = "pending"
	CategoryCancelled = "cancelled"
	CategoryUnknown   = "unknown"
)

// DateLayout is the canonical date format of a Snapshot.
const DateLayout = "2006-01-02"

// maxErrorDetails bounds the indexed error scan.
const maxErrorDetails = 20

// Snapshot is the canonical view of a profile. It is computed, never stored.
type Snapshot struct {
	ProfileID      string    `json:"profile_id"`
	Source         string    `json:"source"`
	StartDate      string    `json:"start_date"`
	NextDate       string    `json:"next_date"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	PaymentMethod  string    `json:"payment_method"`
	StatusDisplay  string    `json:"status_display"`
	StatusCategory string    `json:"status_category"`
	Errors         []string  `json:"errors"`
	RefreshedAt    time.Time `json:"refreshed_at"`
	Editable       bool      `json:"editable"`
	// Stale is set when the snapshot was built from an expired or missing
	// cache entry and a refresh is pending.
	Stale bool `json:"stale"`
}

// Field paths per logical value, highest priority first. Legacy keys are flat,
// modern ones dotted; Lookup on the wrong shape simply misses.
var (
	amountPaths = []string{
		"AMT",
		"REGULARAMT",
		"billing_info.last_payment.amount.value",
		"plan.billing_cycles.0.pricing_scheme.fixed_price.value",
	}
	currencyPaths = []string{
		"CURRENCYCODE",
		"REGULARCURRENCYCODE",
		"billing_info.last_payment.amount.currency_code",
		"plan.billing_cycles.0.pricing_scheme.fixed_price.currency_code",
	}
	nextDatePaths = []string{
		"NEXTBILLINGDATE",
		"billing_info.next_billing_time",
	}
	startDatePaths = []string{
		"PROFILESTARTDATE",
		"start_time",
		"create_time",
	}
	statusPaths = []string{
		"STATUS",
		"PROFILESTATUS",
		"status",
	}
)

// Allow-lists per category, keyed by the lowercased status with separators
// collapsed to "_". The legacy "...Profile" suffix is stripped before lookup,
// so "SuspendedProfile" and "SUSPENDEDPROFILE" land with "suspended".
var categories = map[string][]string{
	CategoryActive:    {"active"},
	CategorySuspended: {"suspended"},
	CategoryPending:   {"pending", "approval_pending", "approved", "scheduled"},
	CategoryCancelled: {"cancelled", "canceled", "expired"},
}

const legacyProfileSuffix = "profile"

// Normalize builds a Snapshot from raw. source overrides raw's own tag when
// set. A nil raw yields an empty snapshot with category unknown.
func Normalize(raw gateway.RawProfile, source string) Snapshot {
	src := models.NormalizeProfileSource(source)
	if src == models.ProfileSourceUnknown {
		src = gateway.SourceOf(raw)
	}
	snap := Snapshot{
		Source:         src,
		StatusCategory: CategoryUnknown,
		Errors:         []string{},
	}
	if raw == nil {
		snap.Editable = src != models.ProfileSourceModern
		return snap
	}

	snap.Amount = formatAmount(first(raw, amountPaths))
	snap.Currency = strings.ToUpper(first(raw, currencyPaths))
	snap.NextDate = formatDate(first(raw, nextDatePaths))
	snap.StartDate = formatDate(first(raw, startDatePaths))
	snap.PaymentMethod = paymentMethod(raw)
	snap.Errors = collectErrors(raw)

	status := first(raw, statusPaths)
	snap.StatusDisplay = DisplayStatus(status)
	snap.StatusCategory = Categorize(status)
	snap.Editable = src != models.ProfileSourceModern && len(snap.Errors) == 0
	return snap
}

func first(raw gateway.RawProfile, paths []string) string {
	for _, p := range paths {
		if v, ok := raw.Lookup(p); ok {
			return v
		}
	}
	return ""
}

// splitStatus splits on separators and on lower-to-upper case changes, so
// "APPROVAL_PENDING", "approval-pending" and "ApprovalPending" agree.
func splitStatus(status string) []string {
	var parts []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			parts = append(parts, string(word))
			word = word[:0]
		}
	}
	prevLower := false
	for _, r := range strings.TrimSpace(status) {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			flush()
		}
		word = append(word, r)
		prevLower = unicode.IsLower(r)
	}
	flush()
	return parts
}

// DisplayStatus splits status into words and title-cases each one:
// "APPROVAL_PENDING" becomes "Approval Pending", "ActiveProfile" becomes
// "Active Profile".
func DisplayStatus(status string) string {
	parts := splitStatus(status)
	// Casers keep state and must not be shared between goroutines.
	caser := cases.Title(language.English)
	for i, p := range parts {
		parts[i] = caser.String(strings.ToLower(p))
	}
	return strings.Join(parts, " ")
}

// Categorize buckets a raw status. Anything not on an allow-list is unknown.
func Categorize(status string) string {
	key := strings.ToLower(strings.Join(splitStatus(status), "_"))
	key = strings.TrimSuffix(strings.TrimSuffix(key, legacyProfileSuffix), "_")
	if key == "" {
		return CategoryUnknown
	}
	for category, allowed := range categories {
		for _, a := range allowed {
			if a == key {
				return category
			}
		}
	}
	return CategoryUnknown
}

func formatAmount(v string) string {
	if v == "" {
		return ""
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		return v
	}
	return d.StringFixed(2)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	DateLayout,
}

// formatDate renders v as a UTC calendar date. Unparsable input is returned
// as is rather than dropped.
func formatDate(v string) string {
	if v == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(DateLayout)
		}
	}
	return v
}

func describeCard(brand, digits string) string {
	brand = DisplayStatus(brand)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	switch {
	case brand != "" && digits != "":
		return fmt.Sprintf("%s ending in %s", brand, digits)
	case brand != "":
		return brand
	case digits != "":
		return "Card ending in " + digits
	}
	return ""
}

func paymentMethod(raw gateway.RawProfile) string {
	if card := describeCard(first(raw, []string{"CREDITCARDTYPE"}), first(raw, []string{"ACCT"})); card != "" {
		return card
	}
	if card := describeCard(
		first(raw, []string{"subscriber.payment_source.card.brand"}),
		first(raw, []string{"subscriber.payment_source.card.last_digits"}),
	); card != "" {
		return card
	}
	if email := first(raw, []string{"EMAIL", "subscriber.email_address"}); email != "" {
		return fmt.Sprintf("PayPal (%s)", email)
	}
	return ""
}

func collectErrors(raw gateway.RawProfile) []string {
	errs := []string{}
	for i := 0; i < maxErrorDetails; i++ {
		msg := first(raw, []string{
			fmt.Sprintf("L_LONGMESSAGE%d", i),
			fmt.Sprintf("L_SHORTMESSAGE%d", i),
			fmt.Sprintf("details.%d.description", i),
			fmt.Sprintf("details.%d.issue", i),
		})
		if msg == "" {
			break
		}
		errs = append(errs, msg)
	}
	return errs
}
