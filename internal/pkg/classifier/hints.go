package classifier

import (
	"strings"

	"github.com/ManuelReschke/ProfileSync/app/models"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/gateway"
)

// Confidence ranks how much a gateway hint can be trusted.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// Candidate is the resolved gateway hint.
type Candidate struct {
	Value      string     `json:"value"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
}

// HintInput is everything a hint source may look at.
type HintInput struct {
	Record *models.SubscriptionRecord
	Cached *models.ProfileCacheEntry
}

// HintSource extracts one candidate. An empty result means "no opinion".
type HintSource struct {
	Label      string
	Confidence Confidence
	Extract    func(HintInput) string
}

func knownSource(s string) string {
	if src := models.NormalizeProfileSource(s); src != models.ProfileSourceUnknown {
		return src
	}
	return ""
}

// DefaultHintSources is the ordered hint chain. The first source with an
// opinion wins; the order is the priority.
var DefaultHintSources = []HintSource{
	{
		Label:      "record_hint",
		Confidence: ConfidenceHigh,
		Extract: func(in HintInput) string {
			if in.Record == nil {
				return ""
			}
			return strings.TrimSpace(in.Record.GatewayHint)
		},
	},
	{
		Label:      "cached_gateway",
		Confidence: ConfidenceHigh,
		Extract: func(in HintInput) string {
			if in.Cached == nil {
				return ""
			}
			return strings.TrimSpace(in.Cached.PreferredGateway)
		},
	},
	{
		Label:      "cached_source",
		Confidence: ConfidenceHigh,
		Extract: func(in HintInput) string {
			if in.Cached == nil {
				return ""
			}
			return knownSource(in.Cached.ProfileSource)
		},
	},
	{
		Label:      "record_source",
		Confidence: ConfidenceMedium,
		Extract: func(in HintInput) string {
			if in.Record == nil {
				return ""
			}
			return knownSource(in.Record.ProfileSource)
		},
	},
	{
		// plan identifiers only exist on modern-protocol agreements
		Label:      "profile_shape",
		Confidence: ConfidenceMedium,
		Extract: func(in HintInput) string {
			if in.Record != nil && strings.TrimSpace(in.Record.PlanID) != "" {
				return gateway.GatewayModern
			}
			return ""
		},
	},
}

// ResolveHint walks sources in order and returns the first candidate with a
// value. With no opinion at all the result has ConfidenceNone and an empty
// value, which adapters treat as "try both".
func ResolveHint(sources []HintSource, in HintInput) Candidate {
	for _, s := range sources {
		if v := s.Extract(in); v != "" {
			return Candidate{Value: v, Confidence: s.Confidence, Source: s.Label}
		}
	}
	return Candidate{Confidence: ConfidenceNone, Source: "none"}
}
