// SPDX-License-Identifier: MIT

package quote

import (
	"math"
	"strings"

	"github.com/silasqian/quoteflow/internal/costtable"
)

// PricingProfile selects which markup band applies to a buyer.
type PricingProfile string

const (
	ProfileNormal PricingProfile = "normal"
	ProfileMember PricingProfile = "member"
)

// Markup is the per-courier sale margin added on top of cost prices.
type Markup struct {
	NormalFirstAdd float64 `yaml:"normal_first_add"`
	MemberFirstAdd float64 `yaml:"member_first_add"`
	NormalExtraAdd float64 `yaml:"normal_extra_add"`
	MemberExtraAdd float64 `yaml:"member_extra_add"`
}

// DefaultMarkup is applied when no courier-specific rule is configured.
var DefaultMarkup = Markup{
	NormalFirstAdd: 0.50,
	MemberFirstAdd: 0.25,
	NormalExtraAdd: 0.50,
	MemberExtraAdd: 0.30,
}

// MarkupRules maps canonical courier names to their margin, with a "default"
// entry as the catch-all.
type MarkupRules map[string]Markup

// Resolve returns the margin for a courier, falling back to the default.
func (r MarkupRules) Resolve(courier string) Markup {
	if r == nil {
		return DefaultMarkup
	}
	canonical := costtable.NormalizeCourier(courier)
	if m, ok := r[canonical]; ok {
		return m
	}
	if m, ok := r["default"]; ok {
		return m
	}
	return DefaultMarkup
}

// Adds returns the (first, extra) additions for a pricing profile.
func (m Markup) Adds(profile PricingProfile) (float64, float64) {
	if profile == ProfileMember {
		return m.MemberFirstAdd, m.MemberExtraAdd
	}
	return m.NormalFirstAdd, m.NormalExtraAdd
}

// defaultVolumeDivisor converts cm³ to volumetric kilos when a rate sheet
// carries no divisor of its own.
const defaultVolumeDivisor = 6000.0

// billingWeightKg returns the chargeable weight: the larger of actual and
// volumetric weight.
func billingWeightKg(req Request, divisor float64) float64 {
	actual := math.Max(0, req.WeightKg)
	if divisor <= 0 {
		divisor = defaultVolumeDivisor
	}
	var volumetric float64
	if req.VolumeCm3 > 0 {
		volumetric = req.VolumeCm3 / divisor
	}
	return math.Max(actual, volumetric)
}

// extraWeightKg is the chargeable weight beyond the first kilo.
func extraWeightKg(billing float64) float64 {
	return math.Max(0, billing-1.0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// etaMinutes estimates delivery time per service level.
func etaMinutes(level ServiceLevel) int {
	switch level {
	case ServiceUrgent:
		return 12 * 60
	case ServiceExpress:
		return 24 * 60
	default:
		return 48 * 60
	}
}

func requestedCourier(courier string) string {
	text := strings.TrimSpace(courier)
	if text == "" || strings.EqualFold(text, "any") || strings.EqualFold(text, "auto") {
		return ""
	}
	return text
}
