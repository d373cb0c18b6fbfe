// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"strings"
	"time"
)

// remoteAreaRegions carry a flat surcharge and a day of extra transit.
var remoteAreaRegions = map[string]bool{
	"西藏":  true,
	"新疆":  true,
	"青海":  true,
	"内蒙古": true,
	"甘肃":  true,
	"宁夏":  true,
	"海南":  true,
}

// RuleTableProvider prices from a static built-in tariff. It is local and
// synchronous and never fails on a well-formed request.
type RuleTableProvider struct{}

// NewRuleTableProvider creates the static-tariff provider.
func NewRuleTableProvider() *RuleTableProvider {
	return &RuleTableProvider{}
}

func (p *RuleTableProvider) Name() string     { return "rule_table" }
func (p *RuleTableProvider) Tier() SourceTier { return TierRuleTable }

// Attempt prices the request from the base tariff plus distance, weight and
// remote-area surcharges.
func (p *RuleTableProvider) Attempt(_ context.Context, req Request) (Result, error) {
	base := map[ServiceLevel]float64{
		ServiceStandard: 8.0,
		ServiceExpress:  12.0,
		ServiceUrgent:   18.0,
	}

	level := req.ServiceLevel
	if level == "" {
		level = ServiceStandard
	}
	baseFee, ok := base[level]
	if !ok {
		baseFee = 8.0
	}
	eta := etaMinutes(level)

	var surcharges []Surcharge

	sameRegion := strings.TrimSpace(req.Origin) == strings.TrimSpace(req.Destination)
	if !sameRegion {
		surcharges = append(surcharges, Surcharge{Name: "distance", Amount: 4.0})
	}

	billing := billingWeightKg(req, 0)
	if extra := extraWeightKg(billing); extra > 0 {
		surcharges = append(surcharges, Surcharge{Name: "weight", Amount: round2(extra * 2.0)})
	}

	if remoteAreaRegions[req.Origin] || remoteAreaRegions[req.Destination] {
		surcharges = append(surcharges, Surcharge{Name: "remote", Amount: 8.0})
		eta += 24 * 60
	}

	result := Result{
		Success:    true,
		Courier:    requestedCourier(req.Courier),
		Base:       baseFee,
		Surcharges: surcharges,
		SourceTier: TierRuleTable,
		EtaMinutes: eta,
		Currency:   "CNY",
		ProducedAt: time.Now(),
	}
	result.Total = round2(baseFee + result.SurchargeTotal())
	return result, nil
}
