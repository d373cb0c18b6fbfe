// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"errors"
	"time"

	"github.com/silasqian/quoteflow/internal/costtable"
)

// CostTableProvider prices from loaded rate sheets plus configured markup.
// Local and synchronous; the only failure mode is a missing rate row.
type CostTableProvider struct {
	repo    *costtable.Repository
	rules   MarkupRules
	profile PricingProfile
}

// NewCostTableProvider wires the rate-sheet repository with markup rules.
func NewCostTableProvider(repo *costtable.Repository, rules MarkupRules, profile PricingProfile) *CostTableProvider {
	if profile != ProfileMember {
		profile = ProfileNormal
	}
	return &CostTableProvider{repo: repo, rules: rules, profile: profile}
}

func (p *CostTableProvider) Name() string     { return "cost_table" }
func (p *CostTableProvider) Tier() SourceTier { return TierCostTable }

// Attempt looks up the route's cost row and applies the sale margin.
func (p *CostTableProvider) Attempt(_ context.Context, req Request) (Result, error) {
	row, err := p.repo.Find(req.Origin, req.Destination, req.Courier)
	if err != nil {
		if errors.Is(err, costtable.ErrNoRate) {
			return Result{}, NewProviderError(FailUnavailable,
				"no rate entry for %s->%s", req.Origin, req.Destination)
		}
		return Result{}, NewProviderError(FailProvider, "rate lookup: %v", err)
	}

	firstAdd, extraAdd := p.rules.Resolve(row.Courier).Adds(p.profile)

	billing := billingWeightKg(req, row.ThrowRatio)
	extra := extraWeightKg(billing)

	saleFirst := round2(maxFloat(0, row.FirstCost+firstAdd))
	saleExtraRate := maxFloat(0, row.ExtraCost+extraAdd)
	extraFee := round2(extra * saleExtraRate)

	var surcharges []Surcharge
	if extraFee > 0 {
		surcharges = append(surcharges, Surcharge{Name: "extra_weight", Amount: extraFee})
	}

	result := Result{
		Success:    true,
		Courier:    row.Courier,
		Base:       saleFirst,
		Surcharges: surcharges,
		SourceTier: TierCostTable,
		EtaMinutes: etaMinutes(req.ServiceLevel),
		Currency:   "CNY",
		ProducedAt: time.Now(),
	}
	result.Total = round2(saleFirst + extraFee)
	return result, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
