// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"fmt"
	"time"
)

// defaultFallbackTemplate is the non-priced reply used when every pricing
// tier is exhausted. %s slots: origin, destination.
const defaultFallbackTemplate = "您好，%s到%s的运费我这边正在帮您确认，稍后给您准确报价。方便的话告诉我大概的重量和体积，我好一次算准～"

// FallbackProvider is the last resort in the chain. It never fails: it
// returns a non-priced, human-readable holding message so the engine always
// has an answer for the buyer.
type FallbackProvider struct {
	template string
}

// NewFallbackProvider creates the template provider. An empty template uses
// the built-in default.
func NewFallbackProvider(template string) *FallbackProvider {
	if template == "" {
		template = defaultFallbackTemplate
	}
	return &FallbackProvider{template: template}
}

func (p *FallbackProvider) Name() string     { return "fallback_template" }
func (p *FallbackProvider) Tier() SourceTier { return TierFallback }

// Attempt renders the holding message. Always succeeds, always degraded.
func (p *FallbackProvider) Attempt(_ context.Context, req Request) (Result, error) {
	return Result{
		Success:    true,
		SourceTier: TierFallback,
		Degraded:   true,
		Message:    fmt.Sprintf(p.template, req.Origin, req.Destination),
		ProducedAt: time.Now(),
	}, nil
}
