// SPDX-License-Identifier: MIT

package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/silasqian/quoteflow/internal/quote"
)

func TestPromptNamesMissingFields(t *testing.T) {
	text := Prompt([]string{"destination", "weight"})
	assert.Contains(t, text, "收货省份")
	assert.Contains(t, text, "大概的重量")
}

func TestQuoteTextPriced(t *testing.T) {
	req := quote.Request{Origin: "浙江", Destination: "北京"}
	res := quote.Result{
		Success:    true,
		Courier:    "中通",
		Total:      7.5,
		EtaMinutes: 48 * 60,
		SourceTier: quote.TierCostTable,
	}

	text := QuoteText(req, res)
	assert.Contains(t, text, "浙江")
	assert.Contains(t, text, "北京")
	assert.Contains(t, text, "中通")
	assert.Contains(t, text, "7.50")
	assert.Contains(t, text, "2天")
}

func TestQuoteTextFallbackPassthrough(t *testing.T) {
	res := quote.Result{
		Success:    true,
		Degraded:   true,
		SourceTier: quote.TierFallback,
		Message:    "您好，正在帮您确认运费",
	}
	assert.Equal(t, res.Message, QuoteText(quote.Request{}, res))
}

func TestEtaText(t *testing.T) {
	assert.Contains(t, etaText(0), "两三天")
	assert.Contains(t, etaText(90), "2小时")
	assert.Contains(t, etaText(72*60), "3天")
}
