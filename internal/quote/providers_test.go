// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleTableBasePerServiceLevel(t *testing.T) {
	p := NewRuleTableProvider()

	for level, wantBase := range map[ServiceLevel]float64{
		ServiceStandard: 8.0,
		ServiceExpress:  12.0,
		ServiceUrgent:   18.0,
	} {
		result, err := p.Attempt(context.Background(), Request{
			Origin:       "浙江",
			Destination:  "浙江",
			WeightKg:     1,
			ServiceLevel: level,
		})
		require.NoError(t, err)
		assert.Equal(t, wantBase, result.Base, "level %s", level)
		assert.Equal(t, wantBase, result.Total, "same region, one kilo: no surcharges")
	}
}

func TestRuleTableSurcharges(t *testing.T) {
	p := NewRuleTableProvider()

	result, err := p.Attempt(context.Background(), Request{
		Origin:       "浙江",
		Destination:  "新疆",
		WeightKg:     3,
		ServiceLevel: ServiceStandard,
	})
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, s := range result.Surcharges {
		byName[s.Name] = s.Amount
	}
	assert.Equal(t, 4.0, byName["distance"])
	assert.Equal(t, 4.0, byName["weight"], "two extra kilos at 2.0")
	assert.Equal(t, 8.0, byName["remote"])
	assert.Equal(t, 24.0, result.Total)
	assert.Equal(t, 48*60+24*60, result.EtaMinutes, "remote routes add a day")
}

func TestRuleTableVolumetricWeight(t *testing.T) {
	p := NewRuleTableProvider()

	// 30000 cm³ / 6000 = 5 kg volumetric beats 1 kg actual.
	result, err := p.Attempt(context.Background(), Request{
		Origin:       "浙江",
		Destination:  "浙江",
		WeightKg:     1,
		VolumeCm3:    30000,
		ServiceLevel: ServiceStandard,
	})
	require.NoError(t, err)

	var weightFee float64
	for _, s := range result.Surcharges {
		if s.Name == "weight" {
			weightFee = s.Amount
		}
	}
	assert.Equal(t, 8.0, weightFee, "four extra volumetric kilos at 2.0")
}

func TestFallbackNeverFails(t *testing.T) {
	p := NewFallbackProvider("")

	result, err := p.Attempt(context.Background(), Request{Origin: "浙江", Destination: "北京"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Equal(t, TierFallback, result.SourceTier)
	assert.Contains(t, result.Message, "浙江")
	assert.Contains(t, result.Message, "北京")
	assert.False(t, result.Priced())
}

func TestMarkupRulesResolve(t *testing.T) {
	rules := MarkupRules{
		"中通": {NormalFirstAdd: 1.0, NormalExtraAdd: 0.8},
		"default": {NormalFirstAdd: 0.3, NormalExtraAdd: 0.2},
	}

	first, extra := rules.Resolve("中通快递").Adds(ProfileNormal)
	assert.Equal(t, 1.0, first)
	assert.Equal(t, 0.8, extra)

	first, extra = rules.Resolve("顺丰").Adds(ProfileNormal)
	assert.Equal(t, 0.3, first)
	assert.Equal(t, 0.2, extra)

	first, _ = MarkupRules(nil).Resolve("顺丰").Adds(ProfileMember)
	assert.Equal(t, DefaultMarkup.MemberFirstAdd, first)
}

func TestRequestCacheKeyBucketsWeight(t *testing.T) {
	a := Request{Origin: "浙江", Destination: "北京", Courier: "any", WeightKg: 2.1, ServiceLevel: ServiceStandard}
	b := Request{Origin: "浙江", Destination: "北京", Courier: "any", WeightKg: 2.4, ServiceLevel: ServiceStandard}
	c := Request{Origin: "浙江", Destination: "北京", Courier: "any", WeightKg: 2.6, ServiceLevel: ServiceStandard}

	assert.Equal(t, a.CacheKey(), b.CacheKey(), "same half-kilo bucket")
	assert.NotEqual(t, a.CacheKey(), c.CacheKey(), "different bucket")
}
