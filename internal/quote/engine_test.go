// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silasqian/quoteflow/internal/costtable"
	"github.com/silasqian/quoteflow/internal/resilience"
)

// stubProvider scripts a provider for engine tests.
type stubProvider struct {
	name    string
	tier    SourceTier
	calls   int
	results []func() (Result, error)
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Tier() SourceTier { return s.tier }

func (s *stubProvider) Attempt(_ context.Context, _ Request) (Result, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]()
}

func failWith(kind FailureKind) func() (Result, error) {
	return func() (Result, error) {
		return Result{}, NewProviderError(kind, "scripted failure")
	}
}

func succeedWith(tier SourceTier, total float64) func() (Result, error) {
	return func() (Result, error) {
		return Result{
			Success:    true,
			Courier:    "中通",
			Base:       total,
			Total:      total,
			SourceTier: tier,
			ProducedAt: time.Now(),
		}, nil
	}
}

func testRequest() Request {
	return Request{
		Origin:       "浙江杭州",
		Destination:  "北京",
		Courier:      "any",
		WeightKg:     2.0,
		ServiceLevel: ServiceStandard,
	}
}

func newTestEngine(t *testing.T, cfg EngineConfig, providers []Provider, breaker *resilience.CircuitBreaker, opts ...EngineOption) *Engine {
	t.Helper()
	cache := NewCache(0)
	return NewEngine(cfg, providers, breaker, cache, zerolog.Nop(), opts...)
}

func TestEngineUnresolvedRouteIsClarificationNotFault(t *testing.T) {
	engine := newTestEngine(t, DefaultEngineConfig(), nil, nil)

	result := engine.Quote(context.Background(), Request{
		Origin:      "somewhere",
		Destination: "北京",
		WeightKg:    1,
	})
	assert.False(t, result.Success)
	assert.Equal(t, FailProvider, result.FailureKind)
	assert.Contains(t, result.Reason, "unresolved")
}

func TestEngineAlwaysAnswers(t *testing.T) {
	// Every priced provider fails; the fallback template must engage.
	remote := &stubProvider{name: "remote", tier: TierRemote, results: []func() (Result, error){failWith(FailTimeout)}}
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){failWith(FailUnavailable)}}
	rule := &stubProvider{name: "rule_table", tier: TierRuleTable, results: []func() (Result, error){failWith(FailUnavailable)}}

	breaker := resilience.NewCircuitBreaker("remote-quote-test-a", 3, 30*time.Second)
	engine := newTestEngine(t, DefaultEngineConfig(), []Provider{remote, table, rule}, breaker)

	result := engine.Quote(context.Background(), testRequest())
	require.True(t, result.Success)
	assert.Equal(t, TierFallback, result.SourceTier)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Message)
}

func TestEngineChainStopsAtFirstSuccess(t *testing.T) {
	remote := &stubProvider{name: "remote", tier: TierRemote, results: []func() (Result, error){succeedWith(TierRemote, 15)}}
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){succeedWith(TierCostTable, 10)}}

	breaker := resilience.NewCircuitBreaker("remote-quote-test-b", 3, 30*time.Second)
	engine := newTestEngine(t, DefaultEngineConfig(), []Provider{remote, table}, breaker)

	result := engine.Quote(context.Background(), testRequest())
	assert.Equal(t, TierRemote, result.SourceTier)
	assert.Equal(t, 0, table.calls, "later tiers must not run after a success")
}

func TestEngineRemoteTimeoutsFallToCostTable(t *testing.T) {
	// Remote times out twice, the cost table has a matching rate: the result
	// comes from cost_table, not degraded, and the breaker counts 2 of 3.
	remote := &stubProvider{
		name: "remote",
		tier: TierRemote,
		results: []func() (Result, error){
			failWith(FailTimeout),
			failWith(FailTimeout),
		},
	}
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){succeedWith(TierCostTable, 10.7)}}

	cfg := DefaultEngineConfig()
	cfg.RemoteAttempts = 2
	breaker := resilience.NewCircuitBreaker("remote-quote-test-c", 3, 30*time.Second)
	engine := newTestEngine(t, cfg, []Provider{remote, table}, breaker)

	result := engine.Quote(context.Background(), testRequest())
	require.True(t, result.Success)
	assert.Equal(t, TierCostTable, result.SourceTier)
	assert.False(t, result.Degraded)
	assert.Equal(t, 2, remote.calls)
	assert.Equal(t, 2, breaker.Failures())
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestEngineSkipsRemoteWhenBreakerOpen(t *testing.T) {
	remote := &stubProvider{name: "remote", tier: TierRemote, results: []func() (Result, error){succeedWith(TierRemote, 15)}}
	rule := &stubProvider{name: "rule_table", tier: TierRuleTable, results: []func() (Result, error){succeedWith(TierRuleTable, 12)}}

	breaker := resilience.NewCircuitBreaker("remote-quote-test-d", 1, time.Hour)
	breaker.RecordFailure() // trip it

	engine := newTestEngine(t, DefaultEngineConfig(), []Provider{remote, rule}, breaker)

	result := engine.Quote(context.Background(), testRequest())
	assert.Equal(t, TierRuleTable, result.SourceTier)
	assert.Equal(t, 0, remote.calls, "open breaker must skip the remote attempt entirely")
}

func TestEngineCacheFreshHit(t *testing.T) {
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){succeedWith(TierCostTable, 10)}}
	engine := newTestEngine(t, DefaultEngineConfig(), []Provider{table}, nil)

	first := engine.Quote(context.Background(), testRequest())
	require.Equal(t, TierCostTable, first.SourceTier)

	second := engine.Quote(context.Background(), testRequest())
	assert.Equal(t, TierCache, second.SourceTier)
	assert.False(t, second.Degraded)
	assert.Equal(t, 1, table.calls, "fresh hit must not touch providers")
}

func TestEngineStaleHitIsDegradedAndRefreshes(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cache := NewCache(0, WithCacheClock(clock))

	table := &stubProvider{
		name: "cost_table",
		tier: TierCostTable,
		results: []func() (Result, error){
			succeedWith(TierCostTable, 10),
			succeedWith(TierCostTable, 11),
		},
	}

	refreshed := make(chan string, 1)
	engine := NewEngine(DefaultEngineConfig(), []Provider{table}, nil, cache, zerolog.Nop(),
		withRefreshHook(func(key string) { refreshed <- key }))

	first := engine.Quote(context.Background(), testRequest())
	require.True(t, first.Success)

	// Move past the primary TTL but stay inside max-stale.
	now = now.Add(91 * time.Second)

	second := engine.Quote(context.Background(), testRequest())
	assert.Equal(t, TierCache, second.SourceTier)
	assert.True(t, second.Degraded, "stale hits are served degraded")
	assert.Equal(t, 10.0, second.Total, "stale value returned immediately")

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh did not run")
	}
	assert.Equal(t, 2, table.calls, "stale hit must trigger revalidation")
}

func TestEngineSafetyMargin(t *testing.T) {
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){succeedWith(TierCostTable, 10)}}

	cfg := DefaultEngineConfig()
	cfg.SafetyMargin = 0.1
	engine := newTestEngine(t, cfg, []Provider{table}, nil)

	result := engine.Quote(context.Background(), testRequest())
	assert.Equal(t, 11.0, result.Total)
}

func TestEngineAuditsEveryResult(t *testing.T) {
	audit := NewMemoryAudit()
	table := &stubProvider{name: "cost_table", tier: TierCostTable, results: []func() (Result, error){succeedWith(TierCostTable, 10)}}
	engine := newTestEngine(t, DefaultEngineConfig(), []Provider{table}, nil, WithAudit(audit))

	engine.Quote(context.Background(), testRequest())
	engine.Quote(context.Background(), testRequest()) // cache hit

	entries := audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, TierCostTable, entries[0].Result.SourceTier)
	assert.Equal(t, TierCache, entries[1].Result.SourceTier)
	assert.Equal(t, entries[0].RequestKey, entries[1].RequestKey)
}

func TestEngineEndToEndWithRealProviders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rates.csv"),
		[]byte("中通,浙江,北京,4.5,2.0\n"), 0o644))
	repo, err := costtable.NewRepository(dir)
	require.NoError(t, err)

	providers := []Provider{
		NewCostTableProvider(repo, nil, ProfileNormal),
		NewRuleTableProvider(),
	}
	engine := newTestEngine(t, DefaultEngineConfig(), providers, nil)

	result := engine.Quote(context.Background(), testRequest())
	require.True(t, result.Success)
	assert.Equal(t, TierCostTable, result.SourceTier)
	assert.Equal(t, "中通", result.Courier)
	// first 4.5+0.5 markup, one extra kilo at 2.0+0.5.
	assert.Equal(t, 5.0, result.Base)
	assert.Equal(t, 7.5, result.Total)
}
