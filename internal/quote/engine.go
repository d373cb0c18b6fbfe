// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/silasqian/quoteflow/internal/metrics"
	"github.com/silasqian/quoteflow/internal/region"
	"github.com/silasqian/quoteflow/internal/resilience"
)

// ErrUnresolvedRoute marks requests whose origin or destination could not be
// normalized. This is user input to clarify, not an engine fault.
var ErrUnresolvedRoute = errors.New("route could not be resolved")

// EngineConfig tunes one engine instance.
type EngineConfig struct {
	// TTL is the primary validity window written on cached results when the
	// serving tier does not dictate its own.
	TTL time.Duration
	// MaxStale bounds the stale-while-revalidate window.
	MaxStale time.Duration
	// SafetyMargin is a multiplier applied to priced totals (0.05 = +5%).
	SafetyMargin float64
	// RemoteAttempts is how many times the remote tier is tried per request
	// before falling through. Minimum 1.
	RemoteAttempts int
}

// DefaultEngineConfig mirrors the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TTL:            90 * time.Second,
		MaxStale:       300 * time.Second,
		RemoteAttempts: 1,
	}
}

// Engine orchestrates normalizer, cache tiers, provider chain and breaker.
// Cache and breaker state are scoped to the instance, not process-wide, so
// tests can construct isolated engines.
type Engine struct {
	cfg       EngineConfig
	providers []Provider // priority order; fallback appended last
	fallback  *FallbackProvider
	breaker   *resilience.CircuitBreaker
	cache     *Cache
	shared    *RedisCache // optional second-level cache
	audit     AuditSink
	logger    zerolog.Logger
	group     singleflight.Group
	now       func() time.Time

	// refreshed is invoked after a background revalidation finishes;
	// tests use it to synchronize.
	refreshed func(key string)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSharedCache attaches the Redis second-level cache.
func WithSharedCache(shared *RedisCache) EngineOption {
	return func(e *Engine) { e.shared = shared }
}

// WithAudit attaches the audit sink. Defaults to an in-memory sink.
func WithAudit(sink AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// WithEngineClock injects a clock for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// withRefreshHook is used by tests to observe background revalidation.
func withRefreshHook(fn func(key string)) EngineOption {
	return func(e *Engine) { e.refreshed = fn }
}

// NewEngine builds an engine over the given provider chain. Providers are
// tried in slice order; the fallback template is always appended as the last
// resort. The breaker guards every provider whose tier is remote.
func NewEngine(cfg EngineConfig, providers []Provider, breaker *resilience.CircuitBreaker, cache *Cache, logger zerolog.Logger, opts ...EngineOption) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultEngineConfig().TTL
	}
	if cfg.MaxStale < 0 {
		cfg.MaxStale = 0
	}

	e := &Engine{
		cfg:       cfg,
		providers: providers,
		fallback:  NewFallbackProvider(""),
		breaker:   breaker,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = NewMemoryAudit()
	}
	return e
}

// Quote produces a result for the request. Well-formed requests always get a
// non-nil answer: provider failures degrade through the chain down to the
// non-priced fallback template.
func (e *Engine) Quote(ctx context.Context, req Request) Result {
	start := e.now()
	logger := e.logger.With().Str("courier", req.Courier).Logger()

	normalized, ok := e.normalize(req)
	if !ok {
		metrics.RecordUnresolvedRoute()
		metrics.RecordQuoteFailure(string(FailProvider))
		result := Result{
			Success:     false,
			FailureKind: FailProvider,
			Reason:      "origin or destination unresolved; ask the buyer for a clearer place name",
			ProducedAt:  e.now(),
		}
		e.recordAudit(ctx, normalized, result, start)
		return result
	}

	key := normalized.CacheKey()

	if e.cache != nil {
		if cached, state := e.cache.Get(key); state != CacheMiss {
			return e.serveCached(ctx, normalized, key, cached, state, start)
		}
	}
	if e.shared != nil {
		if cached, state := e.shared.Get(ctx, key); state != CacheMiss {
			if e.cache != nil && state == CacheFresh {
				e.cache.Put(key, cached, e.cfg.TTL, e.cfg.MaxStale)
			}
			return e.serveCached(ctx, normalized, key, cached, state, start)
		}
	}

	result := e.walkChain(ctx, normalized, key, logger)
	e.recordAudit(ctx, normalized, result, start)
	metrics.RecordQuote(string(result.SourceTier), result.Degraded, e.now().Sub(start).Seconds())
	return result
}

// normalize canonicalizes the route. Returns false when either end is
// unresolvable.
func (e *Engine) normalize(req Request) (Request, bool) {
	origin, okO := region.Normalize(req.Origin)
	dest, okD := region.Normalize(req.Destination)
	if !okO || !okD {
		return req, false
	}
	req.Origin = origin
	req.Destination = dest
	if req.ServiceLevel == "" {
		req.ServiceLevel = ServiceStandard
	}
	return req, true
}

// serveCached returns a cache hit; stale hits are degraded and trigger an
// asynchronous refresh that never blocks the caller.
func (e *Engine) serveCached(ctx context.Context, req Request, key string, cached Result, state CacheState, start time.Time) Result {
	result := cached
	result.SourceTier = TierCache
	result.Degraded = state == CacheStale

	if state == CacheStale {
		e.refreshAsync(ctx, req, key)
	}

	e.recordAudit(ctx, req, result, start)
	metrics.RecordQuote(string(TierCache), result.Degraded, e.now().Sub(start).Seconds())
	return result
}

// refreshAsync revalidates a stale key off the hot path. Concurrent stale
// hits on the same key share one refresh.
func (e *Engine) refreshAsync(ctx context.Context, req Request, key string) {
	refreshCtx := context.WithoutCancel(ctx)
	go func() {
		_, _, _ = e.group.Do(key, func() (any, error) {
			logger := e.logger.With().Str("cache_key", key).Logger()
			result := e.walkChain(refreshCtx, req, key, logger)
			if !result.Priced() {
				logger.Debug().Msg("background refresh did not yield a priced quote")
			}
			return nil, nil
		})
		if e.refreshed != nil {
			e.refreshed(key)
		}
	}()
}

// walkChain tries the providers in priority order, honoring the breaker for
// remote tiers, and falls through to the fallback template.
func (e *Engine) walkChain(ctx context.Context, req Request, key string, logger zerolog.Logger) Result {
	for _, p := range e.providers {
		guarded := p.Tier() == TierRemote && e.breaker != nil

		attempts := 1
		if guarded && e.cfg.RemoteAttempts > 1 {
			attempts = e.cfg.RemoteAttempts
		}

		var result Result
		var err error
		succeeded := false
		for try := 0; try < attempts; try++ {
			if guarded && !e.breaker.Allow() {
				metrics.RecordProviderAttempt(p.Name(), "skipped")
				logger.Debug().
					Str("provider", p.Name()).
					Msg("provider skipped, circuit open")
				break
			}

			result, err = p.Attempt(ctx, req)
			if err == nil {
				succeeded = true
				break
			}

			kind := classifyFailure(err)
			metrics.RecordProviderAttempt(p.Name(), "failure")
			metrics.RecordQuoteFailure(string(kind))
			if guarded {
				e.breaker.RecordFailure()
			}
			logger.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("kind", string(kind)).
				Msg("provider attempt failed")
		}
		if !succeeded {
			continue
		}

		metrics.RecordProviderAttempt(p.Name(), "success")
		if guarded {
			e.breaker.RecordSuccess()
		}

		result = e.finalize(result)
		if e.cache != nil && result.Priced() {
			ttl, maxStale := e.validityWindow(result)
			e.cache.Put(key, result, ttl, maxStale)
			if e.shared != nil {
				e.shared.Put(ctx, key, result, ttl, maxStale)
			}
		}
		return result
	}

	// Every priced tier exhausted: the template always answers.
	result, _ := e.fallback.Attempt(ctx, req)
	return e.finalize(result)
}

// finalize applies the safety margin and stamps the validity window.
func (e *Engine) finalize(result Result) Result {
	if result.Priced() && e.cfg.SafetyMargin > 0 {
		result.Total = round2(result.Total * (1 + e.cfg.SafetyMargin))
	}
	if result.TTLSeconds <= 0 {
		result.TTLSeconds = int(e.cfg.TTL.Seconds())
	}
	if result.MaxStaleSeconds <= 0 {
		result.MaxStaleSeconds = int(e.cfg.MaxStale.Seconds())
	}
	return result
}

func (e *Engine) validityWindow(result Result) (time.Duration, time.Duration) {
	ttl := e.cfg.TTL
	maxStale := e.cfg.MaxStale
	if result.TTLSeconds > 0 {
		ttl = time.Duration(result.TTLSeconds) * time.Second
	}
	if result.MaxStaleSeconds > 0 {
		maxStale = time.Duration(result.MaxStaleSeconds) * time.Second
	}
	return ttl, maxStale
}

func (e *Engine) recordAudit(ctx context.Context, req Request, result Result, start time.Time) {
	entry := AuditEntry{
		RequestKey: req.CacheKey(),
		Request:    req,
		Result:     result,
		LatencyMs:  e.now().Sub(start).Milliseconds(),
		At:         e.now(),
	}
	if err := e.audit.AppendQuoteAudit(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Msg("quote audit append failed")
	}
}

// classifyFailure maps provider errors onto the failure taxonomy.
func classifyFailure(err error) FailureKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	return FailProvider
}
