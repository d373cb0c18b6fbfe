// SPDX-License-Identifier: MIT

package workflow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/silasqian/quoteflow/internal/log"
	"github.com/silasqian/quoteflow/internal/metrics"
)

// SLA metric names used in alerts and the ops API.
const (
	MetricFirstResponse = "first_response_p95_seconds"
	MetricQuoteSuccess  = "quote_success_rate"
)

// SLAConfig tunes the monitor.
type SLAConfig struct {
	// Window is the rolling evaluation window over the transition log.
	Window time.Duration
	// Interval between evaluations.
	Interval time.Duration
	// FirstResponseP95Max is the breach threshold in seconds.
	FirstResponseP95Max float64
	// QuoteSuccessMin is the minimum acceptable priced-quote ratio.
	QuoteSuccessMin float64
	// Stability is how long a metric must stay healthy after a breach
	// before a recovery event is emitted. Prevents alert flapping.
	Stability time.Duration
	// MinSamples below which a metric is not judged at all.
	MinSamples int
}

// DefaultSLAConfig returns the thresholds the daemon ships with.
func DefaultSLAConfig() SLAConfig {
	return SLAConfig{
		Window:              30 * time.Minute,
		Interval:            30 * time.Second,
		FirstResponseP95Max: 120,
		QuoteSuccessMin:     0.90,
		Stability:           5 * time.Minute,
		MinSamples:          5,
	}
}

// Snapshot is the monitor's latest view, served on the ops API.
type Snapshot struct {
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	FirstResponseP50 float64   `json:"first_response_p50_seconds"`
	FirstResponseP95 float64   `json:"first_response_p95_seconds"`
	ResponseSamples  int       `json:"response_samples"`
	QuoteSuccessRate float64   `json:"quote_success_rate"`
	QuoteSamples     int       `json:"quote_samples"`
	Breached         []string  `json:"breached,omitempty"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// alertState tracks the breach lifecycle of one metric.
type alertState struct {
	breached bool
	okSince  time.Time
}

// Monitor evaluates service-level health from the durable transition log
// and quote audit. It only reads job/session state, so it can never block
// or slow the workers; it shares nothing with them but the database.
type Monitor struct {
	cfg    SLAConfig
	store  *Store
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	snap   Snapshot
	states map[string]*alertState
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock injects a clock. Test hook.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor wires a monitor over the store.
func NewMonitor(cfg SLAConfig, store *Store, logger zerolog.Logger, opts ...MonitorOption) *Monitor {
	def := DefaultSLAConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FirstResponseP95Max <= 0 {
		cfg.FirstResponseP95Max = def.FirstResponseP95Max
	}
	if cfg.QuoteSuccessMin <= 0 {
		cfg.QuoteSuccessMin = def.QuoteSuccessMin
	}
	if cfg.Stability <= 0 {
		cfg.Stability = def.Stability
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	m := &Monitor{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		states: map[string]*alertState{
			MetricFirstResponse: {},
			MetricQuoteSuccess:  {},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run evaluates on a ticker until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Evaluate(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("sla evaluation failed")
			}
		}
	}
}

// Evaluate computes one window and updates gauges, alert state and the
// snapshot.
func (m *Monitor) Evaluate(ctx context.Context) error {
	now := m.now()
	since := now.Add(-m.cfg.Window)

	latencies, err := m.store.FirstResponseSeconds(ctx, since)
	if err != nil {
		return err
	}
	total, priced, err := m.store.QuoteStats(ctx, since)
	if err != nil {
		return err
	}

	snap := Snapshot{
		WindowStart:     since,
		WindowEnd:       now,
		ResponseSamples: len(latencies),
		QuoteSamples:    total,
		EvaluatedAt:     now,
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		snap.FirstResponseP50 = percentile(latencies, 0.50)
		snap.FirstResponseP95 = percentile(latencies, 0.95)
		metrics.SetFirstResponseP95(snap.FirstResponseP95)
	}
	if total > 0 {
		snap.QuoteSuccessRate = float64(priced) / float64(total)
		metrics.SetQuoteSuccessRate(snap.QuoteSuccessRate)
	}

	m.judge(ctx, snap, MetricFirstResponse, snap.FirstResponseP95, m.cfg.FirstResponseP95Max,
		len(latencies), snap.FirstResponseP95 > m.cfg.FirstResponseP95Max)
	m.judge(ctx, snap, MetricQuoteSuccess, snap.QuoteSuccessRate, m.cfg.QuoteSuccessMin,
		total, snap.QuoteSuccessRate < m.cfg.QuoteSuccessMin)

	m.mu.Lock()
	for metric, st := range m.states {
		if st.breached {
			snap.Breached = append(snap.Breached, metric)
		}
	}
	sort.Strings(snap.Breached)
	m.snap = snap
	m.mu.Unlock()
	return nil
}

// judge runs the breach/recovery state machine for one metric.
func (m *Monitor) judge(ctx context.Context, snap Snapshot, metric string, observed, threshold float64, samples int, violated bool) {
	if samples < m.cfg.MinSamples {
		return
	}
	now := snap.EvaluatedAt

	m.mu.Lock()
	st := m.states[metric]
	m.mu.Unlock()

	logger := m.logger.With().
		Str(log.FieldMetric, metric).
		Float64(log.FieldObserved, round3(observed)).
		Float64(log.FieldThreshold, threshold).
		Logger()

	switch {
	case violated && !st.breached:
		st.breached = true
		st.okSince = time.Time{}
		m.emit(ctx, AlertEvent{
			Metric: metric, Kind: "breach",
			Observed: observed, Threshold: threshold,
			WindowStart: snap.WindowStart, WindowEnd: snap.WindowEnd,
			Message: fmt.Sprintf("%s breached: observed %.3f, threshold %.3f", metric, observed, threshold),
			At:      now,
		})
		logger.Warn().Msg("sla breach")

	case violated && st.breached:
		// Still bad; any recovery countdown resets.
		st.okSince = time.Time{}

	case !violated && st.breached:
		if st.okSince.IsZero() {
			st.okSince = now
			return
		}
		if now.Sub(st.okSince) >= m.cfg.Stability {
			st.breached = false
			st.okSince = time.Time{}
			m.emit(ctx, AlertEvent{
				Metric: metric, Kind: "recovery",
				Observed: observed, Threshold: threshold,
				WindowStart: snap.WindowStart, WindowEnd: snap.WindowEnd,
				Message: fmt.Sprintf("%s recovered: observed %.3f", metric, observed),
				At:      now,
			})
			logger.Info().Msg("sla recovered")
		}
	}
}

func (m *Monitor) emit(ctx context.Context, a AlertEvent) {
	metrics.RecordSlaAlert(a.Metric, a.Kind)
	if err := m.store.InsertAlert(ctx, a); err != nil {
		m.logger.Error().Err(err).Msg("persisting sla alert failed")
	}
}

// Snapshot returns the latest evaluation.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// percentile over an ascending slice, nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
