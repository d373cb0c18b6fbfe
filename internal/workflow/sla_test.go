// SPDX-License-Identifier: MIT

package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silasqian/quoteflow/internal/quote"
	"github.com/silasqian/quoteflow/internal/session"
)

// seedAck persists one session acknowledged at `at` after `latency` of
// buyer waiting, going through the regular claim/complete path.
func seedAck(t *testing.T, s *Store, id string, at time.Time, latency time.Duration) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{SessionID: id, EventID: "seed-" + id})
	require.NoError(t, err)
	jobs, err := s.Claim(ctx, "seeder", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	created := at.Add(-latency)
	sess := session.NewSession(id, created)
	require.NoError(t, sess.Transition(session.StageAckSent, session.Guards{}, at))
	require.NoError(t, s.Complete(ctx, jobs[0].ID, Outcome{
		Session: sess,
		Transitions: []TransitionRecord{{
			SessionID: id, From: session.StageNew, To: session.StageAckSent,
			JobID: jobs[0].ID, At: at,
		}},
	}))
}

func seedQuotes(t *testing.T, s *Store, at time.Time, priced, fallback int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < priced; i++ {
		require.NoError(t, s.AppendQuoteAudit(ctx, quote.AuditEntry{
			RequestKey: fmt.Sprintf("p%d", i),
			Result:     quote.Result{Success: true, SourceTier: quote.TierCostTable, Total: 7.5},
			At:         at,
		}))
	}
	for i := 0; i < fallback; i++ {
		require.NoError(t, s.AppendQuoteAudit(ctx, quote.AuditEntry{
			RequestKey: fmt.Sprintf("f%d", i),
			Result:     quote.Result{Success: true, Degraded: true, SourceTier: quote.TierFallback},
			At:         at,
		}))
	}
}

func newTestMonitor(t *testing.T, s *Store, cur *time.Time) *Monitor {
	t.Helper()
	return NewMonitor(SLAConfig{
		Window:              30 * time.Minute,
		Interval:            time.Second,
		FirstResponseP95Max: 120,
		QuoteSuccessMin:     0.90,
		Stability:           5 * time.Minute,
		MinSamples:          5,
	}, s, zerolog.Nop(), WithMonitorClock(func() time.Time { return *cur }))
}

func TestMonitorComputesWindowPercentiles(t *testing.T) {
	s := newTestStore(t, StoreConfig{})
	cur := time.Now()
	m := newTestMonitor(t, s, &cur)

	for i, latency := range []time.Duration{
		10 * time.Second, 20 * time.Second, 30 * time.Second,
		40 * time.Second, 50 * time.Second, 60 * time.Second,
	} {
		seedAck(t, s, fmt.Sprintf("s%d", i), cur.Add(-time.Minute), latency)
	}
	seedQuotes(t, s, cur.Add(-time.Minute), 9, 1)

	require.NoError(t, m.Evaluate(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, 6, snap.ResponseSamples)
	assert.Equal(t, 30.0, snap.FirstResponseP50)
	assert.Equal(t, 60.0, snap.FirstResponseP95)
	assert.Equal(t, 10, snap.QuoteSamples)
	assert.InDelta(t, 0.9, snap.QuoteSuccessRate, 1e-9)
	assert.Empty(t, snap.Breached)
}

func TestMonitorBreachAndRecovery(t *testing.T) {
	s := newTestStore(t, StoreConfig{})
	cur := time.Now()
	m := newTestMonitor(t, s, &cur)
	ctx := context.Background()

	// Five painfully slow first responses breach the p95 threshold.
	for i := 0; i < 5; i++ {
		seedAck(t, s, fmt.Sprintf("slow%d", i), cur.Add(-time.Minute), 300*time.Second)
	}
	require.NoError(t, m.Evaluate(ctx))
	assert.Contains(t, m.Snapshot().Breached, MetricFirstResponse)

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "breach", alerts[0].Kind)
	assert.Equal(t, MetricFirstResponse, alerts[0].Metric)

	// A second bad evaluation does not re-alert.
	require.NoError(t, m.Evaluate(ctx))
	alerts, err = s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// 40 minutes later the slow samples have left the window and fresh
	// fast ones replaced them. Healthy, but not yet stable.
	cur = cur.Add(40 * time.Minute)
	for i := 0; i < 5; i++ {
		seedAck(t, s, fmt.Sprintf("fast%d", i), cur.Add(-time.Minute), 5*time.Second)
	}
	require.NoError(t, m.Evaluate(ctx))
	assert.Contains(t, m.Snapshot().Breached, MetricFirstResponse, "recovery needs a stability period")

	cur = cur.Add(6 * time.Minute)
	require.NoError(t, m.Evaluate(ctx))
	assert.NotContains(t, m.Snapshot().Breached, MetricFirstResponse)

	alerts, err = s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "recovery", alerts[0].Kind)
}

func TestMonitorQuoteSuccessBreach(t *testing.T) {
	s := newTestStore(t, StoreConfig{})
	cur := time.Now()
	m := newTestMonitor(t, s, &cur)

	// Half the quotes served from the fallback template: rate 0.5 < 0.9.
	seedQuotes(t, s, cur.Add(-time.Minute), 5, 5)

	require.NoError(t, m.Evaluate(context.Background()))
	snap := m.Snapshot()
	assert.InDelta(t, 0.5, snap.QuoteSuccessRate, 1e-9)
	assert.Contains(t, snap.Breached, MetricQuoteSuccess)
}

func TestMonitorSkipsThinWindows(t *testing.T) {
	s := newTestStore(t, StoreConfig{})
	cur := time.Now()
	m := newTestMonitor(t, s, &cur)

	// Two terrible samples, below MinSamples: no judgment.
	seedAck(t, s, "a", cur.Add(-time.Minute), time.Hour)
	seedAck(t, s, "b", cur.Add(-time.Minute), time.Hour)

	require.NoError(t, m.Evaluate(context.Background()))
	assert.Empty(t, m.Snapshot().Breached)
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 5.0, percentile(sorted, 0.50))
	assert.Equal(t, 10.0, percentile(sorted, 0.95))
	assert.Equal(t, 1.0, percentile(sorted, 0.0))
	assert.Equal(t, 0.0, percentile(nil, 0.95))
}
