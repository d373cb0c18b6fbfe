// SPDX-License-Identifier: MIT

// Package quote prices shipping requests from layered cost sources.
package quote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// ServiceLevel is the requested delivery speed.
type ServiceLevel string

const (
	ServiceStandard ServiceLevel = "standard"
	ServiceExpress  ServiceLevel = "express"
	ServiceUrgent   ServiceLevel = "urgent"
)

// SourceTier identifies which layer produced a result.
type SourceTier string

const (
	TierRemote    SourceTier = "remote"
	TierCache     SourceTier = "cache"
	TierCostTable SourceTier = "cost_table"
	TierRuleTable SourceTier = "rule_table"
	TierFallback  SourceTier = "fallback_template"
)

// FailureKind classifies an unsuccessful quote.
type FailureKind string

const (
	FailTimeout     FailureKind = "timeout"
	FailTransient   FailureKind = "transient"
	FailUnavailable FailureKind = "unavailable"
	FailProvider    FailureKind = "provider_error"
)

// ProviderError is returned by providers that could not price a request.
type ProviderError struct {
	Kind   FailureKind
	Reason string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Reason)
}

// NewProviderError builds a classified provider error.
func NewProviderError(kind FailureKind, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WeightBucketKg is the coarse granularity weights are bucketed to for cache
// reuse. Half-kilo steps keep the hit rate useful without merging distinct
// price bands.
const WeightBucketKg = 0.5

// Request describes one shipping-cost question. Origin and Destination must
// be canonical region identifiers before any cache lookup or provider call.
type Request struct {
	Origin       string       `json:"origin"`
	Destination  string       `json:"destination"`
	Courier      string       `json:"courier"` // concrete courier or "any"
	WeightKg     float64      `json:"weight_kg"`
	VolumeCm3    float64      `json:"volume_cm3,omitempty"`
	ServiceLevel ServiceLevel `json:"service_level"`
}

// WeightBucket rounds the weight up to the cache bucket granularity.
func (r Request) WeightBucket() float64 {
	if r.WeightKg <= 0 {
		return WeightBucketKg
	}
	return math.Ceil(r.WeightKg/WeightBucketKg) * WeightBucketKg
}

// CacheKey derives the stable cache key for this request. Callers must
// normalize the route first.
func (r Request) CacheKey() string {
	courier := strings.ToLower(strings.TrimSpace(r.Courier))
	if courier == "" {
		courier = "any"
	}
	level := r.ServiceLevel
	if level == "" {
		level = ServiceStandard
	}
	raw := fmt.Sprintf("%s|%s|%s|%.1f|%s", r.Origin, r.Destination, courier, r.WeightBucket(), level)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// Surcharge is one itemized addition on top of the base price.
type Surcharge struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Result is the immutable outcome of one quote attempt.
type Result struct {
	Success  bool    `json:"success"`
	Courier  string  `json:"courier,omitempty"`
	Base     float64 `json:"base,omitempty"`
	Total    float64 `json:"total,omitempty"`
	Currency string  `json:"currency,omitempty"`

	Surcharges []Surcharge `json:"surcharges,omitempty"`

	SourceTier SourceTier `json:"source_tier"`
	Degraded   bool       `json:"degraded"`

	TTLSeconds      int `json:"ttl_seconds,omitempty"`
	MaxStaleSeconds int `json:"max_stale_seconds,omitempty"`
	EtaMinutes      int `json:"eta_minutes,omitempty"`

	// Message carries the non-priced text of a fallback-template result.
	Message string `json:"message,omitempty"`

	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Reason      string      `json:"reason,omitempty"`

	ProducedAt time.Time `json:"produced_at"`
}

// SurchargeTotal sums the itemized surcharges.
func (r Result) SurchargeTotal() float64 {
	var sum float64
	for _, s := range r.Surcharges {
		sum += s.Amount
	}
	return sum
}

// Priced reports whether the result carries an authoritative price.
func (r Result) Priced() bool {
	return r.Success && r.SourceTier != TierFallback
}
