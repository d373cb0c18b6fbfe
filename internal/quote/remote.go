// SPDX-License-Identifier: MIT

package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"
)

// RemoteProvider asks an external cost API for the route's cost price and
// applies the configured sale margin. Every call is bounded by the provider
// timeout; the engine guards this provider with the circuit breaker.
type RemoteProvider struct {
	url       string
	apiKeyEnv string
	timeout   time.Duration
	client    *http.Client
	rules     MarkupRules
	profile   PricingProfile
}

// RemoteOption configures the remote provider.
type RemoteOption func(*RemoteProvider)

// WithHTTPClient injects the HTTP client (tests use httptest clients).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(p *RemoteProvider) { p.client = c }
}

// NewRemoteProvider creates the cost-API provider. apiKeyEnv names the
// environment variable holding the bearer key; empty means unauthenticated.
func NewRemoteProvider(url, apiKeyEnv string, timeout time.Duration, rules MarkupRules, profile PricingProfile, opts ...RemoteOption) *RemoteProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if profile != ProfileMember {
		profile = ProfileNormal
	}
	p := &RemoteProvider{
		url:       url,
		apiKeyEnv: apiKeyEnv,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		rules:     rules,
		profile:   profile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RemoteProvider) Name() string     { return "remote" }
func (p *RemoteProvider) Tier() SourceTier { return TierRemote }

type remoteRequest struct {
	Origin       string  `json:"origin"`
	Destination  string  `json:"destination"`
	Courier      string  `json:"courier,omitempty"`
	WeightKg     float64 `json:"weight_kg"`
	VolumeCm3    float64 `json:"volume_cm3,omitempty"`
	ServiceLevel string  `json:"service_level"`
}

type remoteResponse struct {
	Courier         string   `json:"courier"`
	FirstCost       *float64 `json:"first_cost"`
	ExtraCost       *float64 `json:"extra_cost"`
	BillableWeight  *float64 `json:"billable_weight"`
	EtaMinutes      int      `json:"eta_minutes"`
	TTLSeconds      int      `json:"ttl_seconds"`
	MaxStaleSeconds int      `json:"max_stale_seconds"`
}

// Attempt posts the route to the cost API and converts the cost reply into a
// sale price.
func (p *RemoteProvider) Attempt(ctx context.Context, req Request) (Result, error) {
	if p.url == "" {
		return Result{}, NewProviderError(FailUnavailable, "cost api url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(remoteRequest{
		Origin:       req.Origin,
		Destination:  req.Destination,
		Courier:      requestedCourier(req.Courier),
		WeightKg:     req.WeightKg,
		VolumeCm3:    req.VolumeCm3,
		ServiceLevel: string(req.ServiceLevel),
	})
	if err != nil {
		return Result{}, NewProviderError(FailProvider, "encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, NewProviderError(FailProvider, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKeyEnv != "" {
		if key := os.Getenv(p.apiKeyEnv); key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, NewProviderError(FailTimeout, "cost api timeout after %s", p.timeout)
		}
		return Result{}, NewProviderError(FailTransient, "cost api request: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return Result{}, NewProviderError(FailTransient, "cost api http %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Result{}, NewProviderError(FailProvider, "cost api http %d", resp.StatusCode)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, NewProviderError(FailProvider, "cost api invalid json: %v", err)
	}
	if parsed.FirstCost == nil {
		return Result{}, NewProviderError(FailProvider, "cost api missing first_cost")
	}

	courier := parsed.Courier
	if courier == "" {
		courier = requestedCourier(req.Courier)
	}
	firstAdd, extraAdd := p.rules.Resolve(courier).Adds(p.profile)

	billing := billingWeightKg(req, 0)
	if parsed.BillableWeight != nil && *parsed.BillableWeight > billing {
		billing = *parsed.BillableWeight
	}
	extra := extraWeightKg(billing)

	extraCost := 0.0
	if parsed.ExtraCost != nil {
		extraCost = *parsed.ExtraCost
	}

	saleFirst := round2(maxFloat(0, *parsed.FirstCost+firstAdd))
	extraFee := round2(extra * maxFloat(0, extraCost+extraAdd))

	var surcharges []Surcharge
	if extraFee > 0 {
		surcharges = append(surcharges, Surcharge{Name: "extra_weight", Amount: extraFee})
	}

	eta := parsed.EtaMinutes
	if eta <= 0 {
		eta = etaMinutes(req.ServiceLevel)
	}

	result := Result{
		Success:         true,
		Courier:         courier,
		Base:            saleFirst,
		Surcharges:      surcharges,
		SourceTier:      TierRemote,
		EtaMinutes:      eta,
		Currency:        "CNY",
		TTLSeconds:      parsed.TTLSeconds,
		MaxStaleSeconds: parsed.MaxStaleSeconds,
		ProducedAt:      time.Now(),
	}
	result.Total = round2(saleFirst + extraFee)
	return result, nil
}
