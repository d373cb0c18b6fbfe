// SPDX-License-Identifier: MIT

package quote

import "context"

// Provider is one pricing strategy in the chain. Implementations return a
// *ProviderError when they cannot price the request; any other error is
// treated as provider_error.
type Provider interface {
	// Name identifies the provider in logs, metrics and audit rows.
	Name() string
	// Tier is the source tier stamped on successful results.
	Tier() SourceTier
	// Attempt tries to price the request within the context deadline.
	Attempt(ctx context.Context, req Request) (Result, error)
}
