// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"sync"
	"time"
)

// AuditEntry is one immutable record of a served quote, written regardless
// of tier so results can be replayed and inspected later.
type AuditEntry struct {
	RequestKey string    `json:"request_key"`
	Request    Request   `json:"request"`
	Result     Result    `json:"result"`
	LatencyMs  int64     `json:"latency_ms"`
	At         time.Time `json:"at"`
}

// AuditSink receives every engine result. Implementations must not block
// the quoting hot path on durable writes longer than necessary.
type AuditSink interface {
	AppendQuoteAudit(ctx context.Context, entry AuditEntry) error
}

// MemoryAudit is an in-process sink used in tests and as a default when no
// durable store is wired.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAudit creates an empty in-memory audit sink.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

// AppendQuoteAudit records the entry.
func (a *MemoryAudit) AppendQuoteAudit(_ context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// Entries returns a copy of all recorded entries.
func (a *MemoryAudit) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
