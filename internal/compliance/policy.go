// SPDX-License-Identifier: MIT

// Package compliance screens outbound text before it is dispatched to a
// buyer. Marketplace rules forbid steering buyers off-platform, and the
// shop account gets throttled when automation replies too fast, so every
// message passes through here first.
package compliance

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Action is the policy decision for one outbound message.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Verdict carries the decision and the rule that produced it.
type Verdict struct {
	Action Action
	Reason string
}

// Allowed reports whether the text may be sent as-is.
func (v Verdict) Allowed() bool { return v.Action != ActionBlock }

// Config tunes the outbound policy.
type Config struct {
	// BlockedKeywords reject the message outright. Matched case-insensitively
	// as substrings.
	BlockedKeywords []string
	// WarnKeywords let the message through but flag it for review.
	WarnKeywords []string
	// PerSessionPerMinute caps outbound messages per conversation. Zero
	// disables the cap.
	PerSessionPerMinute int
	// Burst is the instantaneous allowance per session.
	Burst int
}

// DefaultConfig mirrors the platform rules the shop operates under.
func DefaultConfig() Config {
	return Config{
		BlockedKeywords: []string{
			"微信", "威信", "vx", "wx号", "qq", "加我", "站外", "线下", "转账", "直接打款",
		},
		WarnKeywords: []string{
			"保证", "一定能", "最低价",
		},
		PerSessionPerMinute: 20,
		Burst:               5,
	}
}

// Policy applies keyword and rate rules to outbound text. Safe for
// concurrent use by many workers.
type Policy struct {
	cfg     Config
	blocked []string
	warn    []string
	logger  zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPolicy builds a policy from cfg, falling back to defaults for empty
// keyword lists.
func NewPolicy(cfg Config, logger zerolog.Logger) *Policy {
	def := DefaultConfig()
	if cfg.BlockedKeywords == nil {
		cfg.BlockedKeywords = def.BlockedKeywords
	}
	if cfg.WarnKeywords == nil {
		cfg.WarnKeywords = def.WarnKeywords
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	p := &Policy{
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, kw := range cfg.BlockedKeywords {
		p.blocked = append(p.blocked, strings.ToLower(kw))
	}
	for _, kw := range cfg.WarnKeywords {
		p.warn = append(p.warn, strings.ToLower(kw))
	}
	return p
}

// Check screens one outbound message for the given conversation.
func (p *Policy) Check(sessionID, text string) Verdict {
	lowered := strings.ToLower(text)

	for _, kw := range p.blocked {
		if strings.Contains(lowered, kw) {
			p.logger.Warn().
				Str("session_id", sessionID).
				Str("keyword", kw).
				Msg("outbound message blocked by keyword rule")
			return Verdict{Action: ActionBlock, Reason: "keyword:" + kw}
		}
	}

	if p.cfg.PerSessionPerMinute > 0 && !p.limiter(sessionID).Allow() {
		p.logger.Warn().
			Str("session_id", sessionID).
			Msg("outbound message blocked by session rate cap")
		return Verdict{Action: ActionBlock, Reason: "rate_limited"}
	}

	for _, kw := range p.warn {
		if strings.Contains(lowered, kw) {
			return Verdict{Action: ActionWarn, Reason: "keyword:" + kw}
		}
	}
	return Verdict{Action: ActionAllow}
}

func (p *Policy) limiter(sessionID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lim, ok := p.limiters[sessionID]; ok {
		return lim
	}
	// Bound the map so long-dead sessions do not pin memory forever.
	if len(p.limiters) >= 10000 {
		p.limiters = make(map[string]*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.cfg.PerSessionPerMinute)), p.cfg.Burst)
	p.limiters[sessionID] = lim
	return lim
}
