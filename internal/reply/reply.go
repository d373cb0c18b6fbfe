// SPDX-License-Identifier: MIT

// Package reply renders outbound buyer messages and abstracts the channel
// used to send them.
package reply

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/silasqian/quoteflow/internal/quote"
)

// Kind classifies an outbound message for metrics and dispatch routing.
type Kind string

const (
	KindAck      Kind = "ack"
	KindPrompt   Kind = "prompt"
	KindQuote    Kind = "quote"
	KindFollowup Kind = "followup"
	KindFallback Kind = "fallback"
)

// Dispatcher delivers one outbound message to the buyer. Implementations
// must be safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, text string, kind Kind) error
}

// Ack greets a buyer on first contact.
func Ack() string {
	return "您好，在的哦～请问有什么可以帮您？"
}

// fieldLabels maps request field names to the wording used in prompts.
var fieldLabels = map[string]string{
	"origin":      "发货地",
	"destination": "收货省份",
	"weight":      "大概的重量",
}

// Prompt asks the buyer for the fields still missing from a quote request.
func Prompt(missing []string) string {
	if len(missing) == 0 {
		return "麻烦再确认一下收货地址哈，我马上帮您算运费"
	}
	labels := make([]string, 0, len(missing))
	for _, name := range missing {
		if label, ok := fieldLabels[name]; ok {
			labels = append(labels, label)
		} else {
			labels = append(labels, name)
		}
	}
	return fmt.Sprintf("麻烦告诉我一下%s哈，我马上帮您算运费～", strings.Join(labels, "和"))
}

// QuoteText renders a quote result. Non-priced fallback results carry their
// own holding message and are passed through untouched.
func QuoteText(req quote.Request, res quote.Result) string {
	if !res.Priced() {
		return res.Message
	}
	courier := res.Courier
	if courier == "" {
		courier = "快递"
	}
	return fmt.Sprintf("您好，%s到%s走%s运费大约%.2f元，%s哈～",
		req.Origin, req.Destination, courier, res.Total, etaText(res.EtaMinutes))
}

func etaText(minutes int) string {
	switch {
	case minutes <= 0:
		return "预计两三天送达"
	case minutes <= 24*60:
		return fmt.Sprintf("预计%d小时左右送达", (minutes+59)/60)
	default:
		days := (minutes + 24*60 - 1) / (24 * 60)
		return fmt.Sprintf("预计%d天左右送达", days)
	}
}

// Followup nudges a quoted buyer who has gone quiet.
func Followup() string {
	return "您好，请问还有什么需要帮您的吗？刚才的运费报价还有效哦～"
}

// SafeFallback replaces text the compliance policy refused to send.
func SafeFallback() string {
	return "这个我需要再核实一下，稍后回复您哈～"
}

// LogDispatcher writes outbound messages to the log instead of a real
// channel. The daemon uses it until a marketplace adapter is attached.
type LogDispatcher struct {
	Logger zerolog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, sessionID, text string, kind Kind) error {
	d.Logger.Info().
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Str("text", text).
		Msg("outbound message")
	return nil
}

// MemoryDispatcher records messages in memory. Test helper.
type MemoryDispatcher struct {
	mu   sync.Mutex
	sent []Sent
	Err  error // returned by Dispatch when set
}

// Sent is one recorded outbound message.
type Sent struct {
	SessionID string
	Text      string
	Kind      Kind
}

func (d *MemoryDispatcher) Dispatch(_ context.Context, sessionID, text string, kind Kind) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, Sent{SessionID: sessionID, Text: text, Kind: kind})
	return nil
}

// Messages returns a copy of everything dispatched so far.
func (d *MemoryDispatcher) Messages() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}
