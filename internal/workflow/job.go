// SPDX-License-Identifier: MIT

// Package workflow is the durable heart of the daemon: a sqlite-backed job
// queue with leases, the worker loop that drives conversations through the
// session state machine, and the SLA monitor that watches the result.
package workflow

import (
	"time"

	"github.com/silasqian/quoteflow/internal/quote"
	"github.com/silasqian/quoteflow/internal/session"
)

// Status is the lifecycle state of one job.
type Status string

const (
	StatusPending Status = "pending"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job kinds. Everything the worker processes arrives as one of these.
const (
	KindMessage     = "message"
	KindTakeover    = "takeover"
	KindRelease     = "release"
	KindFollowupDue = "followup_due"
)

// Fields are the shipment attributes extracted from the buyer's messages.
// A quote needs origin, destination and weight; the rest is optional.
type Fields struct {
	Origin       string  `json:"origin,omitempty"`
	Destination  string  `json:"destination,omitempty"`
	Courier      string  `json:"courier,omitempty"`
	WeightKg     float64 `json:"weight_kg,omitempty"`
	VolumeCm3    float64 `json:"volume_cm3,omitempty"`
	ServiceLevel string  `json:"service_level,omitempty"`
}

// Missing lists the required fields not yet known.
func (f *Fields) Missing() []string {
	var missing []string
	if f == nil || f.Origin == "" {
		missing = append(missing, "origin")
	}
	if f == nil || f.Destination == "" {
		missing = append(missing, "destination")
	}
	if f == nil || f.WeightKg <= 0 {
		missing = append(missing, "weight")
	}
	return missing
}

// Request converts the fields into a quote request.
func (f *Fields) Request() quote.Request {
	return quote.Request{
		Origin:       f.Origin,
		Destination:  f.Destination,
		Courier:      f.Courier,
		WeightKg:     f.WeightKg,
		VolumeCm3:    f.VolumeCm3,
		ServiceLevel: quote.ServiceLevel(f.ServiceLevel),
	}
}

// Buyer intents recognized by the worker.
const (
	IntentPrice = "price_question"
	IntentChat  = "chat"
	IntentClose = "close"
)

// Payload is the event body carried by a job.
type Payload struct {
	Text   string  `json:"text,omitempty"`
	Intent string  `json:"intent,omitempty"`
	Fields *Fields `json:"fields,omitempty"`
}

// Job is one unit of work bound to a session. EventID comes from the
// transport adapter and, together with the session, forms the idempotency
// key that makes redelivery harmless.
type Job struct {
	ID        string
	SessionID string
	EventID   string
	Kind      string
	Payload   Payload

	Status         Status
	LeaseOwner     string
	LeaseExpiresAt time.Time
	Attempts       int
	NextEligibleAt time.Time
	LastError      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdempotencyKey identifies the job's event across redeliveries.
func (j Job) IdempotencyKey() string {
	return j.SessionID + "#" + j.EventID
}

// TransitionRecord is one appended row of the session transition log.
type TransitionRecord struct {
	ID        int64
	SessionID string
	From      session.Stage
	To        session.Stage
	JobID     string
	At        time.Time
}

// AlertEvent is a durable operational alert, emitted by the SLA monitor and
// by the store when a job fails permanently.
type AlertEvent struct {
	ID          int64     `json:"id"`
	Metric      string    `json:"metric"`
	Kind        string    `json:"kind"` // breach | recovery | job_failed
	Observed    float64   `json:"observed,omitempty"`
	Threshold   float64   `json:"threshold,omitempty"`
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Outcome is everything a successfully processed job wants persisted in one
// transaction: the final session state and the stage moves taken.
type Outcome struct {
	Session     *session.Session
	Transitions []TransitionRecord
}
