// SPDX-License-Identifier: MIT

// Package session defines the conversation lifecycle and its legal stage
// transitions.
package session

import (
	"fmt"
	"time"
)

// Stage is one state in the conversation workflow.
type Stage string

const (
	StageNew          Stage = "NEW"
	StageAckSent      Stage = "ACK_SENT"
	StageAwaitingInfo Stage = "AWAITING_INFO"
	StageQuoting      Stage = "QUOTING"
	StageQuoted       Stage = "QUOTED"
	StageFollowup     Stage = "FOLLOWUP"
	StageClosed       Stage = "CLOSED"

	// StageManual parks the conversation with a human operator. It is
	// reachable from any non-terminal stage and exits only through an
	// explicit release back to the prior automated stage.
	StageManual Stage = "MANUAL"
)

// Stages lists every stage, for validation and storage checks.
var Stages = []Stage{
	StageNew, StageAckSent, StageAwaitingInfo, StageQuoting,
	StageQuoted, StageFollowup, StageClosed, StageManual,
}

// validTransitions maps each stage to the stages automation may move to.
// MANUAL is handled separately (takeover/release), as is same-stage no-op.
var validTransitions = map[Stage][]Stage{
	StageNew:          {StageAckSent, StageClosed},
	StageAckSent:      {StageAwaitingInfo, StageQuoting, StageFollowup, StageClosed},
	StageAwaitingInfo: {StageQuoting, StageClosed},
	StageQuoting:      {StageQuoted, StageAwaitingInfo, StageClosed},
	StageQuoted:       {StageFollowup, StageClosed},
	StageFollowup:     {StageQuoting, StageClosed},
	StageClosed:       {},
	StageManual:       {},
}

// Terminal reports whether a stage ends automated processing.
func (s Stage) Terminal() bool {
	return s == StageClosed
}

// Valid reports whether the stage belongs to the state set.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Session is one tracked conversation. Mutated only by the worker holding
// the session's job lease; never deleted, only closed or handed over.
type Session struct {
	ID              string
	Stage           Stage
	PriorStage      Stage // automated stage to restore on manual release
	LastActivityAt  time.Time
	FirstResponseAt time.Time // zero until the first outbound reply
	QuoteIssuedAt   time.Time // zero until the first quote is issued
	ManualTakeover  bool
	StageAttempts   map[Stage]int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSession creates a session in the NEW stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:             id,
		Stage:          StageNew,
		LastActivityAt: now,
		StageAttempts:  map[Stage]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionError reports a rejected stage transition. The session is left
// unchanged; the caller must not coerce the move.
type TransitionError struct {
	From   Stage
	To     Stage
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// Guards carries the preconditions the worker has established for a
// transition attempt.
type Guards struct {
	// QuoteOutcome is true when a successful or fallback quote result
	// exists; required for QUOTING -> QUOTED.
	QuoteOutcome bool
	// FieldsResolved is true when every required request field is present;
	// required for AWAITING_INFO -> QUOTING.
	FieldsResolved bool
}

// Transition moves the session to the target stage if the move is legal and
// its guards hold. On rejection the session is untouched and a
// *TransitionError is returned.
func (s *Session) Transition(to Stage, g Guards, now time.Time) error {
	if !to.Valid() {
		return &TransitionError{From: s.Stage, To: to, Reason: "unknown target stage"}
	}
	if to == StageManual {
		return &TransitionError{From: s.Stage, To: to, Reason: "use Takeover for manual handoff"}
	}
	if s.Stage == StageManual {
		return &TransitionError{From: s.Stage, To: to, Reason: "session under manual takeover"}
	}
	if to == s.Stage {
		s.touch(now)
		return nil
	}

	if !allowed(s.Stage, to) {
		return &TransitionError{From: s.Stage, To: to, Reason: "not a legal edge"}
	}

	switch {
	case s.Stage == StageQuoting && to == StageQuoted && !g.QuoteOutcome:
		return &TransitionError{From: s.Stage, To: to, Reason: "no quote result"}
	case s.Stage == StageAwaitingInfo && to == StageQuoting && !g.FieldsResolved:
		return &TransitionError{From: s.Stage, To: to, Reason: "required fields missing"}
	}

	s.apply(to, now)
	return nil
}

// Takeover parks the session with a human operator. Rejected only on
// terminal sessions.
func (s *Session) Takeover(now time.Time) error {
	if s.Stage.Terminal() {
		return &TransitionError{From: s.Stage, To: StageManual, Reason: "session closed"}
	}
	if s.Stage == StageManual {
		return nil
	}
	s.PriorStage = s.Stage
	s.Stage = StageManual
	s.ManualTakeover = true
	s.touch(now)
	return nil
}

// Release returns a manually-held session to its prior automated stage.
// This is the only exit from MANUAL.
func (s *Session) Release(now time.Time) error {
	if s.Stage != StageManual {
		return &TransitionError{From: s.Stage, To: s.PriorStage, Reason: "session not under manual takeover"}
	}
	prior := s.PriorStage
	if prior == "" {
		prior = StageNew
	}
	s.Stage = prior
	s.PriorStage = ""
	s.ManualTakeover = false
	s.touch(now)
	return nil
}

func (s *Session) apply(to Stage, now time.Time) {
	s.Stage = to
	if s.StageAttempts == nil {
		s.StageAttempts = map[Stage]int{}
	}
	s.StageAttempts[to]++
	if to == StageAckSent && s.FirstResponseAt.IsZero() {
		s.FirstResponseAt = now
	}
	if to == StageQuoted && s.QuoteIssuedAt.IsZero() {
		s.QuoteIssuedAt = now
	}
	s.touch(now)
}

func (s *Session) touch(now time.Time) {
	s.LastActivityAt = now
	s.UpdatedAt = now
}

func allowed(from, to Stage) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
