// SPDX-License-Identifier: MIT

package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/silasqian/quoteflow/internal/compliance"
	"github.com/silasqian/quoteflow/internal/log"
	"github.com/silasqian/quoteflow/internal/metrics"
	"github.com/silasqian/quoteflow/internal/quote"
	"github.com/silasqian/quoteflow/internal/reply"
	"github.com/silasqian/quoteflow/internal/session"
)

// WorkerConfig tunes the claim/process loop.
type WorkerConfig struct {
	// Owner identifies this worker in leases. Defaults to a random UUID.
	Owner string
	// PollInterval between empty claim rounds; a jitter of up to 20% is
	// added so restarted fleets do not poll in lockstep.
	PollInterval time.Duration
	// BatchSize bounds jobs claimed per round and therefore memory.
	BatchSize int
	// Lease must comfortably exceed the slowest job. Expiry is the only
	// crash-recovery mechanism: a dead worker's jobs simply become
	// claimable again.
	Lease time.Duration
	// FollowupAfter is how long a quoted buyer may stay silent before the
	// sweep enqueues a follow-up nudge. Zero disables the sweep.
	FollowupAfter time.Duration
	// FollowupSweepEvery is the sweep cadence.
	FollowupSweepEvery time.Duration
}

// DefaultWorkerConfig returns the loop settings the daemon ships with.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:       500 * time.Millisecond,
		BatchSize:          16,
		Lease:              2 * time.Minute,
		FollowupAfter:      30 * time.Minute,
		FollowupSweepEvery: time.Minute,
	}
}

// Worker drains the job queue and drives sessions through the state
// machine. Multiple workers may run against the same store; the lease
// protocol keeps them from stepping on each other.
type Worker struct {
	cfg        WorkerConfig
	store      *Store
	engine     *quote.Engine
	policy     *compliance.Policy
	dispatcher reply.Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithWorkerClock injects a clock. Test hook.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// NewWorker wires a worker over its collaborators.
func NewWorker(cfg WorkerConfig, store *Store, engine *quote.Engine, policy *compliance.Policy,
	dispatcher reply.Dispatcher, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.FollowupSweepEvery <= 0 {
		cfg.FollowupSweepEvery = def.FollowupSweepEvery
	}
	w := &Worker{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		policy:     policy,
		dispatcher: dispatcher,
		logger:     logger.With().Str("owner", cfg.Owner).Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is canceled. Store outages are absorbed here:
// a failed claim round is logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("worker started")

	var sweep <-chan time.Time
	if w.cfg.FollowupAfter > 0 {
		t := time.NewTicker(w.cfg.FollowupSweepEvery)
		defer t.Stop()
		sweep = t.C
	}

	for {
		processed, err := w.pollOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn().Err(err).Msg("claim round failed, backing off")
		}

		if processed > 0 {
			// More work is likely waiting; skip the idle sleep.
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()
		case <-sweep:
			w.sweepFollowups(ctx)
		case <-time.After(w.jitteredPoll()):
		}
	}
}

func (w *Worker) jitteredPoll() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(w.cfg.PollInterval)/5 + 1))
	return w.cfg.PollInterval + jitter
}

// pollOnce claims one batch and processes it, returning how many jobs were
// handled.
func (w *Worker) pollOnce(ctx context.Context) (int, error) {
	if depth, err := w.store.PendingCount(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}

	jobs, err := w.store.Claim(ctx, w.cfg.Owner, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			// Leave the rest to lease expiry.
			return len(jobs), ctx.Err()
		}
		w.processJob(ctx, job)
	}
	return len(jobs), nil
}

// processJob runs one claimed job to a terminal verdict. Panics are treated
// as ordinary failures so one poisoned payload cannot take the loop down.
func (w *Worker) processJob(ctx context.Context, job Job) {
	start := w.now()
	jctx := log.ContextWithJobID(log.ContextWithSessionID(ctx, job.SessionID), job.ID)
	logger := w.logger.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSessionID, job.SessionID).
		Str("kind", job.Kind).
		Logger()

	var out Outcome
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while processing: %v", r)
			}
		}()
		out, err = w.handle(jctx, logger, job)
		return err
	}()

	elapsed := w.now().Sub(start).Seconds()
	if err != nil {
		logger.Warn().Err(err).Int("attempts", job.Attempts+1).Msg("job failed")
		metrics.RecordJobDone("failed", elapsed)
		if ferr := w.store.Fail(ctx, job.ID, err); ferr != nil {
			logger.Error().Err(ferr).Msg("recording job failure failed")
		}
		return
	}

	if cerr := w.store.Complete(ctx, job.ID, out); cerr != nil {
		logger.Error().Err(cerr).Msg("completing job failed")
		metrics.RecordJobDone("failed", elapsed)
		return
	}
	metrics.RecordJobDone("done", elapsed)
	logger.Debug().Float64("seconds", elapsed).Msg("job done")
}

// stepper accumulates guarded stage moves for one job so they land in the
// transition log together with the session row.
type stepper struct {
	sess   *session.Session
	jobID  string
	now    time.Time
	moves  []TransitionRecord
	logger zerolog.Logger
}

// step attempts one transition. Illegal edges are counted and reported but
// never forced; the session keeps its stage.
func (st *stepper) step(to session.Stage, g session.Guards) bool {
	from := st.sess.Stage
	if err := st.sess.Transition(to, g, st.now); err != nil {
		metrics.RecordIllegalTransition(string(from), string(to))
		st.logger.Debug().
			Str("from", string(from)).
			Str("to", string(to)).
			Err(err).
			Msg("transition rejected")
		return false
	}
	if st.sess.Stage != from {
		st.moves = append(st.moves, TransitionRecord{
			SessionID: st.sess.ID,
			From:      from,
			To:        st.sess.Stage,
			JobID:     st.jobID,
			At:        st.now,
		})
	}
	return true
}

func (st *stepper) record(from, to session.Stage) {
	st.moves = append(st.moves, TransitionRecord{
		SessionID: st.sess.ID,
		From:      from,
		To:        to,
		JobID:     st.jobID,
		At:        st.now,
	})
}

// outbound is a message queued during processing, dispatched after the
// stage decisions are made.
type outbound struct {
	text string
	kind reply.Kind
}

// handle is the per-job business logic. It mutates an in-memory session
// copy, queues outbound messages, dispatches them through the compliance
// policy, and returns the state to persist. Dispatch errors fail the job
// before anything is persisted, so a retry replays the whole step.
func (w *Worker) handle(ctx context.Context, logger zerolog.Logger, job Job) (Outcome, error) {
	now := w.now()

	sess, err := w.store.Session(ctx, job.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		sess = session.NewSession(job.SessionID, now)
	} else if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}

	st := &stepper{sess: sess, jobID: job.ID, now: now, logger: logger}
	var msgs []outbound

	switch job.Kind {
	case KindTakeover:
		from := sess.Stage
		if err := sess.Takeover(now); err != nil {
			return Outcome{}, err
		}
		if sess.Stage != from {
			st.record(from, sess.Stage)
		}

	case KindRelease:
		from := sess.Stage
		if err := sess.Release(now); err != nil {
			return Outcome{}, err
		}
		st.record(from, sess.Stage)

	case KindFollowupDue:
		if sess.Stage == session.StageQuoted && st.step(session.StageFollowup, session.Guards{}) {
			msgs = append(msgs, outbound{text: reply.Followup(), kind: reply.KindFollowup})
		}

	case KindMessage:
		msgs = w.handleMessage(ctx, st, job.Payload)

	default:
		return Outcome{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}

	for _, m := range msgs {
		if err := w.send(ctx, logger, sess.ID, m); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Session: sess, Transitions: st.moves}, nil
}

// handleMessage applies one buyer message to the session.
func (w *Worker) handleMessage(ctx context.Context, st *stepper, p Payload) []outbound {
	sess := st.sess

	// Humans own manually-held sessions; closed ones stay closed.
	if sess.Stage == session.StageManual || sess.Stage.Terminal() {
		st.logger.Debug().Str("stage", string(sess.Stage)).Msg("message ignored")
		return nil
	}

	var msgs []outbound
	if sess.Stage == session.StageNew {
		if st.step(session.StageAckSent, session.Guards{}) {
			msgs = append(msgs, outbound{text: reply.Ack(), kind: reply.KindAck})
		}
	}

	switch p.Intent {
	case IntentPrice:
		msgs = append(msgs, w.handlePriceQuestion(ctx, st, p.Fields)...)

	case IntentClose:
		st.step(session.StageClosed, session.Guards{})

	default:
		// Plain chat. Quoted buyers coming back get a follow-up touch;
		// everyone else already got the ack above or needs nothing.
		if sess.Stage == session.StageQuoted && st.step(session.StageFollowup, session.Guards{}) {
			msgs = append(msgs, outbound{text: reply.Followup(), kind: reply.KindFollowup})
		}
	}
	return msgs
}

func (w *Worker) handlePriceQuestion(ctx context.Context, st *stepper, fields *Fields) []outbound {
	sess := st.sess

	missing := fields.Missing()
	if len(missing) > 0 {
		// AWAITING_INFO is not reachable from every stage; the prompt goes
		// out regardless.
		st.step(session.StageAwaitingInfo, session.Guards{})
		return []outbound{{text: reply.Prompt(missing), kind: reply.KindPrompt}}
	}

	// Route to QUOTING through whatever legal path the current stage has.
	if sess.Stage == session.StageQuoted {
		st.step(session.StageFollowup, session.Guards{})
	}
	if !st.step(session.StageQuoting, session.Guards{FieldsResolved: true}) {
		return []outbound{{text: reply.SafeFallback(), kind: reply.KindFallback}}
	}

	req := fields.Request()
	result := w.engine.Quote(ctx, req)
	if !result.Success {
		// Unresolved route. Back off to AWAITING_INFO and ask again.
		st.step(session.StageAwaitingInfo, session.Guards{})
		return []outbound{{text: reply.Prompt([]string{"destination"}), kind: reply.KindPrompt}}
	}

	st.step(session.StageQuoted, session.Guards{QuoteOutcome: true})
	return []outbound{{text: reply.QuoteText(req, result), kind: reply.KindQuote}}
}

// send runs one message through the compliance policy and the dispatcher.
func (w *Worker) send(ctx context.Context, logger zerolog.Logger, sessionID string, m outbound) error {
	text := m.text
	kind := m.kind

	verdict := w.policy.Check(sessionID, text)
	metrics.RecordOutbound(string(kind), string(verdict.Action))
	switch verdict.Action {
	case compliance.ActionBlock:
		logger.Warn().Str("reason", verdict.Reason).Msg("outbound text replaced by safe fallback")
		text = reply.SafeFallback()
		kind = reply.KindFallback
	case compliance.ActionWarn:
		logger.Info().Str("reason", verdict.Reason).Msg("outbound text flagged")
	}

	if err := w.dispatcher.Dispatch(ctx, sessionID, text, kind); err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}
	return nil
}

// sweepFollowups enqueues a nudge for quoted sessions that went quiet. The
// event ID is derived from the last activity time, so one quiet period
// yields exactly one nudge no matter how often the sweep runs.
func (w *Worker) sweepFollowups(ctx context.Context) {
	cutoff := w.now().Add(-w.cfg.FollowupAfter)
	due, err := w.store.DueFollowups(ctx, cutoff)
	if err != nil {
		w.logger.Warn().Err(err).Msg("follow-up sweep failed")
		return
	}
	for sessionID, lastActivity := range due {
		accepted, err := w.store.Enqueue(ctx, Job{
			SessionID: sessionID,
			EventID:   fmt.Sprintf("followup-%d", lastActivity.UnixMilli()),
			Kind:      KindFollowupDue,
		})
		if err != nil {
			w.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("follow-up enqueue failed")
			continue
		}
		if accepted {
			w.logger.Info().Str(log.FieldSessionID, sessionID).Msg("follow-up scheduled")
		}
	}
}
