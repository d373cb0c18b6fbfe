// SPDX-License-Identifier: MIT

package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/silasqian/quoteflow/internal/metrics"
	"github.com/silasqian/quoteflow/internal/quote"
	"github.com/silasqian/quoteflow/internal/session"
)

// ErrNotClaimed is returned by Complete and Fail when the job is not in the
// claimed state, which means the caller's lease was lost.
var ErrNotClaimed = errors.New("workflow: job not claimed")

// StoreConfig tunes retry behavior for failed jobs.
type StoreConfig struct {
	// MaxAttempts before a job is parked as permanently failed.
	MaxAttempts int
	// BaseBackoff is the delay after the first failure; it doubles per
	// attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultStoreConfig returns the retry policy the daemon ships with.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Store is the single durable coordination point between workers. All
// queue, session, transition-log, alert and quote-audit state lives in one
// sqlite database so job completion and its side effects commit together.
type Store struct {
	db     *sql.DB
	cfg    StoreConfig
	logger zerolog.Logger
	now    func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithStoreClock injects a clock. Test hook.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore wires a store over an open database and applies the schema.
func NewStore(db *sql.DB, cfg StoreConfig, logger zerolog.Logger, opts ...StoreOption) (*Store, error) {
	def := DefaultStoreConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL,
		event_id         TEXT NOT NULL,
		idempotency_key  TEXT NOT NULL UNIQUE,
		kind             TEXT NOT NULL,
		payload          TEXT NOT NULL DEFAULT '{}',
		status           TEXT NOT NULL DEFAULT 'pending',
		lease_owner      TEXT NOT NULL DEFAULT '',
		lease_expires_at INTEGER NOT NULL DEFAULT 0,
		attempts         INTEGER NOT NULL DEFAULT 0,
		next_eligible_at INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_claimable
		ON jobs(status, next_eligible_at, lease_expires_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		stage             TEXT NOT NULL,
		prior_stage       TEXT NOT NULL DEFAULT '',
		manual_takeover   INTEGER NOT NULL DEFAULT 0,
		last_activity_at  INTEGER NOT NULL,
		first_response_at INTEGER NOT NULL DEFAULT 0,
		quote_issued_at   INTEGER NOT NULL DEFAULT 0,
		stage_attempts    TEXT NOT NULL DEFAULT '{}',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_stage_activity
		ON sessions(stage, last_activity_at)`,
	`CREATE TABLE IF NOT EXISTS transitions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		from_stage TEXT NOT NULL,
		to_stage   TEXT NOT NULL,
		job_id     TEXT NOT NULL DEFAULT '',
		at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_to_at ON transitions(to_stage, at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		metric       TEXT NOT NULL,
		kind         TEXT NOT NULL,
		observed     REAL NOT NULL DEFAULT 0,
		threshold    REAL NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL DEFAULT 0,
		window_end   INTEGER NOT NULL DEFAULT 0,
		message      TEXT NOT NULL DEFAULT '',
		at           INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quote_audit (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_key TEXT NOT NULL,
		request     TEXT NOT NULL,
		result      TEXT NOT NULL,
		source_tier TEXT NOT NULL,
		priced      INTEGER NOT NULL,
		latency_ms  INTEGER NOT NULL,
		at          INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quote_audit_at ON quote_audit(at)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("workflow: migrate: %w", err)
		}
	}
	return nil
}

// Enqueue inserts a job unless its idempotency key has been seen before.
// Returns false for duplicates; redelivered events are harmless no-ops.
func (s *Store) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Kind == "" {
		job.Kind = KindMessage
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, fmt.Errorf("workflow: encode payload: %w", err)
	}
	now := msec(s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, session_id, event_id, idempotency_key, kind, payload,
			status, next_eligible_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		job.ID, job.SessionID, job.EventID, job.IdempotencyKey(), job.Kind,
		string(payload), now, now)
	if err != nil {
		return false, fmt.Errorf("workflow: enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("workflow: enqueue: %w", err)
	}
	if n == 0 {
		metrics.RecordEnqueue("duplicate")
		return false, nil
	}
	metrics.RecordEnqueue("accepted")
	return true, nil
}

// Claim hands the caller up to n due jobs under a fresh lease. A job is due
// when it is pending and past its backoff, or when a previous holder's
// lease expired. Each grab is a compare-and-swap, so two workers can never
// hold the same job at once.
func (s *Store) Claim(ctx context.Context, owner string, n int, lease time.Duration) ([]Job, error) {
	now := s.now()
	nowMs := msec(now)
	expiry := msec(now.Add(lease))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE (status = 'pending' AND next_eligible_at <= ?)
		   OR (status = 'claimed' AND lease_expires_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`, nowMs, nowMs, n)
	if err != nil {
		return nil, fmt.Errorf("workflow: claim scan: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("workflow: claim scan: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: claim scan: %w", err)
	}

	var claimed []Job
	for _, id := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'claimed', lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ?
			  AND ((status = 'pending' AND next_eligible_at <= ?)
			    OR (status = 'claimed' AND lease_expires_at <= ?))`,
			owner, expiry, nowMs, id, nowMs, nowMs)
		if err != nil {
			return claimed, fmt.Errorf("workflow: claim: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("workflow: claim: %w", err)
		}
		if affected == 0 {
			continue // lost the race to another worker
		}
		job, err := s.getJob(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	if len(claimed) > 0 {
		metrics.RecordJobClaimed(len(claimed))
	}
	return claimed, nil
}

func (s *Store) getJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, event_id, kind, payload, status, lease_owner,
			lease_expires_at, attempts, next_eligible_at, last_error,
			created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	var (
		j                                  Job
		payload                            string
		leaseExp, nextElig, createdAt, upd int64
	)
	err := row.Scan(&j.ID, &j.SessionID, &j.EventID, &j.Kind, &payload, &j.Status,
		&j.LeaseOwner, &leaseExp, &j.Attempts, &nextElig, &j.LastError, &createdAt, &upd)
	if err != nil {
		return Job{}, fmt.Errorf("workflow: load job %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return Job{}, fmt.Errorf("workflow: decode payload of %s: %w", id, err)
	}
	j.LeaseExpiresAt = fromMsec(leaseExp)
	j.NextEligibleAt = fromMsec(nextElig)
	j.CreatedAt = fromMsec(createdAt)
	j.UpdatedAt = fromMsec(upd)
	return j, nil
}

// Complete marks a claimed job done and persists the session state plus the
// transition-log rows from the same processing step in one transaction.
// Either all of it commits or none of it does.
func (s *Store) Complete(ctx context.Context, jobID string, out Outcome) error {
	nowMs := msec(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("workflow: complete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', last_error = '', updated_at = ?
		WHERE id = ? AND status = 'claimed'`, nowMs, jobID)
	if err != nil {
		return fmt.Errorf("workflow: complete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow: complete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow: complete %s: %w", jobID, ErrNotClaimed)
	}

	if out.Session != nil {
		if err := upsertSession(ctx, tx, out.Session); err != nil {
			return err
		}
	}
	for _, tr := range out.Transitions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transitions (session_id, from_stage, to_stage, job_id, at)
			VALUES (?, ?, ?, ?, ?)`,
			tr.SessionID, string(tr.From), string(tr.To), tr.JobID, msec(tr.At)); err != nil {
			return fmt.Errorf("workflow: append transition: %w", err)
		}
		metrics.RecordStageTransition(string(tr.From), string(tr.To))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("workflow: complete: %w", err)
	}
	return nil
}

// Fail records a processing failure. The job returns to pending with an
// exponential backoff until MaxAttempts, then parks as failed and raises a
// durable alert.
func (s *Store) Fail(ctx context.Context, jobID string, cause error) error {
	now := s.now()
	nowMs := msec(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("workflow: fail: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	var sessionID string
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, session_id FROM jobs WHERE id = ? AND status = 'claimed'`,
		jobID).Scan(&attempts, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workflow: fail %s: %w", jobID, ErrNotClaimed)
	}
	if err != nil {
		return fmt.Errorf("workflow: fail: %w", err)
	}

	attempts++
	msg := truncate(cause.Error(), 500)

	if attempts >= s.cfg.MaxAttempts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?,
				lease_owner = '', updated_at = ?
			WHERE id = ?`, attempts, msg, nowMs, jobID); err != nil {
			return fmt.Errorf("workflow: fail: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (metric, kind, observed, threshold, message, at)
			VALUES ('workflow_job', 'job_failed', ?, ?, ?, ?)`,

			float64(attempts), float64(s.cfg.MaxAttempts),
			fmt.Sprintf("job %s (session %s) failed permanently: %s", jobID, sessionID, msg),
			nowMs); err != nil {
			return fmt.Errorf("workflow: fail alert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("workflow: fail: %w", err)
		}
		metrics.RecordSlaAlert("workflow_job", "job_failed")
		s.logger.Error().
			Str("job_id", jobID).
			Str("session_id", sessionID).
			Int("attempts", attempts).
			Str("error", msg).
			Msg("job failed permanently")
		return nil
	}

	eligible := msec(now.Add(s.backoff(attempts)))
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?,
			lease_owner = '', next_eligible_at = ?, updated_at = ?
		WHERE id = ?`, attempts, msg, eligible, nowMs, jobID); err != nil {
		return fmt.Errorf("workflow: fail: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("workflow: fail: %w", err)
	}
	return nil
}

// backoff doubles per attempt from BaseBackoff up to MaxBackoff.
func (s *Store) backoff(attempts int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}

// Session loads one session, or sql.ErrNoRows wrapped when absent.
func (s *Store) Session(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stage, prior_stage, manual_takeover, last_activity_at,
			first_response_at, quote_issued_at, stage_attempts, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var (
		sess                           session.Session
		manual                         int
		lastAct, firstResp, quotedAt   int64
		attempts                       string
		createdAt, updatedAt           int64
	)
	err := row.Scan(&sess.ID, &sess.Stage, &sess.PriorStage, &manual, &lastAct,
		&firstResp, &quotedAt, &attempts, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.ManualTakeover = manual != 0
	sess.LastActivityAt = fromMsec(lastAct)
	sess.FirstResponseAt = fromMsec(firstResp)
	sess.QuoteIssuedAt = fromMsec(quotedAt)
	sess.CreatedAt = fromMsec(createdAt)
	sess.UpdatedAt = fromMsec(updatedAt)
	sess.StageAttempts = map[session.Stage]int{}
	if attempts != "" {
		if err := json.Unmarshal([]byte(attempts), &sess.StageAttempts); err != nil {
			return nil, fmt.Errorf("workflow: decode stage attempts: %w", err)
		}
	}
	return &sess, nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, sess *session.Session) error {
	attempts, err := json.Marshal(sess.StageAttempts)
	if err != nil {
		return fmt.Errorf("workflow: encode stage attempts: %w", err)
	}
	manual := 0
	if sess.ManualTakeover {
		manual = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, stage, prior_stage, manual_takeover,
			last_activity_at, first_response_at, quote_issued_at, stage_attempts,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			prior_stage = excluded.prior_stage,
			manual_takeover = excluded.manual_takeover,
			last_activity_at = excluded.last_activity_at,
			first_response_at = excluded.first_response_at,
			quote_issued_at = excluded.quote_issued_at,
			stage_attempts = excluded.stage_attempts,
			updated_at = excluded.updated_at`,
		sess.ID, string(sess.Stage), string(sess.PriorStage), manual,
		msec(sess.LastActivityAt), msec(sess.FirstResponseAt), msec(sess.QuoteIssuedAt),
		string(attempts), msec(sess.CreatedAt), msec(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("workflow: upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PendingCount is the queue depth gauge source.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'claimed')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("workflow: pending count: %w", err)
	}
	return n, nil
}

// RecentTransitions returns the newest transition-log rows, newest first.
func (s *Store) RecentTransitions(ctx context.Context, limit int) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, from_stage, to_stage, job_id, at
		FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("workflow: transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var tr TransitionRecord
		var at int64
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.From, &tr.To, &tr.JobID, &at); err != nil {
			return nil, fmt.Errorf("workflow: transitions: %w", err)
		}
		tr.At = fromMsec(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecentAlerts returns the newest durable alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metric, kind, observed, threshold, window_start, window_end, message, at
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("workflow: alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertEvent
	for rows.Next() {
		var a AlertEvent
		var winStart, winEnd, at int64
		if err := rows.Scan(&a.ID, &a.Metric, &a.Kind, &a.Observed, &a.Threshold,
			&winStart, &winEnd, &a.Message, &at); err != nil {
			return nil, fmt.Errorf("workflow: alerts: %w", err)
		}
		a.WindowStart = fromMsec(winStart)
		a.WindowEnd = fromMsec(winEnd)
		a.At = fromMsec(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAlert appends a durable alert row.
func (s *Store) InsertAlert(ctx context.Context, a AlertEvent) error {
	at := a.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (metric, kind, observed, threshold, window_start, window_end, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Metric, a.Kind, a.Observed, a.Threshold,
		msec(a.WindowStart), msec(a.WindowEnd), a.Message, msec(at))
	if err != nil {
		return fmt.Errorf("workflow: insert alert: %w", err)
	}
	return nil
}

// FirstResponseSeconds returns, for every session acknowledged inside the
// window, the delay between session creation and the first outbound reply.
func (s *Store) FirstResponseSeconds(ctx context.Context, since time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT (t.at - s.created_at) FROM transitions t
		JOIN sessions s ON s.id = t.session_id
		WHERE t.to_stage = ? AND t.at >= ?`,
		string(session.StageAckSent), msec(since))
	if err != nil {
		return nil, fmt.Errorf("workflow: first response window: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("workflow: first response window: %w", err)
		}
		if ms < 0 {
			ms = 0
		}
		out = append(out, float64(ms)/1000)
	}
	return out, rows.Err()
}

// QuoteStats counts audited quote results inside the window and how many of
// them carried an authoritative price.
func (s *Store) QuoteStats(ctx context.Context, since time.Time) (total, priced int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(priced), 0) FROM quote_audit WHERE at >= ?`,
		msec(since)).Scan(&total, &priced)
	if err != nil {
		return 0, 0, fmt.Errorf("workflow: quote stats: %w", err)
	}
	return total, priced, nil
}

// DueFollowups lists quoted sessions whose last activity is older than the
// cutoff, paired with that activity time so the sweep can build a stable
// event ID per quiet period.
func (s *Store) DueFollowups(ctx context.Context, cutoff time.Time) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, last_activity_at FROM sessions
		WHERE stage = ? AND last_activity_at <= ?`,
		string(session.StageQuoted), msec(cutoff))
	if err != nil {
		return nil, fmt.Errorf("workflow: due followups: %w", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var id string
		var last int64
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("workflow: due followups: %w", err)
		}
		out[id] = fromMsec(last)
	}
	return out, rows.Err()
}

// AppendQuoteAudit implements quote.AuditSink with a durable row per result.
func (s *Store) AppendQuoteAudit(ctx context.Context, entry quote.AuditEntry) error {
	reqJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("workflow: encode audit request: %w", err)
	}
	resJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("workflow: encode audit result: %w", err)
	}
	priced := 0
	if entry.Result.Priced() {
		priced = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quote_audit (request_key, request, result, source_tier, priced, latency_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestKey, string(reqJSON), string(resJSON),
		string(entry.Result.SourceTier), priced, entry.LatencyMs, msec(entry.At))
	if err != nil {
		return fmt.Errorf("workflow: append quote audit: %w", err)
	}
	return nil
}

func msec(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMsec(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
