// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silasqian/quoteflow/internal/persistence/sqlite"
	"github.com/silasqian/quoteflow/internal/session"
	"github.com/silasqian/quoteflow/internal/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *workflow.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "quoteflow.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := workflow.NewStore(db, workflow.StoreConfig{}, zerolog.Nop())
	require.NoError(t, err)
	monitor := workflow.NewMonitor(workflow.SLAConfig{}, store, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(store, monitor, 0, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, store
}

func get(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	resp := get(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSLASnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	var snap workflow.Snapshot
	resp := get(t, srv.URL+"/api/sla", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEnqueueAndInspectSession(t *testing.T) {
	srv, store := newTestServer(t)

	body := `{"session_id":"s1","event_id":"e1","payload":{"intent":"price_question"}}`
	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Redelivery downgrades to 200.
	resp, err = http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The job is claimable by a worker.
	jobs, err := store.Claim(context.Background(), "w", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "s1", jobs[0].SessionID)
	assert.Equal(t, "price_question", jobs[0].Payload.Intent)

	// Complete it and read the session back through the API.
	now := time.Now()
	sess := session.NewSession("s1", now)
	require.NoError(t, sess.Transition(session.StageAckSent, session.Guards{}, now))
	require.NoError(t, store.Complete(context.Background(), jobs[0].ID, workflow.Outcome{
		Session: sess,
		Transitions: []workflow.TransitionRecord{{
			SessionID: "s1", From: session.StageNew, To: session.StageAckSent, JobID: jobs[0].ID, At: now,
		}},
	}))

	var got map[string]any
	resp = get(t, srv.URL+"/api/sessions/s1", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACK_SENT", got["stage"])

	var trs []map[string]any
	resp = get(t, srv.URL+"/api/transitions", &trs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, trs, 1)
	assert.Equal(t, "ACK_SENT", trs[0]["to"])
}

func TestEnqueueValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{"event_id":"e1"}`,
		`{"session_id":"s1"}`,
		`{"session_id":"s1","event_id":"e1","kind":"mystery"}`,
	} {
		resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/api/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAlertsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)

	var alerts []workflow.AlertEvent
	resp := get(t, srv.URL+"/api/alerts", &alerts)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, alerts)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
