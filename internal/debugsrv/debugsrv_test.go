package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/bus"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

func newTestBus(t *testing.T) *bus.EventBus {
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	w, _, err := wal.Open(t.TempDir() + "/oj.wal")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	rt := runtime.New(runbook.NewMemory(), clock.NewFake(1000), log)
	return bus.New(w, state.New(), rt)
}

// httpTestServer starts debugsrv's gin engine on a real ephemeral listener
// via httptest, sidestepping the fixed-Addr http.Server debugsrv.New builds
// (which binds lazily inside ListenAndServe and so has no discoverable port
// until after Start, by which point it's already serving).
func httpTestServer(t *testing.T, b *bus.EventBus, log *logger.Logger) *httptest.Server {
	srv := New("127.0.0.1:0", b, log)
	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthzReportsSeq(t *testing.T) {
	b := newTestBus(t)
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)

	_, _, err = b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)

	ts := httpTestServer(t, b, log)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["seq"])
}

func TestDebugStateReturnsEntityCounts(t *testing.T) {
	b := newTestBus(t)
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)

	_, _, err = b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)

	ts := httpTestServer(t, b, log)

	resp, err := http.Get(ts.URL + "/debug/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 1, body["jobs"])
}
