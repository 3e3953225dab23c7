package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/ledger"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeCounters struct {
	counts  map[constants.Outcome]int64
	pending int64
	failed  int64
}

func (f *fakeCounters) OutcomeCounts(context.Context) (map[constants.Outcome]int64, error) {
	return f.counts, nil
}

func (f *fakeCounters) ReportBacklog(context.Context) (int64, int64, error) {
	return f.pending, f.failed, nil
}

type fakeSpool struct {
	pending int64
	failed  int64
}

func (f *fakeSpool) Backlog(context.Context) (int64, int64, error) {
	return f.pending, f.failed, nil
}

type staticSource struct {
	recs []entity.ExpectedRecord
	err  error
}

func (s *staticSource) FetchSince(context.Context, int64) ([]entity.ExpectedRecord, error) {
	return s.recs, s.err
}

func newTestServer(t *testing.T, db *fakePinger, plcPoll func() time.Time) (*Server, *ledger.Cache, *ledger.Refresher) {
	t.Helper()
	cache := ledger.NewCache(time.Minute)
	refresher := ledger.NewRefresher(cache, &staticSource{}, time.Second, zap.NewNop())
	srv := NewServer(Config{Addr: ":0", PLCStaleAfter: time.Second},
		db, cache, refresher,
		&fakeCounters{
			counts:  map[constants.Outcome]int64{constants.OutcomeOK: 40, constants.OutcomeNOK: 2},
			pending: 3,
			failed:  1,
		},
		&fakeSpool{pending: 5},
		plcPoll,
		zap.NewNop(),
	)
	return srv, cache, refresher
}

func TestHealthzHealthy(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakePinger{}, time.Now)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Healthy bool `json:"healthy"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Healthy)
}

func TestHealthzDegraded(t *testing.T) {
	tests := []struct {
		name    string
		db      *fakePinger
		plcPoll func() time.Time
	}{
		{
			name:    "database down",
			db:      &fakePinger{err: errors.New("connection refused")},
			plcPoll: time.Now,
		},
		{
			name:    "plc never polled",
			db:      &fakePinger{},
			plcPoll: func() time.Time { return time.Time{} },
		},
		{
			name:    "plc poll stale",
			db:      &fakePinger{},
			plcPoll: func() time.Time { return time.Now().Add(-time.Minute) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, tt.db, tt.plcPoll)
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		})
	}
}

func TestStatus(t *testing.T) {
	srv, cache, refresher := newTestServer(t, &fakePinger{}, time.Now)

	require.NoError(t, refresher.RefreshOnce(context.Background()))
	cache.Publish(ledger.NewSnapshot([]entity.ExpectedRecord{
		{ID: 55, EAN: "4006381333931", PalletCode: "P55", HULabel: "HU1001"},
	}, time.Now()))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body statusBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	assert.False(t, body.Ledger.Stale)
	assert.Equal(t, int64(55), body.Ledger.Revision)
	assert.Equal(t, 1, body.Ledger.Records)
	assert.Empty(t, body.Ledger.LastRefreshError)
	assert.Equal(t, int64(40), body.Outcomes["OK"])
	assert.Equal(t, int64(2), body.Outcomes["NOK"])
	assert.Equal(t, int64(3), body.Reports.Pending)
	assert.Equal(t, int64(1), body.Reports.Failed)
	assert.Equal(t, int64(5), body.Evidence.Pending)
}

func TestStatusSurfacesRefreshError(t *testing.T) {
	cache := ledger.NewCache(time.Minute)
	refresher := ledger.NewRefresher(cache, &staticSource{err: errors.New("bridge unreachable")}, time.Second, zap.NewNop())
	srv := NewServer(Config{Addr: ":0"}, &fakePinger{}, cache, refresher,
		&fakeCounters{}, &fakeSpool{}, time.Now, zap.NewNop())

	_ = refresher.RefreshOnce(context.Background())

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body statusBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Ledger.Stale, "unconfirmed snapshot reads as stale")
	assert.Contains(t, body.Ledger.LastRefreshError, "bridge unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakePinger{}, time.Now)
	h := srv.Handler()

	// One instrumented request so the ops counters have a sample.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pvpedge_ops_requests_total")
}
