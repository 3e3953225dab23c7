package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/ledger"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvpedge_ops_requests_total",
			Help: "Total number of ops endpoint requests",
		},
		[]string{"handler", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvpedge_ops_request_duration_seconds",
			Help:    "Ops endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// Pinger checks the journal database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counters exposes journal aggregates for the status page.
type Counters interface {
	OutcomeCounts(ctx context.Context) (map[constants.Outcome]int64, error)
	ReportBacklog(ctx context.Context) (pending, failed int64, err error)
}

// SpoolBacklog exposes the evidence spool backlog.
type SpoolBacklog interface {
	Backlog(ctx context.Context) (pending, failed int64, err error)
}

// Config holds the ops endpoint settings.
type Config struct {
	Addr string
	// PLCStaleAfter marks /healthz degraded when the trigger tag has not
	// been polled successfully for this long.
	PLCStaleAfter time.Duration
}

// Server is the operational HTTP surface: liveness, a status JSON for the
// line operators and the Prometheus scrape endpoint.
type Server struct {
	cfg       Config
	db        Pinger
	cache     *ledger.Cache
	refresher *ledger.Refresher
	counters  Counters
	spool     SpoolBacklog
	plcPoll   func() time.Time
	logger    *zap.Logger
}

func NewServer(cfg Config, db Pinger, cache *ledger.Cache, refresher *ledger.Refresher, counters Counters, spool SpoolBacklog, plcPoll func() time.Time, logger *zap.Logger) *Server {
	if cfg.PLCStaleAfter <= 0 {
		cfg.PLCStaleAfter = 5 * time.Second
	}
	return &Server{
		cfg:       cfg,
		db:        db,
		cache:     cache,
		refresher: refresher,
		counters:  counters,
		spool:     spool,
		plcPoll:   plcPoll,
		logger:    logger,
	}
}

// Handler builds the ops mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.instrument("healthz", s.handleHealthz))
	mux.HandleFunc("/status", s.instrument("status", s.handleStatus))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("ops.listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("ops.shutdown.failed", zap.Error(err))
	}
	return ctx.Err()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type check struct {
		OK     bool   `json:"ok"`
		Detail string `json:"detail,omitempty"`
	}
	checks := map[string]check{}
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = check{OK: false, Detail: err.Error()}
		healthy = false
	} else {
		checks["database"] = check{OK: true}
	}

	last := s.plcPoll()
	switch {
	case last.IsZero():
		checks["plc"] = check{OK: false, Detail: "no successful poll yet"}
		healthy = false
	case time.Since(last) > s.cfg.PLCStaleAfter:
		checks["plc"] = check{OK: false, Detail: "last poll " + time.Since(last).Round(time.Millisecond).String() + " ago"}
		healthy = false
	default:
		checks["plc"] = check{OK: true}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

// statusBody is the /status document shown to line operators.
type statusBody struct {
	Ledger struct {
		AgeSeconds       float64 `json:"age_seconds"`
		Stale            bool    `json:"stale"`
		Revision         int64   `json:"revision"`
		Records          int     `json:"records"`
		LastRefreshError string  `json:"last_refresh_error,omitempty"`
	} `json:"ledger"`
	Outcomes map[string]int64 `json:"outcomes"`
	Reports  struct {
		Pending int64 `json:"pending"`
		Failed  int64 `json:"failed"`
	} `json:"reports"`
	Evidence struct {
		Pending int64 `json:"pending"`
		Failed  int64 `json:"failed"`
	} `json:"evidence"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var body statusBody
	now := time.Now()
	snap := s.cache.Snapshot()
	stale, age := s.cache.Stale(now)
	body.Ledger.AgeSeconds = age.Seconds()
	body.Ledger.Stale = stale
	body.Ledger.Revision = snap.Revision()
	body.Ledger.Records = snap.Len()
	if _, err := s.refresher.LastError(); err != nil {
		body.Ledger.LastRefreshError = err.Error()
	}

	body.Outcomes = map[string]int64{}
	if counts, err := s.counters.OutcomeCounts(ctx); err == nil {
		for outcome, n := range counts {
			body.Outcomes[string(outcome)] = n
		}
	} else {
		s.logger.Warn("ops.status.outcomes_failed", zap.Error(err))
	}
	if pending, failed, err := s.counters.ReportBacklog(ctx); err == nil {
		body.Reports.Pending = pending
		body.Reports.Failed = failed
	} else {
		s.logger.Warn("ops.status.reports_failed", zap.Error(err))
	}
	if pending, failed, err := s.spool.Backlog(ctx); err == nil {
		body.Evidence.Pending = pending
		body.Evidence.Failed = failed
	} else {
		s.logger.Warn("ops.status.evidence_failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, body)
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(wrapped, r)
		httpRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(name, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
