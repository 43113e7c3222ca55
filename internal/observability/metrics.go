package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	aclCache       *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	fanoutEvents   *prometheus.CounterVec
	rpcInvocations *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	aclCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_acl_cache_total",
		Help: "Lookup cache ACL berdasarkan hasil (hit, miss, stale_put).",
	}, []string{"result"})
	gate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gate_decisions_total",
		Help: "Keputusan gate otorisasi (allow, deny, error).",
	}, []string{"decision"})
	fanout := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_fanout_events_total",
		Help: "Event fan-out channel berdasarkan jenis dan status publish.",
	}, []string{"kind", "status"})
	rpc := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_rpc_invocations_total",
		Help: "Pemanggilan RPC berdasarkan method dan status envelope.",
	}, []string{"method", "status"})
	rpcDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_rpc_duration_seconds",
		Help:    "Durasi pemanggilan RPC per method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	registry.MustRegister(requests, duration, aclCache, gate, fanout, rpc, rpcDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		aclCache:        aclCache,
		gateDecisions:   gate,
		fanoutEvents:    fanout,
		rpcInvocations:  rpc,
		rpcDuration:     rpcDuration,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// CacheLookup mencatat hasil lookup cache ACL.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.aclCache.WithLabelValues(result).Inc()
}

// GateDecision mencatat keputusan gate.
func (m *Metrics) GateDecision(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// FanoutEvent mencatat satu event yang dipublikasikan ke exchange.
func (m *Metrics) FanoutEvent(kind string, err error) {
	if m == nil {
		return
	}
	status := "published"
	if err != nil {
		status = "failed"
	}
	m.fanoutEvents.WithLabelValues(kind, status).Inc()
}

// RPCInvocation mencatat status dan durasi pemanggilan RPC.
func (m *Metrics) RPCInvocation(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcInvocations.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Flush meneruskan flush ke writer asli agar streaming tetap berjalan.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap dipakai http.ResponseController untuk mencapai writer asli.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
