// Package metrics exposes Prometheus collectors for the monitor and the
// control API.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nudger"

var (
	// Cycles counts monitor cycles by outcome: trigger, dismiss, none, error.
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "The total number of monitor cycles by outcome",
	}, []string{"outcome"})

	// CycleDuration tracks how long a cycle takes, excluding the sleep.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "The duration of monitor cycles",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	})

	// MatchConfidence records the best confidence per template.
	MatchConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "match_confidence",
		Help:      "The most recent match confidence per template",
	}, []string{"template"})

	// MatchDuration tracks template matching time.
	MatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_duration_seconds",
		Help:      "The duration of a single template match",
		Buckets:   prometheus.DefBuckets,
	}, []string{"template"})

	// Threshold is the current acceptance threshold.
	Threshold = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "threshold",
		Help:      "The current adaptive acceptance threshold",
	})

	// Interval is the current polling interval.
	Interval = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interval_seconds",
		Help:      "The current adaptive polling interval",
	})

	// ErrorCount is the scheduler's accumulated error counter.
	ErrorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "error_count",
		Help:      "The accumulated cycle error count since the last reset",
	})

	// ErrorResets counts error-ceiling resets.
	ErrorResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_resets_total",
		Help:      "The total number of error ceiling resets",
	})

	// Activations counts focus arbitration results by final state.
	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activations_total",
		Help:      "The total number of target activations by result",
	}, []string{"state", "step"})

	// Captures counts screen grabs by backend.
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "The total number of screen captures by backend",
	}, []string{"backend"})

	// ConfigReloads counts config reloads by result.
	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "The total number of config reloads by result",
	}, []string{"result"})

	// Running is 1 while the monitor loop is alive and not paused.
	Running = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "running",
		Help:      "Whether the monitor loop is running and not paused",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "The duration of control API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Bool converts a flag into a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Middleware records request durations labelled by the matched route
// template, keeping label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		wrw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(wrw, r)
		requestDuration.WithLabelValues(route, strconv.Itoa(wrw.code)).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (w *responseWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers push through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
