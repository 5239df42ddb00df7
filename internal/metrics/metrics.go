// Package metrics exposes Prometheus collectors for the tournament server.
// Collectors live on a private registry so tests and the /metrics endpoint
// never see default Go runtime metrics unless registered explicitly.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "tourney"
	subsystem = "engine"
)

type collectors struct {
	sessionsCreated    prometheus.Counter
	sessionsFinished   *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	votesAccepted      *prometheus.CounterVec
	votesRejected      *prometheus.CounterVec
	pairsResolved      *prometheus.CounterVec
	subscribers        prometheus.Gauge
	subscribersDropped prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

var registry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide metrics registry

var global = newCollectors(registry) //nolint:gochecknoglobals // package-level recorders

func newCollectors(reg prometheus.Registerer) *collectors {
	auto := promauto.With(reg)
	return &collectors{
		sessionsCreated: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsFinished: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal status.",
		}, []string{"status"}),
		sessionsActive: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Sessions currently held by the registry.",
		}),
		votesAccepted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "votes_accepted_total",
			Help:      "Accepted votes by outcome (recorded, changed, unchanged).",
		}, []string{"outcome"}),
		votesRejected: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "votes_rejected_total",
			Help:      "Rejected votes by error code.",
		}, []string{"code"}),
		pairsResolved: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pairs_resolved_total",
			Help:      "Resolved pairs by trigger (votes, timeout, bye).",
		}, []string{"trigger"}),
		subscribers: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers",
			Help:      "Live event stream subscribers across all sessions.",
		}),
		subscribersDropped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers disconnected because their buffer was full.",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func RecordSessionCreated() { global.sessionsCreated.Inc() }

func RecordSessionFinished(status string) { global.sessionsFinished.WithLabelValues(status).Inc() }

func UpdateActiveSessions(n int) { global.sessionsActive.Set(float64(n)) }

func RecordVoteAccepted(outcome string) { global.votesAccepted.WithLabelValues(outcome).Inc() }

func RecordVoteRejected(code string) { global.votesRejected.WithLabelValues(code).Inc() }

func RecordPairResolved(trigger string) { global.pairsResolved.WithLabelValues(trigger).Inc() }

func RecordSubscriberAdded() { global.subscribers.Inc() }

func RecordSubscriberRemoved() { global.subscribers.Dec() }

func RecordSubscriberDropped() { global.subscribersDropped.Inc() }

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method string, status int, d time.Duration) {
	global.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	global.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// GetRegistry returns the registry every collector is registered on.
func GetRegistry() *prometheus.Registry { return registry }

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
