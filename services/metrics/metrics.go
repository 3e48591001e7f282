package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-client/core"
)

const namespace = "masomo"

// Metrics holds the Prometheus collectors of the client on a registry of its own.
type Metrics struct {
	Registry *prometheus.Registry

	TokenRefreshes  *prometheus.CounterVec
	ForcedLogouts   prometheus.Counter
	QuizSubmissions *prometheus.CounterVec
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestsPending prometheus.Gauge
}

var _ core.Metrics = (*Metrics)(nil)

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "token_refreshes_total",
				Help:      "Access token refresh exchanges, by outcome",
			},
			[]string{"ok"},
		),
		ForcedLogouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "forced_logouts_total",
				Help:      "Sessions ended because the token could not be refreshed",
			},
		),
		QuizSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quiz",
				Name:      "submissions_total",
				Help:      "Quiz submissions, by trigger and outcome",
			},
			[]string{"auto", "ok"},
		),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Requests sent to the LMS API",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "LMS API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RequestsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of LMS API requests currently in flight",
			},
		),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.TokenRefreshes,
		m.ForcedLogouts,
		m.QuizSubmissions,
		m.RequestCounter,
		m.RequestDuration,
		m.RequestsPending,
	)
	return m
}

func (m *Metrics) TokenRefreshed(ok bool) {
	m.TokenRefreshes.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) ForcedLogout() {
	m.ForcedLogouts.Inc()
}

func (m *Metrics) QuizSubmitted(auto, ok bool) {
	m.QuizSubmissions.WithLabelValues(strconv.FormatBool(auto), strconv.FormatBool(ok)).Inc()
}

// InstrumentTransport wraps rt to count and time the requests it sends.
func (m *Metrics) InstrumentTransport(rt http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperInFlight(m.RequestsPending,
		promhttp.InstrumentRoundTripperCounter(m.RequestCounter,
			promhttp.InstrumentRoundTripperDuration(m.RequestDuration, rt),
		),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
