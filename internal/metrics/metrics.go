package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the payment gateway's prometheus instruments. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	initiations     *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		initiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_initiations_total",
				Help: "Payment initiations by provider and result.",
			},
			[]string{"provider", "result"}, // success | failure
		),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callbacks_total",
				Help: "Inbound provider callbacks by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_notifications_total",
				Help: "Storefront order updates by result.",
			},
			[]string{"result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route and status code.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	registerer.MustRegister(m.initiations, m.callbacks, m.notifications, m.requestDuration)
	return m
}

func (m *Metrics) Initiation(provider string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.initiations.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Callback(provider, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Request(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
