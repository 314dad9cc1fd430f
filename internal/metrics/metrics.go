// Package metrics exposes Prometheus instrumentation for the messaging
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace_messaging"

type Metrics struct {
	registry *prometheus.Registry

	// ThreadsEnsured counts ensure calls. Labels: type, created (true, false)
	ThreadsEnsured *prometheus.CounterVec

	// MessagesSent counts stored messages. Labels: status (pending, approved)
	MessagesSent *prometheus.CounterVec

	// MessagesModerated counts moderation requests. Labels: result (approved, deleted, noop)
	MessagesModerated *prometheus.CounterVec

	ParticipantsAdded prometheus.Counter

	NotificationFailures prometheus.Counter

	// RequestDuration measures HTTP handling time. Labels: method, status
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ThreadsEnsured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_ensured_total",
			Help:      "Thread ensure calls by thread type and whether a thread was created.",
		}, []string{"type", "created"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages stored by initial status.",
		}, []string{"status"}),
		MessagesModerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_moderated_total",
			Help:      "Moderation requests by outcome.",
		}, []string{"result"}),
		ParticipantsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_added_total",
			Help:      "Participants added to existing threads.",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be enqueued.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ThreadEnsured(threadType string, created bool) {
	if m == nil {
		return
	}
	m.ThreadsEnsured.WithLabelValues(threadType, strconv.FormatBool(created)).Inc()
}

func (m *Metrics) MessageSent(status string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(status).Inc()
}

func (m *Metrics) MessageModerated(result string) {
	if m == nil {
		return
	}
	m.MessagesModerated.WithLabelValues(result).Inc()
}

func (m *Metrics) ParticipantAdded() {
	if m == nil {
		return
	}
	m.ParticipantsAdded.Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
