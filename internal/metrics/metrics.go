// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	ChatStreamsTotal *prometheus.CounterVec
	ChatChunksTotal  prometheus.Counter

	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	LiveAudioBytesTotal *prometheus.CounterVec

	InquiriesTotal prometheus.Counter
	InvoicesSent   prometheus.Counter
}

// New creates a Metrics instance with every collector registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "studio"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	chatStreamsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_streams_total",
			Help:      "Total chat streams by outcome",
		},
		[]string{"outcome"},
	)

	chatChunksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_chunks_total",
			Help:      "Total NDJSON chunks streamed to chat clients",
		},
	)

	liveSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live voice sessions",
		},
	)

	liveSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total live voice sessions by outcome",
		},
		[]string{"outcome"},
	)

	liveSessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live voice session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	liveAudioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Total PCM bytes relayed in live sessions",
		},
		[]string{"direction"},
	)

	inquiriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inquiries_total",
			Help:      "Total contact-form inquiries received",
		},
	)

	invoicesSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_sent_total",
			Help:      "Total invoices sent through Stripe",
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		chatStreamsTotal,
		chatChunksTotal,
		liveSessionsActive,
		liveSessionsTotal,
		liveSessionDuration,
		liveAudioBytesTotal,
		inquiriesTotal,
		invoicesSent,
	)

	return &Metrics{
		registry:            registry,
		RequestsTotal:       requestsTotal,
		RequestDuration:     requestDuration,
		ChatStreamsTotal:    chatStreamsTotal,
		ChatChunksTotal:     chatChunksTotal,
		LiveSessionsActive:  liveSessionsActive,
		LiveSessionsTotal:   liveSessionsTotal,
		LiveSessionDuration: liveSessionDuration,
		LiveAudioBytesTotal: liveAudioBytesTotal,
		InquiriesTotal:      inquiriesTotal,
		InvoicesSent:        invoicesSent,
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request. Nil-safe so handlers can run
// without metrics in tests.
func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordChatStream records one finished chat stream.
func (m *Metrics) RecordChatStream(outcome string, chunks int) {
	if m == nil {
		return
	}
	m.ChatStreamsTotal.WithLabelValues(outcome).Inc()
	m.ChatChunksTotal.Add(float64(chunks))
}

// RecordLiveSessionStart marks a live session as active.
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records a live session ending.
func (m *Metrics) RecordLiveSessionEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(outcome).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordLiveAudio counts relayed audio bytes in one direction.
func (m *Metrics) RecordLiveAudio(direction string, n int) {
	if m == nil {
		return
	}
	m.LiveAudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordInquiry counts one contact-form submission.
func (m *Metrics) RecordInquiry() {
	if m == nil {
		return
	}
	m.InquiriesTotal.Inc()
}

// RecordInvoiceSent counts one invoice handed to Stripe.
func (m *Metrics) RecordInvoiceSent() {
	if m == nil {
		return
	}
	m.InvoicesSent.Inc()
}
