package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_backend_requests_total",
			Help: "Total number of REST calls made to the messaging backend.",
		},
		[]string{"method", "status"},
	)
	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messenger_backend_request_duration_seconds",
			Help:    "Backend call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_cache_requests_total",
			Help: "Message cache lookups by outcome.",
		},
		[]string{"op", "result"},
	)
	sendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_send_attempts_total",
			Help: "Send attempts by outcome.",
		},
		[]string{"result"},
	)
	sendQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_send_queue_depth",
			Help: "Messages waiting in the send queue.",
		},
	)
	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_poll_ticks_total",
			Help: "Polling loop ticks by outcome.",
		},
		[]string{"loop", "result"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_events_total",
			Help: "Backend push events received over the websocket subscription.",
		},
		[]string{"event"},
	)
	eventsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_events_connected",
			Help: "1 while the event subscription is connected.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		backendRequestsTotal,
		backendRequestDuration,
		cacheRequestsTotal,
		sendAttemptsTotal,
		sendQueueDepth,
		pollTicksTotal,
		eventsTotal,
		eventsConnected,
	)
}

// ObserveBackendRequest учитывает один REST-вызов. status 0: ответа не было (таймаут, сеть).
func ObserveBackendRequest(method string, status int, start time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	backendRequestsTotal.WithLabelValues(method, label).Inc()
	backendRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func IncCache(op, result string) {
	cacheRequestsTotal.WithLabelValues(op, result).Inc()
}

func IncSendAttempt(result string) {
	sendAttemptsTotal.WithLabelValues(result).Inc()
}

func SetSendQueueDepth(n int) {
	sendQueueDepth.Set(float64(n))
}

func IncPollTick(loop, result string) {
	pollTicksTotal.WithLabelValues(loop, result).Inc()
}

func IncEvent(event string) {
	eventsTotal.WithLabelValues(event).Inc()
}

func SetEventsConnected(connected bool) {
	if connected {
		eventsConnected.Set(1)
		return
	}
	eventsConnected.Set(0)
}
