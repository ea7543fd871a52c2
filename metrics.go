package acme

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acme_cycles_total",
			Help: "Number of completed generateCertificate cycles, by outcome.",
		},
		[]string{"outcome"}, // ok, acme_error, write_error, key_error
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acme_cycle_duration_seconds",
			Help:    "Wall-clock duration of a full generateCertificate cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
		},
	)

	selfCheckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acme_self_check_latency_seconds",
			Help:    "Time from challenge publication to a successful self-check GET.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, selfCheckLatency)
}

func observeCycle(outcome string, start time.Time) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(time.Since(start).Seconds())
}
