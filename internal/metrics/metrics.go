// Package metrics declares the launcher's prometheus collectors. They are
// registered with the default registry and exposed by the serve command.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "craftlauncher"

const (
	// StatusSuccess labels an operation that finished successfully.
	StatusSuccess = "success"
	// StatusFailure labels an operation that failed.
	StatusFailure = "failure"
	// StatusCancelled labels an operation that was cancelled.
	StatusCancelled = "cancelled"
)

var (
	// DownloadBytes counts bytes received for plan tasks, retries included.
	DownloadBytes = MustRegisterCounter(namespace, "download", "bytes_total",
		"Bytes received while executing update plans.")
	// DownloadAttempts counts task attempts by kind (full or delta).
	DownloadAttempts = MustRegisterCounterVec(namespace, "download", "attempts_total",
		"Download task attempts.", "kind")
	// DownloadRetries counts retried attempts by cause.
	DownloadRetries = MustRegisterCounterVec(namespace, "download", "retries_total",
		"Download task retries.", "reason")
	// DownloadFailures counts tasks that failed permanently.
	DownloadFailures = MustRegisterCounterVec(namespace, "download", "failures_total",
		"Download tasks that failed permanently.", "reason")
	// PlanExecutions counts executed plans by outcome.
	PlanExecutions = MustRegisterCounterVec(namespace, "download", "plans_total",
		"Executed update plans.", "status")
	// PlanDuration observes how long plan execution took.
	PlanDuration = MustRegisterHistogramVec(namespace, "download", "plan_duration_seconds",
		"Time spent executing update plans.", prometheus.ExponentialBuckets(0.1, 4, 8), "status")

	// CatalogRequests counts catalog lookups by where the answer came from.
	CatalogRequests = MustRegisterCounterVec(namespace, "catalog", "requests_total",
		"Catalog manifest lookups.", "source")

	// Launches counts process starts by outcome.
	Launches = MustRegisterCounterVec(namespace, "launch", "starts_total",
		"Game process start attempts.", "status")
	// Running is the number of game processes currently running.
	Running = MustRegisterGauge(namespace, "launch", "running",
		"Game processes currently running.")
	// Transitions counts controller state changes by target state.
	Transitions = MustRegisterCounterVec(namespace, "launch", "transitions_total",
		"Launch controller state transitions.", "to")
)

// MustRegisterCounter creates and registers a counter.
func MustRegisterCounter(namespace, component, name, help string) prometheus.Counter {
	m := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	prometheus.MustRegister(m)
	return m
}

// MustRegisterCounterVec creates and registers a counter vector.
func MustRegisterCounterVec(namespace, component, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// MustRegisterGauge creates and registers a gauge.
func MustRegisterGauge(namespace, component, name, help string) prometheus.Gauge {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	prometheus.MustRegister(m)
	return m
}

// MustRegisterHistogramVec creates and registers a histogram vector.
func MustRegisterHistogramVec(namespace, component, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}
