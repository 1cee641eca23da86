/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkwell_api_request_duration_seconds",
		Help:    "Admin API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_api_requests_total",
		Help: "Admin API requests by route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkwell_api_active_connections",
		Help: "In-flight admin API requests.",
	})
)

// Scheduler metrics.
var (
	SchedulerPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_scheduler_passes_total",
		Help: "Batch passes by result (completed, contended, error).",
	}, []string{"result"})

	SchedulerPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inkwell_scheduler_pass_duration_seconds",
		Help:    "Wall time of one batch pass.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	SchedulerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_scheduler_entries_total",
		Help: "Queue entries handled by batch passes, by outcome.",
	}, []string{"outcome"})

	SchedulerLastPassTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkwell_scheduler_last_pass_timestamp_seconds",
		Help: "Unix time of the last completed batch pass.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_scheduler_errors_total",
		Help: "Scheduler errors by stage.",
	}, []string{"stage"})

	RunLockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_run_lock_acquisitions_total",
		Help: "Run lock attempts by backend and result.",
	}, []string{"backend", "result"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkwell_database_query_duration_seconds",
		Help:    "Duration of gorm operations.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_database_errors_total",
		Help: "Failed gorm operations.",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkwell_database_connections_active",
		Help: "Open database connections.",
	})
)

// Delivery metrics.
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event and result.",
	}, []string{"event", "result"})

	EventsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_eventbus_forwarded_total",
		Help: "Scheduler events forwarded to the external bus.",
	}, []string{"backend", "result"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
