/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are probe endpoints kept out of traces.
var untracedPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// MetricsMiddleware records latency and status per route pattern. It must sit
// before the chi router resolves the route so the pattern is complete when the
// handler returns.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		APIActiveConnections.Inc()
		defer APIActiveConnections.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		endpoint := routePattern(r)

		APIRequestDuration.WithLabelValues(r.Method, endpoint, code).Observe(time.Since(start).Seconds())
		APIRequestsTotal.WithLabelValues(r.Method, endpoint, code).Inc()
	})
}

// routePattern keeps label cardinality bounded; unmatched paths collapse into
// a single label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// TracingMiddleware starts a server span per request using the global tracer
// provider. Health and metrics probes are not traced.
func TracingMiddleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !untracedPaths[r.URL.Path]
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
