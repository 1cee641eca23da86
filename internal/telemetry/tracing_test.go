/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSamplerFor(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{1, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{1.5, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{0, sdktrace.ParentBased(sdktrace.NeverSample()).Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tc := range cases {
		if got := samplerFor(tc.rate).Description(); got != tc.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tc.rate, got, tc.want)
		}
	}
}

func TestInitTracerDisabledIsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{ServiceName: "inkwell"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "noop", AttrEntryID.String("e-1"))
	SetCounts(span, map[string]int{"published": 1})
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()
	if span.SpanContext().IsValid() {
		t.Fatal("expected no-op span when tracing is disabled")
	}
}
