// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability wires Bartleby's Prometheus metrics and
// OpenTelemetry tracing. Metrics are promauto instruments held in a Metrics
// struct, registered by each NewMetrics call against the registerer it is
// given; tracing uses a stdouttrace-backed TracerProvider
// set as the process global, so every component can call otel.Tracer(name)
// without threading a provider through its constructor.
package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds every Prometheus instrument Bartleby's core loop records
// against. A single Metrics value is created at process start and shared
// by every component; fields are safe for concurrent use like every
// promauto instrument.
type Metrics struct {
	TickDuration      prometheus.Histogram
	TickItemsResolved prometheus.Histogram

	TransformationDuration *prometheus.HistogramVec
	TransformationsTotal   *prometheus.CounterVec

	TokensUsedTotal prometheus.Counter

	SyncDuration   prometheus.Histogram
	SyncItemsTotal *prometheus.CounterVec

	BlockedQuestionsOpen prometheus.Gauge
}

// NewMetrics registers and returns the process-wide instrument set against
// reg. Pass nil to register against prometheus.DefaultRegisterer, which
// cmd/bartleby passes explicitly in production; tests pass a throwaway
// prometheus.NewRegistry() so repeated calls don't collide on metric
// names. Callers should build one Metrics at startup and pass it down, not
// call NewMetrics per component.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bartleby_orchestrator_tick_duration_seconds",
			Help:    "Time spent in one Orchestrator tick.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		TickItemsResolved: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bartleby_orchestrator_ready_items",
			Help:    "Number of ready work items the Resolver returned per tick.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),
		TransformationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bartleby_transformation_duration_seconds",
			Help:    "Time spent executing one AI transformation, by type.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"transformation_type"}),
		TransformationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bartleby_transformations_total",
			Help: "Total transformations executed, by type and outcome.",
		}, []string{"transformation_type", "outcome"}),
		TokensUsedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bartleby_ai_tokens_used_total",
			Help: "Total tokens reported or estimated across all AI calls.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bartleby_sync_duration_seconds",
			Help:    "Time spent in one tracker reconciliation run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		SyncItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bartleby_sync_items_total",
			Help: "Total work items touched by a sync run, by action.",
		}, []string{"action"}),
		BlockedQuestionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bartleby_blocked_questions_open",
			Help: "Number of blocked questions currently awaiting an answer.",
		}),
	}
}

// TracerProviderConfig configures Setup.
type TracerProviderConfig struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// ServiceVersion is attached as a resource attribute. Optional.
	ServiceVersion string
}

// Setup installs a stdouttrace-backed TracerProvider as the OpenTelemetry
// global, so every package can call otel.Tracer(name) directly. It returns
// a shutdown func that flushes and stops the exporter; callers must invoke
// it before process exit.
//
// stdouttrace is the same vendor-neutral choice the rest of this module's
// tracing setup uses: a self-hosted deployment sees spans on stderr without
// standing up a collector, while still exercising the real OpenTelemetry
// SDK pipeline (batcher, resource, sampler) a Jaeger/OTLP exporter would
// slot into later.
func Setup(ctx context.Context, cfg TracerProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bartleby"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("observability: creating stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer is the tracer every Bartleby component starts spans from. It
// wraps the global provider so components don't need Setup to have run
// first -- the global default is a no-op tracer, so tracing is an optional
// enhancement rather than a hard dependency.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/elephantgerald/bartleby")
}

// FinishSpan ends span, recording err on it when non-nil.
func FinishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SpanAttrs converts a flat key/value string map into OTel attributes, for
// callers that build span attributes alongside a log call's key/value
// pairs rather than constructing attribute.KeyValue directly.
func SpanAttrs(kv map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv))
	for k, v := range kv {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
