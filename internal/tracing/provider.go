// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	marketlog "github.com/tombee/marketplace/internal/log"
)

// Options are the non-configuration inputs to New.
type Options struct {
	// Registerer receives the span metrics collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// ConsoleWriter receives console exporter output. Defaults to stdout.
	ConsoleWriter io.Writer

	// TracerOptions are appended to the tracer provider options.
	TracerOptions []sdktrace.TracerProviderOption
}

// Provider owns the tracer and meter providers.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// New creates the providers and installs the tracer provider globally, so
// otel.Tracer calls throughout the module record into it. Exporters that
// fail to start are logged and skipped.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts Options) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = marketlog.WithComponent(logger, "tracing")

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promExporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	spans, err := newSpanMetrics(mp.Meter("github.com/tombee/marketplace/internal/tracing"))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithSpanProcessor(spans),
	}
	if cfg.Enabled {
		for i, ec := range cfg.Exporters {
			exp, err := NewExporter(ctx, ec, opts.ConsoleWriter)
			if err != nil {
				logger.Warn("failed to create exporter, skipping",
					slog.Int("index", i),
					slog.String("type", ec.Type),
					marketlog.Error(err))
				continue
			}
			if exp == nil {
				continue
			}
			var batch []sdktrace.BatchSpanProcessorOption
			if cfg.BatchSize > 0 {
				batch = append(batch, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
			}
			if cfg.BatchInterval > 0 {
				batch = append(batch, sdktrace.WithBatchTimeout(cfg.BatchInterval))
			}
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp, batch...))
			logger.Info("span exporter enabled", slog.String("type", ec.Type), slog.String("endpoint", ec.Endpoint))
		}
	}
	tpOpts = append(tpOpts, opts.TracerOptions...)

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return &Provider{tp: tp, mp: mp}, nil
}

// TracerProvider returns the SDK tracer provider.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

// ForceFlush exports pending spans and metrics.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

// spanMetrics records the duration of every sampled span.
type spanMetrics struct {
	duration metric.Float64Histogram
}

func newSpanMetrics(m metric.Meter) (*spanMetrics, error) {
	h, err := m.Float64Histogram("marketplace.span.duration",
		metric.WithDescription("Duration of traced operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create span duration histogram: %w", err)
	}
	return &spanMetrics{duration: h}, nil
}

func (s *spanMetrics) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s *spanMetrics) OnEnd(span sdktrace.ReadOnlySpan) {
	s.duration.Record(context.Background(),
		span.EndTime().Sub(span.StartTime()).Seconds(),
		metric.WithAttributes(
			attribute.String("span.name", span.Name()),
			attribute.String("span.status", span.Status().Code.String()),
		))
}

func (s *spanMetrics) Shutdown(context.Context) error   { return nil }
func (s *spanMetrics) ForceFlush(context.Context) error { return nil }

var _ sdktrace.SpanProcessor = (*spanMetrics)(nil)
