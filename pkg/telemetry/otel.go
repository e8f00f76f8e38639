// Package telemetry installs the OTel providers and holds walletd's instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Options picks which signals get a real provider. Anything left off keeps
// the OTel no-op global.
type Options struct {
	ServiceName string
	Metrics     bool
	Traces      bool
	Logs        bool
}

// Telemetry remembers what it installed so Shutdown can flush it
type Telemetry struct {
	shutdowns []func(context.Context) error
}

// Setup installs the requested providers as OTel globals. Metrics are read by
// the Prometheus exporter; traces and logs go to stdout.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "walletd"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(opts.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	t := &Telemetry{}
	fail := func(err error) (*Telemetry, error) {
		_ = t.Shutdown(ctx)
		return nil, err
	}

	if opts.Metrics {
		reader, err := prometheus.New()
		if err != nil {
			return fail(fmt.Errorf("prometheus exporter: %w", err))
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
		otel.SetMeterProvider(mp)
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		if err := GetGlobalMetrics().InitMetrics(mp.Meter(opts.ServiceName)); err != nil {
			return fail(fmt.Errorf("instruments: %w", err))
		}
	}

	if opts.Traces {
		exp, err := stdouttrace.New()
		if err != nil {
			return fail(fmt.Errorf("trace exporter: %w", err))
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}

	if opts.Logs {
		exp, err := stdoutlog.New()
		if err != nil {
			return fail(fmt.Errorf("log exporter: %w", err))
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(lp)
		t.shutdowns = append(t.shutdowns, lp.Shutdown)
	}
	return t, nil
}

// Shutdown flushes providers in reverse install order
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}

func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

func GetTracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
