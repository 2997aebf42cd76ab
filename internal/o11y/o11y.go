// README: Logger, tracer provider and Prometheus registry for the binaries.
package o11y

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

type Observability struct {
	Logger   *slog.Logger
	Tracer   *trace.TracerProvider
	Registry *prometheus.Registry
	Metrics  *Metrics
}

type Options struct {
	LogLevel     string
	OTLPEndpoint string
	SampleRatio  float64
}

// Setup builds the process-wide observability stack. Spans are exported only
// when an OTLP endpoint is configured.
func Setup(ctx context.Context, opts Options) (*Observability, func(), error) {
	logger := NewLogger(opts.LogLevel)

	tpOpts := []trace.TracerProviderOption{}
	if opts.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithEndpoint(opts.OTLPEndpoint),
		)
		if err != nil {
			return nil, nil, err
		}
		tpOpts = append(tpOpts, trace.WithBatcher(exporter))
	}
	ratio := opts.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	tpOpts = append(tpOpts, trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))))
	tp := trace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(registry)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown", slog.Any("err", err))
		}
	}

	return &Observability{
		Logger:   logger,
		Tracer:   tp,
		Registry: registry,
		Metrics:  metrics,
	}, cleanup, nil
}

// NewLogger builds a JSON logger at the given level.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	})
	return slog.New(handler)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
