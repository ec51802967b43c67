package obs

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/you/event-booking/pkg/config"
)

const serviceVersion = "0.1.0"

// Init installs the global tracer and logger providers for serviceName. With
// no OTLP endpoint configured only the propagator is installed so trace
// context still flows through HTTP and AMQP headers.
func Init(ctx context.Context, serviceName string, cfg config.Obs) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.OTLPEndpoint == "" && cfg.OTLPLogsEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	if cfg.OTLPEndpoint != "" {
		// use insecure transport credentials for local dev / docker-compose setup
		conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("otlp grpc client: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return conn.Close() })

		traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("otlp trace exporter: %w", err), shutdown(ctx))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdownFuncs = append([]func(context.Context) error{tp.Shutdown}, shutdownFuncs...)
	}

	if cfg.OTLPLogsEndpoint != "" {
		logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpoint(cfg.OTLPLogsEndpoint), otlploghttp.WithInsecure())
		if err != nil {
			return nil, errors.Join(fmt.Errorf("otlp log exporter: %w", err), shutdown(ctx))
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(lp)
		shutdownFuncs = append([]func(context.Context) error{lp.Shutdown}, shutdownFuncs...)
	}

	return shutdown, nil
}
