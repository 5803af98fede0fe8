package observability

import (
	"github.com/smallbiznis/memberhub/internal/observability/logger"
	"github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the zap logger, the tracer provider and the billing
// instruments. Scheduler job metrics register on the default Prometheus
// registry so /metrics serves them.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(announce),
)

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

// announce forces the tracer provider and scheduler metrics into existence and
// logs where telemetry goes.
func announce(cfg Config, _ *sdktrace.TracerProvider, log *zap.Logger) {
	metrics.SchedulerWithConfig(cfg.Metrics())
	log.Info("observability ready",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Bool("otlp_enabled", cfg.OtelEnabled),
		zap.String("otlp_protocol", cfg.OtelExporterProtocol),
		zap.Bool("debug", cfg.Debug()),
	)
}
