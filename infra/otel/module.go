package otel

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
)

// Module wires the metric pipeline: otel instruments on the producing side,
// a prometheus reader on the scraping side. The registry is shared with the
// ops HTTP server for /metrics.
var Module = fx.Module("otel",
	fx.Provide(
		NewRegistry,
		NewMeterProvider,
	),
)

func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(prom.NewGoCollector())
	return reg
}

func NewMeterProvider(reg *prom.Registry) (metric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("im-routing-service"),
		semconv.ServiceNamespace("webitel"),
	))
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}
