package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"webpanel-gate/internal/telemetry"
	"webpanel-gate/internal/telemetry/domain"
)

// Metrics is an EventEmitter that counts events by type and outcome.
type Metrics struct {
	events metric.Int64Counter
}

var _ telemetry.EventEmitter = (*Metrics)(nil)

// NewMetrics registers the auth event counter on provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	events, err := meter.Int64Counter("webpanel.auth.events",
		metric.WithDescription("Login and second-factor lifecycle events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events}, nil
}

func (m *Metrics) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", event.Type),
		attribute.String("outcome", event.Outcome),
	))
	return nil
}
