package server

import (
	"context"
	"errors"
	"fmt"

	"webpanel-gate/internal/config"
	"webpanel-gate/internal/telemetry"
	telemetryotel "webpanel-gate/internal/telemetry/otel"
	"webpanel-gate/internal/telemetry/producer"
)

// Telemetry is the process's event pipeline: OTel log records, OTel counters and optionally Kafka.
type Telemetry struct {
	Emitter   telemetry.EventEmitter
	providers *telemetryotel.Providers
	kafka     *producer.KafkaProducer
}

// NewTelemetry builds the OTel providers (set as global) and the Kafka producer from cfg.
func NewTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	metrics, err := telemetryotel.NewMetrics(providers.MeterProvider)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry metrics: %w", err)
	}
	t := &Telemetry{
		providers: providers,
		kafka:     producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic),
	}
	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider), metrics}
	if t.kafka != nil {
		emitters = append(emitters, t.kafka)
	}
	t.Emitter = telemetry.Tee(emitters...)
	return t, nil
}

// Shutdown flushes the exporters and closes the Kafka writer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.kafka != nil {
		errs = append(errs, t.kafka.Close())
	}
	if t.providers != nil {
		errs = append(errs, t.providers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
