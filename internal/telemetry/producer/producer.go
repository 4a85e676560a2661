// Package producer defines the interface for streaming telemetry events (e.g. to Kafka).
package producer

import (
	"context"

	"webpanel-gate/internal/telemetry/domain"
)

// Producer emits telemetry events. It satisfies telemetry.EventEmitter; callers use it best-effort.
type Producer interface {
	Emit(ctx context.Context, event *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
