package telemetry

import (
	"context"
	"errors"

	"webpanel-gate/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Tee returns an EventEmitter that sends each event to every non-nil emitter.
func Tee(emitters ...EventEmitter) EventEmitter {
	out := make(tee, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type tee []EventEmitter

func (t tee) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range t {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
