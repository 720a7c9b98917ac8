package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by recording each event as an OpenTelemetry
// span.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "step_started", "step_completed")
//   - Attributes: execution id, step id, and all Meta fields
//   - Status: error when Meta["error"] is present
//
// Spans are started and ended immediately; engine events represent points in
// time rather than durations.
//
// Usage:
//
//	tracer := otel.Tracer("conductor-go")
//	emitter := emit.NewOTelEmitter(tracer)
//	engine := workflow.NewEngine(runner, store, emitter, opts)
//
// Provider setup (exporter, batching) is application code; the emitter only
// needs a trace.Tracer.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using the given tracer, typically
// obtained from otel.Tracer("service-name").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	o.addAttributes(span, event)

	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// EmitBatch records several events as spans under one context, letting the
// span processor batch their export. Call before shutdown with any buffered
// events still pending.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.addAttributes(span, event)
		if errMsg, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, errMsg)
			span.RecordError(fmt.Errorf("%s", errMsg))
		}
		span.End()
	}
}

func (o *OTelEmitter) addAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("execution_id", event.ExecutionID),
		attribute.String("step_id", event.StepID),
	)
	if !event.At.IsZero() {
		span.SetAttributes(attribute.String("at", event.At.Format("2006-01-02T15:04:05.000Z07:00")))
	}

	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("meta."+key, v))
		case int:
			span.SetAttributes(attribute.Int("meta."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("meta."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("meta."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("meta."+key, v))
		default:
			span.SetAttributes(attribute.String("meta."+key, fmt.Sprintf("%v", v)))
		}
	}
}
