package event

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink turns each execution event into an OpenTelemetry span.
//
// Each event becomes a zero-duration span named after its type
// (e.g. "node.started") with attributes:
//   - run_id, node_id
//   - one attribute per payload key (stringified)
//
// Spans for events carrying an "error" payload get error status with the
// failure message.
//
// Usage:
//
//	tracer := otel.Tracer("graphrun")
//	eng, _ := graph.NewEngine(plan, exec,
//	    graph.WithSinks(event.NewOTelSink(tracer)),
//	)
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates an OTelSink from a tracer obtained via
// otel.Tracer("service-name").
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Write implements Sink.
func (o *OTelSink) Write(ev Event) {
	_, span := o.tracer.Start(context.Background(), string(ev.Type),
		trace.WithTimestamp(ev.Timestamp),
	)

	attrs := []attribute.KeyValue{
		attribute.String("run_id", ev.RunID),
	}
	if ev.NodeID != "" {
		attrs = append(attrs, attribute.String("node_id", ev.NodeID))
	}
	for k, v := range ev.Payload {
		attrs = append(attrs, attribute.String("payload."+k, fmt.Sprint(v)))
	}
	span.SetAttributes(attrs...)

	if errVal, ok := ev.Payload["error"]; ok {
		span.SetStatus(codes.Error, fmt.Sprint(errVal))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(ev.Timestamp))
}
