package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "cronsync-test", "")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	defer shutdown()

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}
