package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/fpt/kanoa/internal/config"
)

func TestInitTracerNone(t *testing.T) {
	shutdown, err := InitTracer(t.Context(), "kanoa-test", config.TelemetrySettings{Exporter: ExporterNone})
	if err != nil {
		t.Fatal(err)
	}
	shutdown()
}

func TestInitTracerUnknownExporter(t *testing.T) {
	if _, err := InitTracer(t.Context(), "kanoa-test", config.TelemetrySettings{Exporter: "zipkin"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestInitTracerStdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := initTracer(t.Context(), "kanoa-test", config.TelemetrySettings{Exporter: ExporterStdout}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	_, span := otel.Tracer("test").Start(t.Context(), "interpret")
	span.End()
	shutdown()

	if !strings.Contains(buf.String(), `"Name": "interpret"`) {
		t.Errorf("span not exported: %s", buf.String())
	}
}
