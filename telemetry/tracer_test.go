package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/c0deZ3R0/carsync/logging"
)

func TestInitTracerWithWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracerWithWriter("carsync-test", &buf, logging.Discard().Logger)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "reconcile.listManufacturers")
	span.End()

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name": "reconcile.listManufacturers"`)
	assert.Contains(t, out, "carsync-test")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop(context.Background()))
}
