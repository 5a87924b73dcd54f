package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), "banksync", Config{})
	require.NoError(t, err)
	assert.Nil(t, tel.TracerProvider)
	assert.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestResourceCarriesServiceName(t *testing.T) {
	r, err := newResource("banksync")
	require.NoError(t, err)
	value, ok := r.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "banksync", value.AsString())
}
