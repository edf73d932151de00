package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Init(context.Background(), Config{ServiceName: "faceswap"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantOpts int
		wantErr  bool
	}{
		{"host and port", "collector:4318", 2, false},
		{"http url", "http://collector:4318", 2, false},
		{"https url with path", "https://otel.example.com/v1/traces", 2, false},
		{"http url with path", "http://collector:4318/custom", 3, false},
		{"missing host", "http://", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := exporterOptions(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.wantOpts)
		})
	}
}

func TestNewResource(t *testing.T) {
	res := newResource(Config{ServiceName: "faceswap", ServiceVersion: "1.2.3"})
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "faceswap", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}
