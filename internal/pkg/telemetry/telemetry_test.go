package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "maxyourpoints-api", nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown(context.Background())
}
