//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ForwardGeocode(t *testing.T) {
	place, err := smokeClient(t).ForwardGeocode(context.Background(), "Turkana, Kenya")
	require.NoError(t, err)

	assert.NotEmpty(t, place.FormattedAddress)
	assert.InDelta(t, 3.3, place.Point.Lat, 1.5)
	assert.InDelta(t, 35.6, place.Point.Lon, 1.5)
}

func TestSmoke_ReverseGeocode(t *testing.T) {
	place, err := smokeClient(t).ReverseGeocode(context.Background(), 3.1167, 35.6167)
	require.NoError(t, err)

	assert.Contains(t, place.FormattedAddress, "Kenya")
	assert.Equal(t, "Turkana", place.Region)
}
