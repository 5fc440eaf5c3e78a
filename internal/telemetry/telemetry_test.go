package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledRecordersAreNoOps(t *testing.T) {
	tel, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, tel)

	// None of these may panic when telemetry is disabled.
	tel.RecordFetch("success", 120*time.Millisecond)
	tel.IncrementInFlight()
	tel.DecrementInFlight()
	tel.RecordArtifactBytes(1024)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestDisabledHandlerReturnsNotFound(t *testing.T) {
	tel, err := New(Config{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterServesHealthz(t *testing.T) {
	tel, err := New(Config{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
