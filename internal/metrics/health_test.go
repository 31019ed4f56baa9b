package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, handler http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return rec.Code, status
}

func TestHealthHandler(t *testing.T) {
	SetVersion("1.2.3")
	code, status := getStatus(t, HealthHandler())
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, "1.2.3", status.Version)
}

func TestReadinessHandler(t *testing.T) {
	code, status := getStatus(t, ReadinessHandler(nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", status.Status)

	failing := func(context.Context) error { return errors.New("authority unreachable") }
	code, status = getStatus(t, ReadinessHandler(failing))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not_ready", status.Status)
}

func TestLivenessHandler(t *testing.T) {
	code, status := getStatus(t, LivenessHandler())
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alive", status.Status)
}
