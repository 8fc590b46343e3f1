package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error {
	return f.err
}

func performHealth(t *testing.T, checker *Checker) (*httptest.ResponseRecorder, *HealthStatus) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, checker.Health(c))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec, &status
}

func TestChecker_Health_AllHealthy(t *testing.T) {
	checker := NewChecker(&fakePinger{}, &fakePinger{}, "test")

	rec, status := performHealth(t, checker)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["graph"].Status)
	assert.Equal(t, "healthy", status.Checks["redis"].Status)
}

func TestChecker_Health_GraphDown(t *testing.T) {
	checker := NewChecker(&fakePinger{err: errors.New("connection refused")}, &fakePinger{}, "test")

	rec, status := performHealth(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "unhealthy", status.Checks["graph"].Status)
	assert.Equal(t, "connection refused", status.Checks["graph"].Message)
	assert.Equal(t, "healthy", status.Checks["redis"].Status)
}

func TestChecker_Health_DependencyNotConfigured(t *testing.T) {
	checker := NewChecker(&fakePinger{}, nil, "test")

	rec, status := performHealth(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", status.Checks["redis"].Status)
}

func TestChecker_Ready(t *testing.T) {
	checker := NewChecker(&fakePinger{}, &fakePinger{}, "test")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)

	rec := httptest.NewRecorder()
	require.NoError(t, checker.Ready(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	checker.SetReady(true)
	rec = httptest.NewRecorder()
	require.NoError(t, checker.Ready(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}
