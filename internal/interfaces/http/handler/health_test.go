package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okChecker() HealthChecker {
	return HealthCheckerFunc(func(context.Context) error { return nil })
}

func failingChecker(msg string) HealthChecker {
	return HealthCheckerFunc(func(context.Context) error { return errors.New(msg) })
}

func serveReady(t *testing.T, h *HealthHandler) (int, readinessResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ready", h.Ready)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestReady(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		code, resp := serveReady(t, NewHealthHandler("v1",
			Dependency{Name: "postgres", Checker: okChecker(), Required: true},
			Dependency{Name: "redis", Checker: okChecker(), Required: true},
			Dependency{Name: "vector", Checker: okChecker(), Required: true},
		))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
		assert.Len(t, resp.Checks, 3)
		assert.Equal(t, "ok", resp.Checks["vector"].Status)
	})

	t.Run("required failure", func(t *testing.T) {
		code, resp := serveReady(t, NewHealthHandler("v1",
			Dependency{Name: "postgres", Checker: failingChecker("connection refused"), Required: true},
			Dependency{Name: "redis", Checker: okChecker(), Required: true},
		))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "error", resp.Checks["postgres"].Status)
		assert.Equal(t, "connection refused", resp.Checks["postgres"].Error)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		code, resp := serveReady(t, NewHealthHandler("v1",
			Dependency{Name: "postgres", Checker: okChecker(), Required: true},
			Dependency{Name: "jobs", Checker: failingChecker("timeout")},
			Dependency{Name: "milvus"},
		))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", resp.Checks["jobs"].Status)
		assert.Equal(t, "disabled", resp.Checks["milvus"].Status)
	})

	t.Run("required but not configured", func(t *testing.T) {
		code, resp := serveReady(t, NewHealthHandler("v1", Dependency{Name: "redis", Required: true}))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "missing", resp.Checks["redis"].Status)
	})
}

func TestHealthAndLive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("1.2.3")
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/live", h.Live)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
