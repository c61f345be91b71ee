package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/svdflow/jobstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockHealthCheck 模拟健康检查
type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string {
	return m.name
}

func (m *mockHealthCheck) Check(ctx context.Context) error {
	return m.err
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantHealth string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "all pass",
			checks: []HealthCheck{
				&mockHealthCheck{name: "jobstore"},
				&mockHealthCheck{name: "storage"},
			},
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "one fails",
			checks: []HealthCheck{
				&mockHealthCheck{name: "jobstore", err: errors.New("connection refused")},
				&mockHealthCheck{name: "storage"},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				handler.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantHealth, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			for _, c := range tt.checks {
				if c.(*mockHealthCheck).err != nil {
					assert.Equal(t, "fail", status.Checks[c.Name()].Status)
					assert.Equal(t, "connection refused", status.Checks[c.Name()].Message)
				} else {
					assert.Equal(t, "pass", status.Checks[c.Name()].Status)
				}
			}
		})
	}
}

func TestHealthHandler_ReadyPingsJobStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store := jobstore.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	handler := NewHealthHandler(nil)
	handler.RegisterCheck(NewPingCheck("jobstore", store.Ping))

	w := httptest.NewRecorder()
	handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mr.Close()
	w = httptest.NewRecorder()
	handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	w := httptest.NewRecorder()
	handler.HandleVersion(VersionInfo{Version: "1.2.3", BuildTime: "now", GitCommit: "abc"})(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	info := decodeData[VersionInfo](t, resp)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc", info.GitCommit)
}
