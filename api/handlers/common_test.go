package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/svdflow/internal/ctxkeys"
	"github.com/BaSui01/svdflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{
			name:       "simple object",
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "accepted array",
			data:       []int{1, 2, 3},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteData_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteData(w, r, http.StatusAccepted, map[string]string{"job_id": "mock-001"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "title is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrInvalidRequest),
		},
		{
			name:           "not found",
			err:            types.NewError(types.ErrNotFound, "job not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrNotFound),
		},
		{
			name:           "wrapped storage error",
			err:            types.WrapError(errors.New("connection refused"), types.ErrStorage, "upload request"),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   string(types.ErrStorage),
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrInternalError, "draining").WithHTTPStatus(http.StatusServiceUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   string(types.ErrInternalError),
		},
		{
			name:           "plain error",
			err:            errors.New("secret dsn leaked"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   string(types.ErrInternalError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, nil, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			assert.NotContains(t, resp.Error.Message, "secret")
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{
			name:    "invalid JSON",
			body:    `{"name":"test",}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			body:    `{"name":"test","unknown":"field"}`,
			wantErr: true,
		},
		{
			name:    "trailing object",
			body:    `{"name":"a"}{"name":"b"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, 0)

			if tt.wantErr {
				assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest), err)
				return
			}
			require.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, &result)
			}
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	type TestStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, 1<<20)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, types.HTTPStatusFor(err))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"small"}`))
	require.NoError(t, DecodeJSONBody(w, r, &result, 1<<20))
	assert.Equal(t, "small", result.Name)
}

func TestDecodeJSONBody_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)
	var v map[string]any
	assert.True(t, types.IsErrorCode(DecodeJSONBody(w, r, &v, 0), types.ErrInvalidRequest))
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"valid application/json", "application/json", true},
		{"valid with charset", "application/json; charset=utf-8", true},
		{"valid with uppercase charset", "application/json; charset=UTF-8", true},
		{"valid with extra whitespace", "application/json;  charset=utf-8", true},
		{"invalid text/plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			err := ValidateContentType(r)
			assert.Equal(t, tt.want, err == nil)
			if err != nil {
				assert.Equal(t, http.StatusUnsupportedMediaType, types.HTTPStatusFor(err))
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	// 初始状态
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), rw.BytesWritten)
	assert.Same(t, w, rw.Unwrap())
}
