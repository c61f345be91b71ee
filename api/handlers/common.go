package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/svdflow/internal/ctxkeys"
	"github.com/BaSui01/svdflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败只能丢弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData 写入带状态码的成功响应
func WriteData(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
	if r != nil {
		resp.RequestID, _ = ctxkeys.RequestID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteData(w, nil, http.StatusOK, data)
}

// WriteError 写入错误响应。非 *types.Error 的错误按 INTERNAL_ERROR 处理，消息不外泄。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	status := types.HTTPStatusFor(apiErr)

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(apiErr.Code),
			Message:    apiErr.Message,
			Retryable:  apiErr.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
	}
	if r != nil {
		resp.RequestID, _ = ctxkeys.RequestID(r.Context())
	}

	if logger != nil {
		log := logger.Warn
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("API error",
			zap.String("code", string(apiErr.Code)),
			zap.String("message", apiErr.Message),
			zap.Int("status", status),
			zap.String("request_id", resp.RequestID),
			zap.Error(apiErr.Cause),
		)
	}

	WriteJSON(w, status, resp)
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体。maxBytes > 0 时限制请求体大小，未知字段直接拒绝。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.Errorf(types.ErrInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err)).WithCause(err)
	}
	if decoder.More() {
		return types.NewError(types.ErrInvalidRequest, "request body must contain a single JSON object")
	}
	return nil
}

// ValidateContentType 要求 application/json
func ValidateContentType(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
	}
	return nil
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 只记录第一次写入的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
