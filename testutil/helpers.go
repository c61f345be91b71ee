// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// =============================================================================
// 📦 数据工具
// =============================================================================

// MustJSON 序列化失败时终止测试
func MustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return data
}
