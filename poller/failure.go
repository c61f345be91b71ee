package poller

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const maxFailureMessage = 512

// FailureRecord 服务写到失败位置的内容。结构不作保证，Message 尽力提取。
type FailureRecord struct {
	Raw     []byte `json:"raw"`
	Message string `json:"message"`
}

var failureMessageKeys = []string{"message", "error", "errorMessage", "Message", "ErrorMessage", "detail"}

// ParseFailure 从 JSON 的常见字段取消息，否则退化为截断后的原文
func ParseFailure(raw []byte) *FailureRecord {
	rec := &FailureRecord{Raw: raw}

	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		for _, k := range failureMessageKeys {
			if s, ok := obj[k].(string); ok && s != "" {
				rec.Message = truncate(s)
				return rec
			}
		}
	}

	text := strings.TrimSpace(string(raw))
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "?")
	}
	rec.Message = truncate(text)
	return rec
}

func truncate(s string) string {
	if len(s) <= maxFailureMessage {
		return s
	}
	cut := maxFailureMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
