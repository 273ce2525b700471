package logger

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"passkey",
	"api_key",
	"apikey",
	"signature",
	"authorization",
}

var piiKeys = []string{
	"phone",
	"msisdn",
	"partya",
	"email",
}

// MaskJSON returns body with secrets and customer contact details masked.
// Bodies that are not JSON objects are returned unchanged.
func MaskJSON(body []byte) []byte {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}
	masked, err := json.Marshal(maskMap(req))
	if err != nil {
		return body
	}
	return masked
}

// Body is a zap field carrying a masked request or response body.
func Body(key string, body []byte) zap.Field {
	return zap.ByteString(key, MaskJSON(body))
}

// MaskPhone keeps only the last four digits of a phone number.
func MaskPhone(phone string) string {
	return maskLast4(phone)
}

// MaskEmail keeps the first three characters of the local part.
func MaskEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return maskLast4(email)
	}
	if len(parts[0]) <= 3 {
		return "****@" + parts[1]
	}
	return parts[0][:3] + "****@" + parts[1]
}

func maskMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch {
		case matches(key, sensitiveKeys):
			out[key] = maskSecret(value)
		case matches(key, piiKeys):
			out[key] = maskPII(key, value)
		default:
			out[key] = maskValue(value)
		}
	}
	return out
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return maskMap(typed)
	case []any:
		items := make([]any, 0, len(typed))
		for _, item := range typed {
			items = append(items, maskValue(item))
		}
		return items
	default:
		return value
	}
}

func maskSecret(value any) any {
	if s, ok := value.(string); ok {
		return maskLast4(s)
	}
	return "****"
}

func maskPII(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		return maskValue(value)
	}
	if strings.Contains(strings.ToLower(key), "email") {
		return MaskEmail(s)
	}
	return MaskPhone(s)
}

func matches(key string, needles []string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range needles {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func maskLast4(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
