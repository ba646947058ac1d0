package operations

import (
	"encoding/json"
	"strconv"

	"image-store/internal/domain"
)

// Command values arrive from JSON, so numbers are usually float64 but specs
// built in code may carry ints.
func intParam(cmd domain.JobCommand, key string, def int) (int, bool) {
	switch v := cmd[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, false
		}
		return n, true
	default:
		return def, false
	}
}

func floatParam(cmd domain.JobCommand, key string, def float64) float64 {
	switch v := cmd[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func boolParam(cmd domain.JobCommand, key string) bool {
	switch v := cmd[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func stringParam(cmd domain.JobCommand, key, def string) string {
	if v, ok := cmd[key].(string); ok && v != "" {
		return v
	}
	return def
}
