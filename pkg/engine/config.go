package engine

import "strconv"

// Step and trigger configs arrive as JSON maps, so numbers may be float64,
// int or string depending on the writer. These helpers normalize access.

func configString(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}

func configMap(config map[string]any, key string) map[string]any {
	value, _ := config[key].(map[string]any)

	return value
}

func configInt64(config map[string]any, key string) (int64, bool) {
	switch v := config[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func configFloat(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}
