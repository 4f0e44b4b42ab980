package utils

import (
	"fmt"
	"time"
)

// Option is a loosely typed option bag used to pass provider/model specific
// settings through layers that do not care about their shape.
type Option map[string]interface{}

// GetString returns the string stored under key.
func (o Option) GetString(key string) (string, error) {
	raw, ok := o[key]
	if !ok {
		return "", fmt.Errorf("option %q is not set", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("option %q is %T, not string", key, raw)
	}
	return value, nil
}

// GetInt returns the integer stored under key. JSON-decoded float64 values
// are accepted.
func (o Option) GetInt(key string) (int, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q is not set", key)
	}
	switch value := raw.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	default:
		return 0, fmt.Errorf("option %q is %T, not int", key, raw)
	}
}

// GetBool returns the boolean stored under key.
func (o Option) GetBool(key string) (bool, error) {
	raw, ok := o[key]
	if !ok {
		return false, fmt.Errorf("option %q is not set", key)
	}
	value, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("option %q is %T, not bool", key, raw)
	}
	return value, nil
}

// GetDuration returns the duration stored under key, accepting either a
// time.Duration or a parseable string such as "2s".
func (o Option) GetDuration(key string) (time.Duration, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("option %q is not set", key)
	}
	switch value := raw.(type) {
	case time.Duration:
		return value, nil
	case string:
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("option %q is %T, not duration", key, raw)
	}
}
