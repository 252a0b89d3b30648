package params

import (
	"fmt"
	"math"
	"strconv"
)

// IntArg reads an integer argument. JSON-decoded numbers arrive as float64 and
// strings are parsed, so args survive a save/load round trip.
func IntArg(args map[string]interface{}, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("argument %s: %g is not an integer", name, t)
		}
		return int(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %s: unsupported type %T", name, v)
	}
}

// FloatArg reads a real-valued argument.
func FloatArg(args map[string]interface{}, name string, def float64) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("argument %s: unsupported type %T", name, v)
	}
}

// StringArg reads a string argument.
func StringArg(args map[string]interface{}, name string, def string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v), nil
	}
	return s, nil
}

// BoolArg reads a boolean argument.
func BoolArg(args map[string]interface{}, name string, def bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("argument %s: %w", name, err)
		}
		return b, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("argument %s: unsupported type %T", name, v)
	}
}

// Copy returns a shallow copy of args.
func Copy(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
