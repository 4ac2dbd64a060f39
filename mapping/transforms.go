package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	TransformIdentity     = "identity"
	TransformToString     = "to_string"
	TransformToInt        = "to_int"
	TransformToFloat      = "to_float"
	TransformToBool       = "to_bool"
	TransformTrim         = "trim"
	TransformLowercase    = "lowercase"
	TransformUppercase    = "uppercase"
	TransformUnixToRFC339 = "unix_time_to_rfc3339"
	TransformGeoPoint     = "geo_point"
)

func normalizeTransform(transform string) string {
	candidate := strings.TrimSpace(strings.ToLower(transform))
	if candidate == "" {
		return TransformIdentity
	}
	return candidate
}

func isSupportedTransform(transform string) bool {
	switch normalizeTransform(transform) {
	case TransformIdentity,
		TransformToString,
		TransformToInt,
		TransformToFloat,
		TransformToBool,
		TransformTrim,
		TransformLowercase,
		TransformUppercase,
		TransformUnixToRFC339,
		TransformGeoPoint:
		return true
	default:
		return false
	}
}

// transformedType is the NGSI type a transform always yields, or "" when the
// type must be inferred from the value.
func transformedType(transform string) string {
	switch normalizeTransform(transform) {
	case TransformUnixToRFC339:
		return "DateTime"
	case TransformGeoPoint:
		return "geo:json"
	default:
		return ""
	}
}

func applyTransform(transform string, value any) (any, error) {
	switch normalizeTransform(transform) {
	case TransformIdentity:
		return value, nil
	case TransformToString:
		if text, ok := value.(string); ok {
			return text, nil
		}
		if number, ok := toNumber(value); ok {
			return strconv.FormatFloat(number, 'f', -1, 64), nil
		}
		return fmt.Sprint(value), nil
	case TransformToInt:
		return toIntValue(value)
	case TransformToFloat:
		return toFloatValue(value)
	case TransformToBool:
		return toBoolValue(value)
	case TransformTrim, TransformLowercase, TransformUppercase:
		text, err := toStringStrict(value)
		if err != nil {
			return nil, err
		}
		switch normalizeTransform(transform) {
		case TransformLowercase:
			return strings.ToLower(text), nil
		case TransformUppercase:
			return strings.ToUpper(text), nil
		default:
			return strings.TrimSpace(text), nil
		}
	case TransformUnixToRFC339:
		seconds, err := toIntValue(value)
		if err != nil {
			return nil, err
		}
		return time.Unix(seconds, 0).UTC().Format(time.RFC3339), nil
	case TransformGeoPoint:
		return toGeoPoint(value)
	default:
		return nil, fmt.Errorf("mapping: unsupported transform %q", transform)
	}
}

// toGeoPoint accepts [lat, lon] or {lat, lon} and returns a GeoJSON Point,
// which orders coordinates as [lon, lat].
func toGeoPoint(value any) (any, error) {
	var lat, lon any
	switch typed := value.(type) {
	case []any:
		if len(typed) != 2 {
			return nil, fmt.Errorf("mapping: geo point needs 2 coordinates, got %d", len(typed))
		}
		lat, lon = typed[0], typed[1]
	case []float64:
		if len(typed) != 2 {
			return nil, fmt.Errorf("mapping: geo point needs 2 coordinates, got %d", len(typed))
		}
		lat, lon = typed[0], typed[1]
	case map[string]any:
		var okLat, okLon bool
		lat, okLat = firstKey(typed, "lat", "latitude")
		lon, okLon = firstKey(typed, "lon", "lng", "longitude")
		if !okLat || !okLon {
			return nil, fmt.Errorf("mapping: geo point object needs lat and lon")
		}
	default:
		return nil, fmt.Errorf("mapping: unsupported geo point input %T", value)
	}

	latitude, err := toFloatValue(lat)
	if err != nil {
		return nil, fmt.Errorf("mapping: geo point latitude: %w", err)
	}
	longitude, err := toFloatValue(lon)
	if err != nil {
		return nil, fmt.Errorf("mapping: geo point longitude: %w", err)
	}
	if latitude < -90 || latitude > 90 {
		return nil, fmt.Errorf("mapping: latitude %v out of range", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("mapping: longitude %v out of range", longitude)
	}
	return map[string]any{
		"type":        "Point",
		"coordinates": []any{longitude, latitude},
	}, nil
}

func firstKey(values map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := values[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// toNumber reports the float64 value of any Go numeric kind.
func toNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

func toIntValue(value any) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case bool:
		if typed {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed, nil
		}
	case string:
		candidate := strings.TrimSpace(typed)
		if candidate == "" {
			return 0, fmt.Errorf("mapping: empty string cannot convert to int")
		}
		if parsed, err := strconv.ParseInt(candidate, 10, 64); err == nil {
			return parsed, nil
		}
		parsed, err := strconv.ParseFloat(candidate, 64)
		if err != nil {
			return 0, fmt.Errorf("mapping: parse string as int: %w", err)
		}
		return int64(math.Trunc(parsed)), nil
	}
	if number, ok := toNumber(value); ok {
		return int64(math.Trunc(number)), nil
	}
	return 0, fmt.Errorf("mapping: unsupported int conversion from %T", value)
}

func toFloatValue(value any) (float64, error) {
	if number, ok := toNumber(value); ok {
		return number, nil
	}
	switch typed := value.(type) {
	case bool:
		if typed {
			return 1, nil
		}
		return 0, nil
	case string:
		candidate := strings.TrimSpace(typed)
		if candidate == "" {
			return 0, fmt.Errorf("mapping: empty string cannot convert to float")
		}
		parsed, err := strconv.ParseFloat(candidate, 64)
		if err != nil {
			return 0, fmt.Errorf("mapping: parse string as float: %w", err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("mapping: unsupported float conversion from %T", value)
	}
}

func toBoolValue(value any) (bool, error) {
	if typed, ok := value.(bool); ok {
		return typed, nil
	}
	if number, ok := toNumber(value); ok {
		return number != 0, nil
	}
	text, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("mapping: unsupported bool conversion from %T", value)
	}
	switch strings.TrimSpace(strings.ToLower(text)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("mapping: parse string as bool: %q", text)
	}
}

func toStringStrict(value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("mapping: expected string input for text transform, got %T", value)
	}
	return text, nil
}
