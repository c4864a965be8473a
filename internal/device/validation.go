package device

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValueRange bounds a numeric device value. Max is +Inf for open ranges.
type ValueRange struct {
	Min     float64
	Max     float64
	Integer bool
}

// Value keys understood by the board firmware, with their accepted ranges.
var valueRanges = map[string]ValueRange{
	"heart_rate": {Min: 30, Max: 220, Integer: true},
	"speed":      {Min: 0, Max: 50},
	"incline":    {Min: -10, Max: 40},
	"cadence":    {Min: 0, Max: 300, Integer: true},
	"power":      {Min: 0, Max: 2000, Integer: true},
	"battery":    {Min: 0, Max: 100, Integer: true},
	"distance":   {Min: 0, Max: math.Inf(1)},
}

// Pre-computed validation set for O(1) lookups.
var validDeviceTypes map[DeviceType]struct{}

func init() {
	validDeviceTypes = make(map[DeviceType]struct{}, len(AllDeviceTypes()))
	for _, t := range AllDeviceTypes() {
		validDeviceTypes[t] = struct{}{}
	}
}

// ValidateID checks that id can be used as one level of a device topic:
// non-empty, with no level separator, wildcard or NUL.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if strings.ContainsAny(id, "/+#\x00") {
		return fmt.Errorf("%w: %q must not contain '/', '+', '#' or NUL", ErrInvalidDeviceID, id)
	}
	return nil
}

// ValidateDeviceType checks if a device type is supported.
func ValidateDeviceType(deviceType DeviceType) error {
	if _, ok := validDeviceTypes[deviceType]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDeviceType, deviceType)
}

// ValidateValues checks a set-values command. At least one key must be
// present, every key must be known, and every value must be a number
// inside its range. heart_rate, cadence, power and battery must be whole.
func ValidateValues(values Values) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: no values supplied", ErrInvalidValue)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		r, ok := valueRanges[k]
		if !ok {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidValue, k)
		}
		n, ok := toFloat(values[k])
		if !ok {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidValue, k)
		}
		if r.Integer && n != math.Trunc(n) {
			return fmt.Errorf("%w: %s must be a whole number", ErrInvalidValue, k)
		}
		if n < r.Min || n > r.Max {
			if math.IsInf(r.Max, 1) {
				return fmt.Errorf("%w: %s must be >= %g", ErrInvalidValue, k, r.Min)
			}
			return fmt.Errorf("%w: %s must be between %g and %g", ErrInvalidValue, k, r.Min, r.Max)
		}
	}
	return nil
}

// Ranges returns a copy of the accepted value ranges keyed by value name.
func Ranges() map[string]ValueRange {
	out := make(map[string]ValueRange, len(valueRanges))
	for k, v := range valueRanges {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
