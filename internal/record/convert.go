package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/tuannm99/rowstore/internal/dberr"
)

func convertErr(v any, to string, err error) error {
	return dberr.Encoding("set", "cannot convert %T to %s: %v", v, to, err)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli(), nil
	case float32:
		return floatToInt64(float64(x), v)
	case float64:
		return floatToInt64(x, v)
	case string:
		// cast treats "08" as octal
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, convertErr(v, "integer", err)
		}
		return n, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, convertErr(v, "integer", err)
	}
	return n, nil
}

func floatToInt64(f float64, v any) (int64, error) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, convertErr(v, "integer", fmt.Errorf("%g out of range", f))
	}
	return int64(f), nil
}

func toIntRange(v any, lo, hi int64) (int64, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, dberr.Encoding("set", "%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func toFloat64(v any) (float64, error) {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, convertErr(v, "double", err)
	}
	return f, nil
}

func toBool(v any) (bool, error) {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, convertErr(v, "boolean", err)
	}
	return b, nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return string(x), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", convertErr(v, "string", err)
	}
	return s, nil
}

func toBytes(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	s, err := toString(v)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// toTime accepts time.Time, epoch milliseconds, or any string cast can
// parse (ISO-8601 included).
func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		ms, err := cast.ToInt64E(x)
		if err != nil {
			return time.Time{}, convertErr(v, "timestamp", err)
		}
		return time.UnixMilli(ms), nil
	}
	ts, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, convertErr(v, "timestamp", err)
	}
	return ts, nil
}

// toScaled converts a numeric value to round(v * 10^scale).
func toScaled(v any, scale int) (int64, error) {
	if s, ok := v.(string); ok {
		return parseScaled(strings.TrimSpace(s), scale, v)
	}
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		p := pow10(scale)
		if n > math.MaxInt64/p || n < math.MinInt64/p {
			return 0, dberr.Encoding("set", "%d overflows NUMERIC scale %d", n, scale)
		}
		return n * p, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, err
	}
	return floatToInt64(math.Round(f*float64(pow10(scale))), v)
}

// parseScaled reads a decimal string exactly, rounding half away from zero.
func parseScaled(s string, scale int, v any) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	intPart, frac, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if strings.ContainsAny(frac, "eE") || strings.ContainsAny(intPart, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, convertErr(v, "numeric", err)
		}
		if neg {
			f = -f
		}
		return floatToInt64(math.Round(f*float64(pow10(scale))), v)
	}

	roundUp := false
	if len(frac) > scale {
		roundUp = frac[scale] >= '5'
		frac = frac[:scale]
	}
	frac += strings.Repeat("0", scale-len(frac))

	n, err := strconv.ParseInt(intPart+frac, 10, 64)
	if err != nil {
		return 0, convertErr(v, "numeric", err)
	}
	if roundUp {
		n++
	}
	if neg {
		n = -n
	}
	return n, nil
}
