package neoogm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var errNotCoercible = errors.New("value cannot be coerced")

// Coerce converts a raw record value into the value stored for the property. nil is returned
// unchanged; the caller decides what an absent value means.
func (p PropertySpec) Coerce(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch p.Type {
	case StringType, UniqueIDType:
		return coerceString(raw)
	case IntegerType:
		return coerceInteger(raw)
	case FloatType:
		return coerceFloat(raw)
	case BooleanType:
		return coerceBoolean(raw)
	case DateTimeType:
		return coerceDateTime(raw)
	default:
		return nil, fmt.Errorf("property %s has unsupported type %d", p.Name, p.Type)
	}
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string", errNotCoercible, raw)
	}
}

func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(v).Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", errNotCoercible, u)
		}
		return int64(u), nil
	case float32:
		return floatToInteger(float64(v))
	case float64:
		return floatToInteger(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errNotCoercible, v.String())
		}
		return floatToInteger(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", errNotCoercible, v)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("%w: %T is not an integer", errNotCoercible, raw)
	}
}

func floatToInteger(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: %v is not a whole number", errNotCoercible, f)
	}
	return int64(f), nil
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(v).Int()), nil
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(v).Uint()), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errNotCoercible, v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errNotCoercible, v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a number", errNotCoercible, raw)
	}
}

func coerceBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", errNotCoercible, v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a boolean", errNotCoercible, raw)
	}
}

func coerceDateTime(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", errNotCoercible, v)
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a timestamp", errNotCoercible, raw)
	}
}

// deflate validates record against the model and returns the values to write. Absent and nil
// values are left out, defaults are generated, and required properties must end up with a value.
func deflate(def modelDefinition, record Record) (map[string]any, error) {
	for name := range record {
		if _, ok := def.Property(name); !ok {
			return nil, &ValidationError{Model: def.name, Property: name, Value: record[name], Err: ErrUnknownProperty}
		}
	}

	deflated := make(map[string]any, len(def.properties))
	for _, p := range def.properties {
		raw := record[p.Name]
		if raw == nil && p.HasDefault() {
			raw = p.Default()
		}
		if raw == nil {
			if p.Required {
				return nil, &ValidationError{Model: def.name, Property: p.Name, Err: ErrRequired}
			}
			continue
		}

		value, err := p.Coerce(raw)
		if err != nil {
			return nil, &ValidationError{Model: def.name, Property: p.Name, Value: raw, Err: err}
		}
		deflated[p.Name] = value
	}
	return deflated, nil
}

// inflate coerces stored values back through the model so that results look the same whatever
// transport fetched them. Properties the model does not declare are kept as they are.
func inflate(def modelDefinition, stored map[string]any) map[string]any {
	props := make(map[string]any, len(stored))
	for name, value := range stored {
		props[name] = value
		if p, ok := def.Property(name); ok && value != nil {
			if coerced, err := p.Coerce(value); err == nil {
				props[name] = coerced
			}
		}
	}
	return props
}
