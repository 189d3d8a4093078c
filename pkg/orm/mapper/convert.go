package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// timeLayouts are tried in order when a driver hands back temporal values as text
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05.999999999",
	"15:04:05",
}

// ConversionError is returned when a stored value cannot be coerced to a declared type
type ConversionError struct {
	Type  schema.PrimitiveType
	Value any
	Err   error
}

// Error implements the error interface
func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot convert %T(%v) to %s: %v", e.Value, e.Value, e.Type, e.Err)
	}
	return fmt.Sprintf("cannot convert %T(%v) to %s", e.Value, e.Value, e.Type)
}

// Unwrap returns the underlying parse error
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ToStorage converts a field value to the representation bound as a statement parameter.
// Zero temporal values, the nil UUID and empty decimals are stored as NULL.
// Decimals are stored in canonical form, see CanonicalDecimal.
func ToStorage(typ schema.PrimitiveType, value any) (any, error) {
	switch typ {
	case schema.TypeDate, schema.TypeTime, schema.TypeDateTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, &ConversionError{Type: typ, Value: value}
		}
		if t.IsZero() {
			return nil, nil
		}
		return normalizeTime(typ, t), nil

	case schema.TypeUUID:
		id, ok := value.(uuid.UUID)
		if !ok {
			return nil, &ConversionError{Type: typ, Value: value}
		}
		if id == uuid.Nil {
			return nil, nil
		}
		return id.String(), nil

	case schema.TypeDecimal:
		s, ok := value.(string)
		if !ok {
			return nil, &ConversionError{Type: typ, Value: value}
		}
		if s == "" {
			return nil, nil
		}
		d, err := CanonicalDecimal(s)
		if err != nil {
			return nil, &ConversionError{Type: typ, Value: value, Err: err}
		}
		return d, nil

	case schema.TypeInt:
		i, ok := value.(int)
		if !ok {
			return nil, &ConversionError{Type: typ, Value: value}
		}
		return int64(i), nil

	default:
		return value, nil
	}
}

// FromStorage coerces a value produced by a driver into the Go type of the declared
// column type. NULL becomes the zero value.
func FromStorage(typ schema.PrimitiveType, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch typ {
	case schema.TypeString:
		if raw == nil {
			return "", nil
		}
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil

	case schema.TypeInt:
		i, err := toInt64(typ, raw)
		if err != nil {
			return nil, err
		}
		if i > math.MaxInt32 || i < math.MinInt32 {
			return nil, &ConversionError{Type: typ, Value: raw, Err: strconv.ErrRange}
		}
		return int(i), nil

	case schema.TypeLong:
		return toInt64(typ, raw)

	case schema.TypeDouble:
		return toFloat64(typ, raw)

	case schema.TypeDecimal:
		switch v := raw.(type) {
		case nil:
			return "", nil
		case string:
			return decimalFromStorage(typ, raw, v)
		case float64:
			return decimalFromStorage(typ, raw, strconv.FormatFloat(v, 'f', -1, 64))
		case int64:
			return strconv.FormatInt(v, 10), nil
		}

	case schema.TypeBool:
		switch v := raw.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, &ConversionError{Type: typ, Value: raw, Err: err}
			}
			return b, nil
		}

	case schema.TypeDate, schema.TypeTime, schema.TypeDateTime:
		switch v := raw.(type) {
		case nil:
			return time.Time{}, nil
		case time.Time:
			return normalizeTime(typ, v), nil
		case string:
			t, err := parseTime(v)
			if err != nil {
				return nil, &ConversionError{Type: typ, Value: raw, Err: err}
			}
			return normalizeTime(typ, t), nil
		}

	case schema.TypeUUID:
		switch v := raw.(type) {
		case nil:
			return uuid.Nil, nil
		case uuid.UUID:
			return v, nil
		case [16]byte:
			return uuid.UUID(v), nil
		case string:
			if len(v) == 16 {
				return uuid.FromBytes([]byte(v))
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, &ConversionError{Type: typ, Value: raw, Err: err}
			}
			return id, nil
		}

	default:
		return nil, &schema.UnsupportedFieldTypeError{Type: typ}
	}

	return nil, &ConversionError{Type: typ, Value: raw}
}

// IDFromStorage coerces an identifier or foreign key value; NULL becomes zero
func IDFromStorage(raw any) (int64, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	return toInt64(schema.TypeLong, raw)
}

// decimalFromStorage drops the scale padding a fixed-point column adds on read
func decimalFromStorage(typ schema.PrimitiveType, raw any, s string) (string, error) {
	d, err := CanonicalDecimal(s)
	if err != nil {
		return "", &ConversionError{Type: typ, Value: raw, Err: err}
	}
	return d, nil
}

func toInt64(typ schema.PrimitiveType, raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, &ConversionError{Type: typ, Value: raw, Err: strconv.ErrRange}
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, &ConversionError{Type: typ, Value: raw}
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, &ConversionError{Type: typ, Value: raw, Err: err}
		}
		return i, nil
	}
	return 0, &ConversionError{Type: typ, Value: raw}
}

func toFloat64(typ schema.PrimitiveType, raw any) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &ConversionError{Type: typ, Value: raw, Err: err}
		}
		return f, nil
	}
	return 0, &ConversionError{Type: typ, Value: raw}
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// normalizeTime keeps the calendar date for dates, the clock for times, and the UTC
// instant (truncated to microseconds, the finest precision all dialects keep) for date-times.
func normalizeTime(typ schema.PrimitiveType, t time.Time) time.Time {
	switch typ {
	case schema.TypeDate:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case schema.TypeTime:
		return time.Date(1970, time.January, 1, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	default:
		return t.UTC().Truncate(time.Microsecond)
	}
}
