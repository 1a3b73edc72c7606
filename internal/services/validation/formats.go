package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Built-in formats
const (
	FormatText      = "text"
	FormatNumber    = "number"
	FormatInteger   = "integer"
	FormatBoolean   = "boolean"
	FormatDate      = "date"
	FormatDateTime  = "datetime"
	FormatConcept   = "concept"
	FormatReference = "reference"
)

// DateLayout is the layout of "date" values
const DateLayout = "2006-01-02"

var builtinFormats = map[string]bool{
	FormatText:      true,
	FormatNumber:    true,
	FormatInteger:   true,
	FormatBoolean:   true,
	FormatDate:      true,
	FormatDateTime:  true,
	FormatConcept:   true,
	FormatReference: true,
}

// IsBuiltin reports whether format is one of the built-in formats
func IsBuiltin(format string) bool {
	return builtinFormats[format]
}

// IsReference reports whether values of format point at another row through
// the attribute type's foreign key
func IsReference(format string) bool {
	return format == FormatConcept || format == FormatReference
}

// decodeBuiltin converts raw into the Go value of a built-in format:
// string, float64, int64, bool or time.Time.
func decodeBuiltin(format string, raw string) (any, error) {
	switch format {
	case FormatText:
		return raw, nil
	case FormatNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a number: %w", raw, ErrInvalidValue)
		}
		return f, nil
	case FormatInteger, FormatConcept, FormatReference:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer: %w", raw, ErrInvalidValue)
		}
		return n, nil
	case FormatBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean: %w", raw, ErrInvalidValue)
		}
		return b, nil
	case FormatDate:
		d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a date (%s): %w", raw, DateLayout, ErrInvalidValue)
		}
		return d, nil
	case FormatDateTime:
		d, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not an RFC 3339 timestamp: %w", raw, ErrInvalidValue)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrUnknownFormat)
	}
}
