package validation

import "errors"

var (
	// ErrPatternMismatch is returned when a value does not fully match the type's RegExp
	ErrPatternMismatch = errors.New("value does not match pattern")

	// ErrInvalidPattern is returned when the type's RegExp does not compile
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidValue is returned when a value cannot be decoded in its format,
	// or a custom format rule rejects it
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownFormat is returned for formats that are neither built in nor registered
	ErrUnknownFormat = errors.New("unknown format")

	// ErrForeignKeyMissing is returned for reference formats without a foreign key
	ErrForeignKeyMissing = errors.New("reference format requires a foreign key")
)
