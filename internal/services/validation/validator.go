// Package validation checks raw attribute values against the format and
// pattern of their attribute type before the value is accepted.
package validation

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/asakaida/customattrs/internal/entities"
)

// Constraint is the part of an attribute type that governs value acceptance
type Constraint struct {
	Format     string
	RegExp     string
	ForeignKey *int
}

// ConstraintOf extracts the value constraint of an attribute type
func ConstraintOf[O entities.InstanceType](t *entities.AttributeType[O]) Constraint {
	c := Constraint{Format: t.Format(), RegExp: t.RegExp()}
	if fk, ok := t.ForeignKey(); ok {
		c.ForeignKey = &fk
	}
	return c
}

// Format is a named custom format layered on a built-in base format
type Format struct {
	Name string
	Base string
	Rule *Rule // optional
}

// Validator checks values against constraints. It is safe for concurrent use.
type Validator struct {
	rules *RuleEngine

	mu      sync.RWMutex
	formats map[string]*Format

	patterns sync.Map // pattern -> *regexp.Regexp
}

// NewValidator creates a validator knowing the built-in formats
func NewValidator() (*Validator, error) {
	rules, err := NewRuleEngine()
	if err != nil {
		return nil, err
	}
	return &Validator{
		rules:   rules,
		formats: make(map[string]*Format),
	}, nil
}

// Register adds a custom format. rule may be empty.
func (v *Validator) Register(name string, base string, rule string) error {
	if name == "" {
		return fmt.Errorf("format name is required")
	}
	if IsBuiltin(name) {
		return fmt.Errorf("format %s shadows a built-in format", name)
	}
	if !IsBuiltin(base) {
		return fmt.Errorf("format %s: base %q: %w", name, base, ErrUnknownFormat)
	}

	f := &Format{Name: name, Base: base}
	if rule != "" {
		compiled, err := v.rules.Compile(rule)
		if err != nil {
			return fmt.Errorf("format %s: %w", name, err)
		}
		f.Rule = compiled
	}

	v.mu.Lock()
	v.formats[name] = f
	v.mu.Unlock()
	return nil
}

// Formats returns the names of the registered custom formats
func (v *Validator) Formats() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.formats))
	for name := range v.formats {
		names = append(names, name)
	}
	return names
}

// Known reports whether format is built in or registered
func (v *Validator) Known(format string) bool {
	_, err := v.baseOf(format)
	return err == nil
}

// CheckConstraint reports whether values can ever be checked against c:
// the format is known, the pattern compiles, and reference formats carry
// a foreign key.
func (v *Validator) CheckConstraint(c Constraint) error {
	base, err := v.baseOf(c.Format)
	if err != nil {
		return err
	}
	if IsReference(base) && c.ForeignKey == nil {
		return fmt.Errorf("format %s: %w", c.Format, ErrForeignKeyMissing)
	}
	if c.RegExp != "" {
		if _, err := v.pattern(c.RegExp); err != nil {
			return err
		}
	}
	return nil
}

// Check validates raw against c: the pattern first, then the format
func (v *Validator) Check(c Constraint, raw string) error {
	_, err := v.Decode(c, raw)
	return err
}

// Decode validates raw against c and returns the typed value
func (v *Validator) Decode(c Constraint, raw string) (any, error) {
	if c.RegExp != "" {
		re, err := v.pattern(c.RegExp)
		if err != nil {
			return nil, err
		}
		if !re.MatchString(raw) {
			return nil, fmt.Errorf("%q against %q: %w", raw, c.RegExp, ErrPatternMismatch)
		}
	}
	return v.decode(c, raw)
}

func (v *Validator) decode(c Constraint, raw string) (any, error) {
	base := c.Format
	var custom *Format
	if !IsBuiltin(base) {
		custom = v.lookup(c.Format)
		if custom == nil {
			return nil, fmt.Errorf("%s: %w", c.Format, ErrUnknownFormat)
		}
		base = custom.Base
	}

	if IsReference(base) && c.ForeignKey == nil {
		return nil, fmt.Errorf("format %s: %w", c.Format, ErrForeignKeyMissing)
	}

	typed, err := decodeBuiltin(base, raw)
	if err != nil {
		return nil, err
	}

	if custom != nil && custom.Rule != nil {
		ok, err := custom.Rule.Eval(raw, typed)
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", custom.Name, err)
		}
		if !ok {
			return nil, fmt.Errorf("%q rejected by format %s (%s): %w", raw, custom.Name, custom.Rule.Expression(), ErrInvalidValue)
		}
	}

	return typed, nil
}

func (v *Validator) lookup(name string) *Format {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.formats[name]
}

// baseOf resolves a format name to its built-in base format
func (v *Validator) baseOf(format string) (string, error) {
	if IsBuiltin(format) {
		return format, nil
	}
	if f := v.lookup(format); f != nil {
		return f.Base, nil
	}
	return "", fmt.Errorf("%s: %w", format, ErrUnknownFormat)
}

// pattern compiles a RegExp so that it must match the whole value
func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, fmt.Errorf("%q: %v: %w", expr, err, ErrInvalidPattern)
	}
	actual, _ := v.patterns.LoadOrStore(expr, re)
	return actual.(*regexp.Regexp), nil
}

// ValidateValue checks raw against the constraint of attribute type t
func ValidateValue[O entities.InstanceType](v *Validator, t *entities.AttributeType[O], raw string) error {
	return v.Check(ConstraintOf(t), raw)
}
