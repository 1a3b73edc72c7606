package entities

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

// AttributeType describes one kind of extension attribute that instances of
// an owner can carry.
// Example: owner "department_type:pharmacy", name "license_no", format "text"
//
// AttributeType is inert metadata. Setters accept any value; RegExp and
// ForeignKey are interpreted by the validation collaborator when a value is
// assigned to an attribute, and Required is enforced at commit time by the
// persistence collaborator.
type AttributeType[O InstanceType] struct {
	Metadata

	owner          O
	attributeOrder int
	format         string
	foreignKey     *int
	regExp         string
	required       bool

	// number of attributes known to reference this type
	usage atomic.Int64
}

// NewAttributeType creates an attribute type owned by owner with a fresh UUID
func NewAttributeType[O InstanceType](owner O, name string, format string) *AttributeType[O] {
	return &AttributeType[O]{
		Metadata: Metadata{
			UUID: uuid.NewString(),
			Name: name,
		},
		owner:  owner,
		format: format,
	}
}

// Key returns the identity of the attribute type.
// Two descriptors are the same type iff their keys are equal.
func (t *AttributeType[O]) Key() string {
	return t.UUID
}

// Owner returns the owner entity this type applies to
func (t *AttributeType[O]) Owner() O {
	return t.owner
}

// OwnerKey returns the owner's TypeKey, or "" when no owner is set
func (t *AttributeType[O]) OwnerKey() string {
	if isNil(t.owner) {
		return ""
	}
	return t.owner.TypeKey()
}

// SetOwner changes the owner. Once an attribute of this type exists the owner
// can no longer change, since that would orphan the existing attributes.
func (t *AttributeType[O]) SetOwner(owner O) error {
	if t.InUse() {
		newKey := ""
		if !isNil(owner) {
			newKey = owner.TypeKey()
		}
		if newKey != t.OwnerKey() {
			return fmt.Errorf("attribute type %s has %d attribute(s): %w", t.Key(), t.usage.Load(), ErrOwnerLocked)
		}
	}
	t.owner = owner
	return nil
}

// AttributeOrder returns the position among sibling types of the same owner
func (t *AttributeType[O]) AttributeOrder() int {
	return t.attributeOrder
}

// SetAttributeOrder sets the position among sibling types of the same owner
func (t *AttributeType[O]) SetAttributeOrder(order int) {
	t.attributeOrder = order
}

// Format returns the logical datatype name of values of this type
func (t *AttributeType[O]) Format() string {
	return t.format
}

// SetFormat sets the logical datatype name
func (t *AttributeType[O]) SetFormat(format string) {
	t.format = format
}

// ForeignKey returns the reference target for reference formats.
// ok is false when no foreign key is set.
func (t *AttributeType[O]) ForeignKey() (key int, ok bool) {
	if t.foreignKey == nil {
		return 0, false
	}
	return *t.foreignKey, true
}

// SetForeignKey sets or clears (nil) the reference target
func (t *AttributeType[O]) SetForeignKey(key *int) {
	if key == nil {
		t.foreignKey = nil
		return
	}
	v := *key
	t.foreignKey = &v
}

// RegExp returns the validation pattern; "" means no pattern constraint
func (t *AttributeType[O]) RegExp() string {
	return t.regExp
}

// SetRegExp sets the validation pattern
func (t *AttributeType[O]) SetRegExp(pattern string) {
	t.regExp = pattern
}

// Required reports whether every instance of the owner must supply a value
func (t *AttributeType[O]) Required() bool {
	return t.required
}

// SetRequired sets the required flag
func (t *AttributeType[O]) SetRequired(required bool) {
	t.required = required
}

// InUse reports whether any attribute references this type: stored ones
// (SetUsageCount) plus those held by a Customizable in memory
func (t *AttributeType[O]) InUse() bool {
	return t.usage.Load() > 0
}

// SetUsageCount records how many stored attributes reference this type.
// Persistence layers call it after loading the type.
func (t *AttributeType[O]) SetUsageCount(n int64) {
	t.usage.Store(n)
}

func (t *AttributeType[O]) attach() {
	t.usage.Add(1)
}

// detach releases one attach; the count never drops below zero
func (t *AttributeType[O]) detach() {
	for {
		n := t.usage.Load()
		if n <= 0 || t.usage.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// String returns a string representation of the attribute type
// Format: owner_key.name (format)
func (t *AttributeType[O]) String() string {
	return fmt.Sprintf("%s.%s (%s)", t.OwnerKey(), t.Name, t.format)
}

// Validate checks if the attribute type can be persisted
func (t *AttributeType[O]) Validate() error {
	if t.UUID == "" {
		return fmt.Errorf("attribute type UUID is required")
	}
	if t.Name == "" {
		return fmt.Errorf("attribute type name is required")
	}
	if t.format == "" {
		return fmt.Errorf("attribute type format is required")
	}
	if t.OwnerKey() == "" {
		return fmt.Errorf("attribute type owner is required")
	}
	return nil
}

// SortAttributeTypes orders types by AttributeOrder, breaking ties by Key
func SortAttributeTypes[O InstanceType](types []*AttributeType[O]) {
	slices.SortStableFunc(types, func(a, b *AttributeType[O]) int {
		if c := cmp.Compare(a.attributeOrder, b.attributeOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
}
