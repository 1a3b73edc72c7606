package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Attribute is the contract an attribute instance fulfils to be stored in a
// Customizable. Each attribute is tied to exactly one attribute type.
type Attribute[O InstanceType] interface {
	// Key returns the attribute's identity
	Key() string
	// AttributeType returns the defining descriptor
	AttributeType() *AttributeType[O]
	// Voided reports whether the attribute has been soft-deleted
	Voided() bool
	// Void soft-deletes the attribute. Voiding is one-way and idempotent.
	Void(reason string)
}

// InstanceAttribute is a concrete attribute value attached to one entity.
// Example: department:42 license_no = "PH-0091"
type InstanceAttribute[O InstanceType] struct {
	UUID       string
	Type       *AttributeType[O]
	Value      string // Raw value; decoded per Type.Format() by the validation package
	CreatedAt  time.Time
	VoidedAt   time.Time
	VoidReason string

	voided bool
}

// NewInstanceAttribute creates an active attribute of type t holding value
func NewInstanceAttribute[O InstanceType](t *AttributeType[O], value string) *InstanceAttribute[O] {
	return &InstanceAttribute[O]{
		UUID:      uuid.NewString(),
		Type:      t,
		Value:     value,
		CreatedAt: time.Now(),
	}
}

// RestoreInstanceAttribute rebuilds a stored attribute, including its voided state.
// It is meant for persistence layers only.
func RestoreInstanceAttribute[O InstanceType](id string, t *AttributeType[O], value string, createdAt time.Time, voided bool, voidedAt time.Time, reason string) *InstanceAttribute[O] {
	return &InstanceAttribute[O]{
		UUID:       id,
		Type:       t,
		Value:      value,
		CreatedAt:  createdAt,
		VoidedAt:   voidedAt,
		VoidReason: reason,
		voided:     voided,
	}
}

// Key returns the attribute UUID
func (a *InstanceAttribute[O]) Key() string {
	return a.UUID
}

// AttributeType returns the defining descriptor
func (a *InstanceAttribute[O]) AttributeType() *AttributeType[O] {
	return a.Type
}

// Voided reports whether the attribute has been soft-deleted
func (a *InstanceAttribute[O]) Voided() bool {
	return a.voided
}

// Void marks the attribute voided. Calling it again keeps the first
// VoidedAt and VoidReason.
func (a *InstanceAttribute[O]) Void(reason string) {
	if a.voided {
		return
	}
	a.voided = true
	a.VoidedAt = time.Now()
	a.VoidReason = reason
}

// String returns a string representation of the attribute
// Format: type_name = value, with a [voided] suffix for voided attributes
func (a *InstanceAttribute[O]) String() string {
	name := "<untyped>"
	if a.Type != nil {
		name = a.Type.Name
	}
	if a.voided {
		return fmt.Sprintf("%s = %s [voided]", name, a.Value)
	}
	return fmt.Sprintf("%s = %s", name, a.Value)
}

// Validate checks if the attribute can be persisted
func (a *InstanceAttribute[O]) Validate() error {
	if a.UUID == "" {
		return fmt.Errorf("attribute UUID is required")
	}
	if a.Type == nil {
		return fmt.Errorf("attribute type is required")
	}
	if a.Type.ID == 0 {
		return fmt.Errorf("attribute type %s is not persisted", a.Type.Key())
	}
	return nil
}
