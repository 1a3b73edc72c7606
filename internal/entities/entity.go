package entities

import (
	"fmt"
	"time"
)

// InstanceType is the owner side of an attribute type: a metadata entity that
// customizable instances are typed by (e.g. a department type or an item type).
// TypeKey must be stable for the lifetime of the owner.
type InstanceType interface {
	TypeKey() string
}

// OwnerRef is a plain InstanceType for hosts that do not carry an owner type
// of their own.
// Example: OwnerRef{Kind: "department_type", ID: "pharmacy"}
type OwnerRef struct {
	Kind string // Owner kind (e.g., "department_type")
	ID   string // Owner identifier within the kind
}

// TypeKey returns "kind:id", or "" for the zero OwnerRef
func (o OwnerRef) TypeKey() string {
	if o.Kind == "" && o.ID == "" {
		return ""
	}
	return o.Kind + ":" + o.ID
}

// String returns the owner key
func (o OwnerRef) String() string {
	return o.TypeKey()
}

// ParseOwnerRef parses a "kind:id" key back into an OwnerRef
func ParseOwnerRef(key string) (OwnerRef, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			if i == 0 || i == len(key)-1 {
				break
			}
			return OwnerRef{Kind: key[:i], ID: key[i+1:]}, nil
		}
	}
	return OwnerRef{}, fmt.Errorf("invalid owner key %q: %w", key, ErrInvalidArgument)
}

// Metadata holds the identity and naming fields shared by metadata entities.
// It is embedded, not inherited from.
type Metadata struct {
	ID           int64  // Database identifier, zero until persisted
	UUID         string // Stable public identifier
	Name         string
	Description  string
	Retired      bool
	RetireReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Retire marks the metadata as retired with the given reason
func (m *Metadata) Retire(reason string) {
	m.Retired = true
	m.RetireReason = reason
}

// Unretire brings retired metadata back into use and drops the retire reason
func (m *Metadata) Unretire() {
	m.Retired = false
	m.RetireReason = ""
}
