package entities

import "fmt"

// OwnerPolicy controls whether a Customizable checks that added attributes
// belong to its owner.
type OwnerPolicy int

const (
	// OwnerPolicyValidate rejects attributes whose type has a different owner
	OwnerPolicyValidate OwnerPolicy = iota
	// OwnerPolicyTrustCaller leaves owner consistency to the caller
	OwnerPolicyTrustCaller
)

// String returns the config name of the policy
func (p OwnerPolicy) String() string {
	switch p {
	case OwnerPolicyValidate:
		return "validate"
	case OwnerPolicyTrustCaller:
		return "trust"
	default:
		return fmt.Sprintf("OwnerPolicy(%d)", int(p))
	}
}

// ParseOwnerPolicy parses "validate" or "trust"
func ParseOwnerPolicy(s string) (OwnerPolicy, error) {
	switch s {
	case "", "validate":
		return OwnerPolicyValidate, nil
	case "trust":
		return OwnerPolicyTrustCaller, nil
	default:
		return OwnerPolicyValidate, fmt.Errorf("unknown owner policy %q: %w", s, ErrInvalidArgument)
	}
}

// Option configures a Customizable
type Option func(*options)

type options struct {
	policy OwnerPolicy
}

// WithOwnerPolicy sets the owner consistency policy
func WithOwnerPolicy(p OwnerPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// Customizable gives a metadata entity an open-ended set of typed attributes.
// Embed it into the host entity. The zero value is an empty set with the zero
// owner and the validate policy; NewCustomizable binds a real owner.
//
// The stored set is unique by attribute Key and keeps insertion order.
// Attributes are never evicted through this type: RemoveAttribute voids them.
//
// Customizable is not safe for concurrent use. It is meant to be loaded,
// mutated and flushed within one unit of work.
type Customizable[O InstanceType, A Attribute[O]] struct {
	owner      O
	policy     OwnerPolicy
	attributes []A
	index      map[string]int // key -> position in attributes
}

// NewCustomizable creates an empty attribute set for an instance of owner
func NewCustomizable[O InstanceType, A Attribute[O]](owner O, opts ...Option) *Customizable[O, A] {
	o := options{policy: OwnerPolicyValidate}
	for _, opt := range opts {
		opt(&o)
	}
	return &Customizable[O, A]{
		owner:  owner,
		policy: o.policy,
		index:  make(map[string]int),
	}
}

// Owner returns the instance type of the entity
func (c *Customizable[O, A]) Owner() O {
	return c.owner
}

// Policy returns the owner consistency policy in effect
func (c *Customizable[O, A]) Policy() OwnerPolicy {
	return c.policy
}

// Attributes returns every stored attribute, voided ones included.
//
// The returned slice is a copy: appending to or reordering it does not change
// the stored set unless it is passed back to SetAttributes. The elements are
// shared, so voiding a returned attribute is visible through the Customizable.
func (c *Customizable[O, A]) Attributes() []A {
	out := make([]A, len(c.attributes))
	copy(out, c.attributes)
	return out
}

// Len returns the number of stored attributes, voided ones included
func (c *Customizable[O, A]) Len() int {
	return len(c.attributes)
}

// SetAttributes replaces the stored set. There is no merge: callers doing an
// additive update must start from Attributes(). Duplicate keys keep the first
// occurrence. On error the stored set is left unchanged.
func (c *Customizable[O, A]) SetAttributes(attrs []A) error {
	next := make([]A, 0, len(attrs))
	index := make(map[string]int, len(attrs))
	for i, a := range attrs {
		if err := c.check(a); err != nil {
			return fmt.Errorf("attribute at index %d: %w", i, err)
		}
		if _, dup := index[a.Key()]; dup {
			continue
		}
		index[a.Key()] = len(next)
		next = append(next, a)
	}
	for _, a := range next {
		if _, known := c.index[a.Key()]; !known {
			a.AttributeType().attach()
		}
	}
	for _, a := range c.attributes {
		if _, kept := index[a.Key()]; !kept {
			a.AttributeType().detach()
		}
	}
	c.attributes = next
	c.index = index
	return nil
}

// AddAttribute inserts a into the stored set. Adding an attribute whose key
// is already stored is a no-op. The attribute counts towards its type's usage
// (and so locks the type's owner) until SetAttributes drops it.
func (c *Customizable[O, A]) AddAttribute(a A) error {
	if err := c.check(a); err != nil {
		return err
	}
	if _, exists := c.index[a.Key()]; exists {
		return nil
	}
	if c.index == nil {
		c.index = make(map[string]int)
	}
	c.index[a.Key()] = len(c.attributes)
	c.attributes = append(c.attributes, a)
	a.AttributeType().attach()
	return nil
}

// RemoveAttribute voids the stored attribute with a's key. The attribute stays
// in the set. Removing an attribute that is not stored is a no-op.
func (c *Customizable[O, A]) RemoveAttribute(a A) error {
	if isNil(a) {
		return fmt.Errorf("remove nil attribute: %w", ErrInvalidArgument)
	}
	i, exists := c.index[a.Key()]
	if !exists {
		return nil
	}
	c.attributes[i].Void("removed")
	return nil
}

// ActiveAttributes returns the stored attributes that are not voided
func (c *Customizable[O, A]) ActiveAttributes() []A {
	return FilterActive[O, A](c.attributes, nil)
}

// ActiveAttributesOf returns the stored attributes of type t that are not voided.
// Types are compared by Key. A nil or unreferenced t yields an empty result.
func (c *Customizable[O, A]) ActiveAttributesOf(t *AttributeType[O]) []A {
	if t == nil {
		return []A{}
	}
	return FilterActive[O, A](c.attributes, t)
}

// check validates a before it enters the stored set
func (c *Customizable[O, A]) check(a A) error {
	if isNil(a) {
		return fmt.Errorf("nil attribute: %w", ErrInvalidArgument)
	}
	t := a.AttributeType()
	if t == nil {
		return fmt.Errorf("attribute %s has no attribute type: %w", a.Key(), ErrInvalidArgument)
	}
	if c.policy == OwnerPolicyValidate {
		if want, got := OwnerKey(c.owner), t.OwnerKey(); want != got {
			return fmt.Errorf("attribute %s of type %s belongs to %q, not %q: %w", a.Key(), t.Key(), got, want, ErrOwnerMismatch)
		}
	}
	return nil
}

// FilterActive returns, in input order, the attributes that are not voided and,
// when of is non-nil, whose type has the same Key as of. attrs is not modified.
func FilterActive[O InstanceType, A Attribute[O]](attrs []A, of *AttributeType[O]) []A {
	out := make([]A, 0, len(attrs))
	for _, a := range attrs {
		if a.Voided() {
			continue
		}
		if of != nil {
			t := a.AttributeType()
			if t == nil || t.Key() != of.Key() {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// OwnerKey returns o.TypeKey(), or "" for a nil owner
func OwnerKey[O InstanceType](o O) string {
	if isNil(o) {
		return ""
	}
	return o.TypeKey()
}
