package entities

import "errors"

var (
	// ErrInvalidArgument is returned for nil attributes or attributes without a descriptor.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOwnerMismatch is returned when an attribute's type belongs to a different owner
	// than the instance it is added to.
	ErrOwnerMismatch = errors.New("attribute type owner mismatch")

	// ErrOwnerLocked is returned when changing the owner of an attribute type that is in use.
	ErrOwnerLocked = errors.New("attribute type owner is locked")

	// ErrInUse is returned when purging an attribute type that stored attributes still reference.
	ErrInUse = errors.New("attribute type is in use")
)
