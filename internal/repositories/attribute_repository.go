package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/asakaida/customattrs/internal/entities"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// OwnerResolver rebuilds an owner from its stored TypeKey
type OwnerResolver[O entities.InstanceType] func(key string) (O, error)

// TypeLookup resolves an attribute type by its database ID
type TypeLookup[O entities.InstanceType] func(ctx context.Context, id int64) (*entities.AttributeType[O], error)

// TypesByID returns a TypeLookup over the given descriptors. Unknown IDs
// fail with ErrNotFound, or are passed to fallback when it is non-nil.
func TypesByID[O entities.InstanceType](types []*entities.AttributeType[O], fallback TypeLookup[O]) TypeLookup[O] {
	byID := make(map[int64]*entities.AttributeType[O], len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	return func(ctx context.Context, id int64) (*entities.AttributeType[O], error) {
		if t, ok := byID[id]; ok {
			return t, nil
		}
		if fallback != nil {
			return fallback(ctx, id)
		}
		return nil, fmt.Errorf("attribute type %d: %w", id, ErrNotFound)
	}
}

// AttributeTypeRepository defines the interface for attribute type data access
type AttributeTypeRepository[O entities.InstanceType] interface {
	// Create stores a new attribute type and assigns its ID
	Create(ctx context.Context, t *entities.AttributeType[O]) error

	// Update stores the mutable fields of an existing attribute type.
	// Changing the owner of a type that attributes reference fails with entities.ErrOwnerLocked.
	Update(ctx context.Context, t *entities.AttributeType[O]) error

	// Get retrieves an attribute type by UUID
	Get(ctx context.Context, uuid string) (*entities.AttributeType[O], error)

	// GetByID retrieves an attribute type by database ID
	GetByID(ctx context.Context, id int64) (*entities.AttributeType[O], error)

	// ListByOwner retrieves all attribute types of an owner, retired ones included,
	// ordered by attribute order then UUID
	ListByOwner(ctx context.Context, ownerKey string) ([]*entities.AttributeType[O], error)

	// CountAttributes returns how many stored attributes reference the type
	CountAttributes(ctx context.Context, typeID int64) (int64, error)

	// Purge deletes an attribute type for good. A type that stored attributes
	// reference, voided ones included, fails with entities.ErrInUse.
	Purge(ctx context.Context, uuid string) error
}

// InstanceAttributeRepository defines the interface for attribute instance data access.
// Attributes are never deleted; voiding is persisted as state.
type InstanceAttributeRepository[O entities.InstanceType] interface {
	// Load retrieves every attribute of an entity, voided ones included.
	// types resolves the descriptor to attach to each attribute.
	Load(ctx context.Context, entityType string, entityID string, types TypeLookup[O]) ([]*entities.InstanceAttribute[O], error)

	// Save upserts all given attributes of an entity in one transaction
	Save(ctx context.Context, entityType string, entityID string, attrs []*entities.InstanceAttribute[O]) error
}
