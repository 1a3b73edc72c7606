// Package memory provides in-process implementations of the attribute
// repositories. They follow the PostgreSQL implementations: attributes are
// never deleted, voiding is sticky, and a type referenced by attributes
// can neither change owner nor be purged.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
)

type attributeRow struct {
	uuid       string
	entity     string
	typeID     int64
	value      string
	voided     bool
	voidedAt   time.Time
	voidReason string
	createdAt  time.Time
}

type store[O entities.InstanceType] struct {
	mu     sync.RWMutex
	nextID int64
	types  map[string]*entities.AttributeType[O] // uuid -> type
	rows   map[string]*attributeRow              // uuid -> attribute
	order  map[string][]string                   // entity -> attribute uuids
	usage  map[int64]int64                       // type ID -> attribute count
}

// AttributeTypeRepository implements repositories.AttributeTypeRepository in memory
type AttributeTypeRepository[O entities.InstanceType] struct {
	s *store[O]
}

// InstanceAttributeRepository implements repositories.InstanceAttributeRepository in memory
type InstanceAttributeRepository[O entities.InstanceType] struct {
	s *store[O]
}

// New creates a pair of repositories sharing one store
func New[O entities.InstanceType]() (*AttributeTypeRepository[O], *InstanceAttributeRepository[O]) {
	s := &store[O]{
		types: make(map[string]*entities.AttributeType[O]),
		rows:  make(map[string]*attributeRow),
		order: make(map[string][]string),
		usage: make(map[int64]int64),
	}
	return &AttributeTypeRepository[O]{s: s}, &InstanceAttributeRepository[O]{s: s}
}

var (
	_ repositories.AttributeTypeRepository[entities.OwnerRef]     = (*AttributeTypeRepository[entities.OwnerRef])(nil)
	_ repositories.InstanceAttributeRepository[entities.OwnerRef] = (*InstanceAttributeRepository[entities.OwnerRef])(nil)
)

// Create stores a copy of t and assigns its ID
func (r *AttributeTypeRepository[O]) Create(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid attribute type: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.types[t.UUID]; exists {
		return fmt.Errorf("attribute type %s already exists", t.UUID)
	}

	now := time.Now()
	r.s.nextID++
	t.ID = r.s.nextID
	t.CreatedAt = now
	t.UpdatedAt = now
	r.s.types[t.UUID] = clone(t)
	return nil
}

// Update replaces the stored copy of t
func (r *AttributeTypeRepository[O]) Update(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid attribute type: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, exists := r.s.types[t.UUID]
	if !exists {
		return fmt.Errorf("attribute type %s: %w", t.UUID, repositories.ErrNotFound)
	}
	if stored.OwnerKey() != t.OwnerKey() && r.s.usage[stored.ID] > 0 {
		return fmt.Errorf("attribute type %s is referenced by %d attributes: %w", t.UUID, r.s.usage[stored.ID], entities.ErrOwnerLocked)
	}

	t.ID = stored.ID
	t.CreatedAt = stored.CreatedAt
	t.UpdatedAt = time.Now()
	r.s.types[t.UUID] = clone(t)
	return nil
}

// Get retrieves a copy of an attribute type by UUID
func (r *AttributeTypeRepository[O]) Get(ctx context.Context, uuid string) (*entities.AttributeType[O], error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, exists := r.s.types[uuid]
	if !exists {
		return nil, fmt.Errorf("attribute type %s: %w", uuid, repositories.ErrNotFound)
	}
	return r.s.withUsage(t), nil
}

// GetByID retrieves a copy of an attribute type by ID
func (r *AttributeTypeRepository[O]) GetByID(ctx context.Context, id int64) (*entities.AttributeType[O], error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.types {
		if t.ID == id {
			return r.s.withUsage(t), nil
		}
	}
	return nil, fmt.Errorf("attribute type %d: %w", id, repositories.ErrNotFound)
}

// ListByOwner retrieves copies of all attribute types of an owner
func (r *AttributeTypeRepository[O]) ListByOwner(ctx context.Context, ownerKey string) ([]*entities.AttributeType[O], error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var types []*entities.AttributeType[O]
	for _, t := range r.s.types {
		if t.OwnerKey() == ownerKey {
			types = append(types, r.s.withUsage(t))
		}
	}
	entities.SortAttributeTypes(types)
	return types, nil
}

// CountAttributes returns how many stored attributes reference the type
func (r *AttributeTypeRepository[O]) CountAttributes(ctx context.Context, typeID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.usage[typeID], nil
}

// Purge deletes an attribute type that no stored attribute references
func (r *AttributeTypeRepository[O]) Purge(ctx context.Context, uuid string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, exists := r.s.types[uuid]
	if !exists {
		return fmt.Errorf("attribute type %s: %w", uuid, repositories.ErrNotFound)
	}
	if n := r.s.usage[t.ID]; n > 0 {
		return fmt.Errorf("attribute type %s is referenced by %d attributes: %w", uuid, n, entities.ErrInUse)
	}

	delete(r.s.types, uuid)
	delete(r.s.usage, t.ID)
	return nil
}

// Load retrieves every attribute of an entity in insertion order
func (r *InstanceAttributeRepository[O]) Load(ctx context.Context, entityType string, entityID string, types repositories.TypeLookup[O]) ([]*entities.InstanceAttribute[O], error) {
	r.s.mu.RLock()
	ids := r.s.order[entityKey(entityType, entityID)]
	rows := make([]attributeRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, *r.s.rows[id])
	}
	r.s.mu.RUnlock()

	resolved := make(map[int64]*entities.AttributeType[O])
	attrs := make([]*entities.InstanceAttribute[O], 0, len(rows))
	for _, row := range rows {
		t, ok := resolved[row.typeID]
		if !ok {
			var err error
			t, err = types(ctx, row.typeID)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", row.uuid, err)
			}
			resolved[row.typeID] = t
		}
		attrs = append(attrs, entities.RestoreInstanceAttribute(row.uuid, t, row.value, row.createdAt, row.voided, row.voidedAt, row.voidReason))
	}
	return attrs, nil
}

// Save upserts all given attributes of an entity. Either every attribute is
// written or none is. Voided attributes are never rewritten.
func (r *InstanceAttributeRepository[O]) Save(ctx context.Context, entityType string, entityID string, attrs []*entities.InstanceAttribute[O]) error {
	entity := entityKey(entityType, entityID)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range attrs {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid attribute: %w", err)
		}
		if row, exists := r.s.rows[a.UUID]; exists && row.entity != entity {
			return fmt.Errorf("attribute %s belongs to another entity: %w", a.UUID, entities.ErrInvalidArgument)
		}
	}

	for _, a := range attrs {
		row, exists := r.s.rows[a.UUID]
		if !exists {
			row = &attributeRow{
				uuid:      a.UUID,
				entity:    entity,
				typeID:    a.Type.ID,
				createdAt: a.CreatedAt,
			}
			r.s.rows[a.UUID] = row
			r.s.order[entity] = append(r.s.order[entity], a.UUID)
			r.s.usage[a.Type.ID]++
		}
		if row.voided {
			continue
		}
		row.value = a.Value
		if a.Voided() {
			row.voided = true
			row.voidedAt = a.VoidedAt
			row.voidReason = a.VoidReason
		}
	}
	return nil
}

// withUsage returns a copy of t carrying the stored usage count
func (s *store[O]) withUsage(t *entities.AttributeType[O]) *entities.AttributeType[O] {
	c := clone(t)
	c.SetUsageCount(s.usage[t.ID])
	return c
}

func clone[O entities.InstanceType](t *entities.AttributeType[O]) *entities.AttributeType[O] {
	c := entities.NewAttributeType(t.Owner(), t.Name, t.Format())
	c.Metadata = t.Metadata
	c.SetAttributeOrder(t.AttributeOrder())
	c.SetRegExp(t.RegExp())
	c.SetRequired(t.Required())
	if fk, ok := t.ForeignKey(); ok {
		c.SetForeignKey(&fk)
	}
	return c
}

func entityKey(entityType, entityID string) string {
	return entityType + "\x00" + entityID
}
