package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
	"github.com/asakaida/customattrs/internal/services/validation"
	"github.com/asakaida/customattrs/pkg/cache"
)

// ErrRequiredMissing is returned by Save when a required attribute type has
// no active attribute on the instance
var ErrRequiredMissing = errors.New("required attribute missing")

// Recorder receives attribute events for metrics
type Recorder interface {
	AttributeAdded(owner string)
	AttributeVoided(owner string)
	ValidationFailed(format string)
}

type nopRecorder struct{}

func (nopRecorder) AttributeAdded(string)   {}
func (nopRecorder) AttributeVoided(string)  {}
func (nopRecorder) ValidationFailed(string) {}

// AttributeServiceInterface defines the interface for attribute operations
type AttributeServiceInterface[O entities.InstanceType] interface {
	DefineAttributeType(ctx context.Context, t *entities.AttributeType[O]) error
	UpdateAttributeType(ctx context.Context, t *entities.AttributeType[O]) error
	PurgeAttributeType(ctx context.Context, uuid string) error
	AttributeType(ctx context.Context, uuid string) (*entities.AttributeType[O], error)
	AttributeTypes(ctx context.Context, owner O) ([]*entities.AttributeType[O], error)
	Load(ctx context.Context, owner O, entityType string, entityID string) (*entities.Customizable[O, *entities.InstanceAttribute[O]], error)
	SetValue(c *entities.Customizable[O, *entities.InstanceAttribute[O]], t *entities.AttributeType[O], raw string) (*entities.InstanceAttribute[O], error)
	RemoveAttribute(c *entities.Customizable[O, *entities.InstanceAttribute[O]], key string) (bool, error)
	Save(ctx context.Context, c *entities.Customizable[O, *entities.InstanceAttribute[O]], entityType string, entityID string) error
}

// Options configures an AttributeService
type Options struct {
	OwnerPolicy entities.OwnerPolicy
	Recorder    Recorder     // defaults to a no-op recorder
	Logger      *slog.Logger // defaults to slog.Default()
}

// AttributeService defines attribute types and manages the attributes of
// instances: value validation, replacement, removal and commit-time checks.
type AttributeService[O entities.InstanceType] struct {
	typeRepo  repositories.AttributeTypeRepository[O]
	attrRepo  repositories.InstanceAttributeRepository[O]
	validator *validation.Validator
	typeCache cache.Cache[[]*entities.AttributeType[O]] // optional, keyed by owner key
	policy    entities.OwnerPolicy
	recorder  Recorder
	logger    *slog.Logger
}

// NewAttributeService creates a new AttributeService
func NewAttributeService[O entities.InstanceType](
	typeRepo repositories.AttributeTypeRepository[O],
	attrRepo repositories.InstanceAttributeRepository[O],
	validator *validation.Validator,
	opts Options,
) *AttributeService[O] {
	s := &AttributeService[O]{
		typeRepo:  typeRepo,
		attrRepo:  attrRepo,
		validator: validator,
		policy:    opts.OwnerPolicy,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "attribute_service")
	return s
}

// SetTypeCache sets the cache for attribute type lists per owner
func (s *AttributeService[O]) SetTypeCache(c cache.Cache[[]*entities.AttributeType[O]]) {
	s.typeCache = c
}

// DefineAttributeType validates and stores a new attribute type
func (s *AttributeService[O]) DefineAttributeType(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := s.checkType(t); err != nil {
		return err
	}

	if err := s.typeRepo.Create(ctx, t); err != nil {
		return fmt.Errorf("failed to create attribute type: %w", err)
	}

	s.Invalidate(ctx, t.OwnerKey())
	s.logger.InfoContext(ctx, "attribute type defined",
		"owner", t.OwnerKey(), "name", t.Name, "uuid", t.UUID, "format", t.Format())
	return nil
}

// UpdateAttributeType validates and stores the mutable fields of an existing
// attribute type. Moving a type that is in use to another owner fails with
// entities.ErrOwnerLocked.
func (s *AttributeService[O]) UpdateAttributeType(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := s.checkType(t); err != nil {
		return err
	}

	prev, err := s.typeRepo.Get(ctx, t.UUID)
	if err != nil {
		return fmt.Errorf("failed to get attribute type: %w", err)
	}

	if err := s.typeRepo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to update attribute type: %w", err)
	}

	s.Invalidate(ctx, prev.OwnerKey())
	if prev.OwnerKey() != t.OwnerKey() {
		s.Invalidate(ctx, t.OwnerKey())
	}
	s.logger.InfoContext(ctx, "attribute type updated", "owner", t.OwnerKey(), "uuid", t.UUID)
	return nil
}

// PurgeAttributeType deletes an attribute type that no stored attribute
// references. Retire a type in use instead; purging it fails with
// entities.ErrInUse.
func (s *AttributeService[O]) PurgeAttributeType(ctx context.Context, uuid string) error {
	if uuid == "" {
		return fmt.Errorf("attribute type UUID is required: %w", entities.ErrInvalidArgument)
	}

	prev, err := s.typeRepo.Get(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to get attribute type: %w", err)
	}

	if err := s.typeRepo.Purge(ctx, uuid); err != nil {
		return fmt.Errorf("failed to purge attribute type: %w", err)
	}

	s.Invalidate(ctx, prev.OwnerKey())
	s.logger.InfoContext(ctx, "attribute type purged", "owner", prev.OwnerKey(), "name", prev.Name, "uuid", uuid)
	return nil
}

// AttributeType retrieves one attribute type from the repository.
// The result is not shared with the cache and may be mutated.
func (s *AttributeService[O]) AttributeType(ctx context.Context, uuid string) (*entities.AttributeType[O], error) {
	if uuid == "" {
		return nil, fmt.Errorf("attribute type UUID is required: %w", entities.ErrInvalidArgument)
	}
	t, err := s.typeRepo.Get(ctx, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute type: %w", err)
	}
	return t, nil
}

// AttributeTypes returns the attribute types of owner, retired ones
// included, in display order. The descriptors are shared and must not be
// mutated; use AttributeType to obtain a private copy.
func (s *AttributeService[O]) AttributeTypes(ctx context.Context, owner O) ([]*entities.AttributeType[O], error) {
	key := entities.OwnerKey(owner)
	if key == "" {
		return nil, fmt.Errorf("owner is required: %w", entities.ErrInvalidArgument)
	}

	if s.typeCache != nil {
		if types, ok := s.typeCache.Get(ctx, key); ok {
			return append([]*entities.AttributeType[O](nil), types...), nil
		}
	}

	types, err := s.typeRepo.ListByOwner(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute types: %w", err)
	}
	entities.SortAttributeTypes(types)

	if s.typeCache != nil {
		if err := s.typeCache.Set(ctx, key, types, 0); err != nil {
			s.logger.WarnContext(ctx, "failed to cache attribute types", "owner", key, "error", err)
		}
	}

	return append([]*entities.AttributeType[O](nil), types...), nil
}

// Invalidate drops the cached attribute types of one owner
func (s *AttributeService[O]) Invalidate(ctx context.Context, ownerKey string) {
	if s.typeCache == nil || ownerKey == "" {
		return
	}
	if err := s.typeCache.Delete(ctx, ownerKey); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate attribute types", "owner", ownerKey, "error", err)
	}
}

// InvalidateAll drops every cached attribute type list
func (s *AttributeService[O]) InvalidateAll(ctx context.Context) {
	if s.typeCache == nil {
		return
	}
	if err := s.typeCache.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear attribute type cache", "error", err)
	}
}

// Load reads the attributes of one entity, voided ones included, into a
// Customizable owned by owner. Attributes whose type belongs to another owner
// are rejected under the validate policy.
func (s *AttributeService[O]) Load(ctx context.Context, owner O, entityType string, entityID string) (*entities.Customizable[O, *entities.InstanceAttribute[O]], error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("entity type and ID are required: %w", entities.ErrInvalidArgument)
	}

	types, err := s.AttributeTypes(ctx, owner)
	if err != nil {
		return nil, err
	}

	attrs, err := s.attrRepo.Load(ctx, entityType, entityID, repositories.TypesByID[O](types, s.typeRepo.GetByID))
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes: %w", err)
	}

	c := entities.NewCustomizable[O, *entities.InstanceAttribute[O]](owner, entities.WithOwnerPolicy(s.policy))
	if err := c.SetAttributes(attrs); err != nil {
		return nil, fmt.Errorf("stored attributes of %s:%s: %w", entityType, entityID, err)
	}
	return c, nil
}

// SetValue validates raw against t and makes it the single active value of
// type t on c. Previously active attributes of t are voided. Setting the value
// an instance already holds changes nothing and returns the held attribute.
func (s *AttributeService[O]) SetValue(c *entities.Customizable[O, *entities.InstanceAttribute[O]], t *entities.AttributeType[O], raw string) (*entities.InstanceAttribute[O], error) {
	if c == nil || t == nil {
		return nil, fmt.Errorf("instance and attribute type are required: %w", entities.ErrInvalidArgument)
	}
	if t.Retired {
		return nil, fmt.Errorf("attribute type %s is retired: %w", t.Name, entities.ErrInvalidArgument)
	}

	if err := validation.ValidateValue(s.validator, t, raw); err != nil {
		s.recorder.ValidationFailed(t.Format())
		return nil, fmt.Errorf("invalid value for %s: %w", t.Name, err)
	}

	prev := c.ActiveAttributesOf(t)
	if len(prev) == 1 && prev[0].Value == raw {
		return prev[0], nil
	}

	a := entities.NewInstanceAttribute(t, raw)
	if err := c.AddAttribute(a); err != nil {
		return nil, err
	}
	s.recorder.AttributeAdded(t.OwnerKey())

	for _, p := range prev {
		p.Void("replaced")
		s.recorder.AttributeVoided(t.OwnerKey())
	}
	return a, nil
}

// RemoveAttribute voids the attribute with the given key. It reports whether
// an active attribute was voided; unknown keys are a no-op.
func (s *AttributeService[O]) RemoveAttribute(c *entities.Customizable[O, *entities.InstanceAttribute[O]], key string) (bool, error) {
	if c == nil || key == "" {
		return false, fmt.Errorf("instance and attribute key are required: %w", entities.ErrInvalidArgument)
	}

	for _, a := range c.Attributes() {
		if a.Key() != key {
			continue
		}
		if a.Voided() {
			return false, nil
		}
		if err := c.RemoveAttribute(a); err != nil {
			return false, err
		}
		s.recorder.AttributeVoided(a.Type.OwnerKey())
		return true, nil
	}
	return false, nil
}

// Save persists every attribute of c, voided ones included. Each required,
// non-retired attribute type of the owner needs an active attribute,
// otherwise nothing is written and ErrRequiredMissing is returned.
func (s *AttributeService[O]) Save(ctx context.Context, c *entities.Customizable[O, *entities.InstanceAttribute[O]], entityType string, entityID string) error {
	if c == nil || entityType == "" || entityID == "" {
		return fmt.Errorf("instance, entity type and ID are required: %w", entities.ErrInvalidArgument)
	}

	types, err := s.AttributeTypes(ctx, c.Owner())
	if err != nil {
		return err
	}

	var missing []string
	for _, t := range types {
		if !t.Required() || t.Retired {
			continue
		}
		if len(c.ActiveAttributesOf(t)) == 0 {
			missing = append(missing, t.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrRequiredMissing, strings.Join(missing, ", "))
	}

	if err := s.attrRepo.Save(ctx, entityType, entityID, c.Attributes()); err != nil {
		return fmt.Errorf("failed to save attributes: %w", err)
	}

	s.logger.DebugContext(ctx, "attributes saved",
		"entity_type", entityType, "entity_id", entityID,
		"total", c.Len(), "active", len(c.ActiveAttributes()))
	return nil
}

// checkType validates an attribute type before it is written
func (s *AttributeService[O]) checkType(t *entities.AttributeType[O]) error {
	if t == nil {
		return fmt.Errorf("attribute type is required: %w", entities.ErrInvalidArgument)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, entities.ErrInvalidArgument)
	}
	if err := s.validator.CheckConstraint(validation.ConstraintOf(t)); err != nil {
		return fmt.Errorf("attribute type %s: %w", t.Name, err)
	}
	return nil
}
