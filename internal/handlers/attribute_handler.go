package handlers

import (
	"context"
	"log/slog"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AttributeHandler handles Attributes service gRPC requests.
// Owners travel as "kind:id" strings and are parsed into entities.OwnerRef.
type AttributeHandler struct {
	service services.AttributeServiceInterface[entities.OwnerRef]
	logger  *slog.Logger
}

var _ AttributesServer = (*AttributeHandler)(nil)

// NewAttributeHandler creates a new AttributeHandler
func NewAttributeHandler(service services.AttributeServiceInterface[entities.OwnerRef], logger *slog.Logger) *AttributeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttributeHandler{
		service: service,
		logger:  logger.With("component", "attribute_handler"),
	}
}

// DefineAttributeType handles the DefineAttributeType RPC.
// Without a uuid a new type is created; with one, the stored type is updated.
func (h *AttributeHandler) DefineAttributeType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := ownerField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	name, err := requiredString(req, "name")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	format, err := requiredString(req, "format")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := stringField(req, "uuid")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var t *entities.AttributeType[entities.OwnerRef]
	if id == "" {
		t = entities.NewAttributeType(owner, name, format)
	} else {
		t, err = h.service.AttributeType(ctx, id)
		if err != nil {
			return nil, toStatus(err)
		}
		if err := t.SetOwner(owner); err != nil {
			return nil, toStatus(err)
		}
		t.Name = name
		t.SetFormat(format)
	}

	if err := applyTypeFields(t, req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if id == "" {
		err = h.service.DefineAttributeType(ctx, t)
	} else {
		err = h.service.UpdateAttributeType(ctx, t)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	return toStruct(map[string]any{"attribute_type": attributeTypeToMap(t)})
}

// applyTypeFields copies the optional attribute type fields of req onto t
func applyTypeFields(t *entities.AttributeType[entities.OwnerRef], req *structpb.Struct) error {
	description, err := stringField(req, "description")
	if err != nil {
		return err
	}
	t.Description = description

	order, _, err := intField(req, "attribute_order")
	if err != nil {
		return err
	}
	t.SetAttributeOrder(order)

	fk, present, err := intField(req, "foreign_key")
	if err != nil {
		return err
	}
	if present {
		t.SetForeignKey(&fk)
	} else {
		t.SetForeignKey(nil)
	}

	regExp, err := stringField(req, "reg_exp")
	if err != nil {
		return err
	}
	t.SetRegExp(regExp)

	isRequired, err := boolField(req, "required")
	if err != nil {
		return err
	}
	t.SetRequired(isRequired)

	// an absent retired flag keeps the stored state
	if _, present := req.GetFields()["retired"]; !present {
		return nil
	}
	retired, err := boolField(req, "retired")
	if err != nil {
		return err
	}
	switch {
	case retired && !t.Retired:
		reason, err := stringField(req, "retire_reason")
		if err != nil {
			return err
		}
		t.Retire(reason)
	case !retired && t.Retired:
		t.Unretire()
	}
	return nil
}

// ListAttributeTypes handles the ListAttributeTypes RPC
func (h *AttributeHandler) ListAttributeTypes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := ownerField(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	includeRetired, err := boolField(req, "include_retired")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	types, err := h.service.AttributeTypes(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}

	list := make([]any, 0, len(types))
	for _, t := range types {
		if t.Retired && !includeRetired {
			continue
		}
		list = append(list, attributeTypeToMap(t))
	}

	return toStruct(map[string]any{"attribute_types": list})
}

// entityRef is the instance addressed by an attribute request
type entityRef struct {
	owner      entities.OwnerRef
	entityType string
	entityID   string
}

func entityFields(req *structpb.Struct) (entityRef, error) {
	owner, err := ownerField(req)
	if err != nil {
		return entityRef{}, err
	}
	entityType, err := requiredString(req, "entity_type")
	if err != nil {
		return entityRef{}, err
	}
	entityID, err := requiredString(req, "entity_id")
	if err != nil {
		return entityRef{}, err
	}
	return entityRef{owner: owner, entityType: entityType, entityID: entityID}, nil
}

// SetAttribute handles the SetAttribute RPC.
// It replaces the active value of one attribute type and commits the instance.
func (h *AttributeHandler) SetAttribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := entityFields(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	typeID, err := requiredString(req, "attribute_type")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	value, err := stringField(req, "value")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	c, err := h.service.Load(ctx, ref.owner, ref.entityType, ref.entityID)
	if err != nil {
		return nil, toStatus(err)
	}
	t, err := h.typeOf(ctx, ref.owner, typeID)
	if err != nil {
		return nil, toStatus(err)
	}

	a, err := h.service.SetValue(c, t, value)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := h.service.Save(ctx, c, ref.entityType, ref.entityID); err != nil {
		return nil, toStatus(err)
	}

	h.logger.DebugContext(ctx, "attribute set",
		"entity_type", ref.entityType, "entity_id", ref.entityID, "attribute_type", t.Name)
	return toStruct(map[string]any{"attribute": attributeToMap(a)})
}

// RemoveAttribute handles the RemoveAttribute RPC.
// The attribute is voided, never deleted.
func (h *AttributeHandler) RemoveAttribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := entityFields(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key, err := requiredString(req, "attribute")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	c, err := h.service.Load(ctx, ref.owner, ref.entityType, ref.entityID)
	if err != nil {
		return nil, toStatus(err)
	}

	removed, err := h.service.RemoveAttribute(c, key)
	if err != nil {
		return nil, toStatus(err)
	}
	if removed {
		if err := h.service.Save(ctx, c, ref.entityType, ref.entityID); err != nil {
			return nil, toStatus(err)
		}
	}

	return toStruct(map[string]any{"removed": removed})
}

// PurgeAttributeType handles the PurgeAttributeType RPC.
// Only types without stored attributes can be purged; retire the others.
func (h *AttributeHandler) PurgeAttributeType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "uuid")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := h.service.PurgeAttributeType(ctx, id); err != nil {
		return nil, toStatus(err)
	}

	return toStruct(map[string]any{"purged": true})
}

// ReadAttributes handles the ReadAttributes RPC.
// active_only drops voided attributes; attribute_type narrows to one type.
func (h *AttributeHandler) ReadAttributes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := entityFields(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	activeOnly, err := boolField(req, "active_only")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	typeID, err := stringField(req, "attribute_type")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	c, err := h.service.Load(ctx, ref.owner, ref.entityType, ref.entityID)
	if err != nil {
		return nil, toStatus(err)
	}

	var attrs []*entities.InstanceAttribute[entities.OwnerRef]
	switch {
	case typeID != "":
		t, err := h.typeOf(ctx, ref.owner, typeID)
		if err != nil {
			return nil, toStatus(err)
		}
		attrs = c.ActiveAttributesOf(t)
		if !activeOnly {
			attrs = ofType(c.Attributes(), t)
		}
	case activeOnly:
		attrs = c.ActiveAttributes()
	default:
		attrs = c.Attributes()
	}

	list := make([]any, 0, len(attrs))
	for _, a := range attrs {
		list = append(list, attributeToMap(a))
	}
	return toStruct(map[string]any{"attributes": list})
}

// typeOf finds an attribute type among the owner's types, falling back to
// a direct lookup for types of other owners
func (h *AttributeHandler) typeOf(ctx context.Context, owner entities.OwnerRef, id string) (*entities.AttributeType[entities.OwnerRef], error) {
	types, err := h.service.AttributeTypes(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		if t.UUID == id {
			return t, nil
		}
	}
	return h.service.AttributeType(ctx, id)
}

func ofType(attrs []*entities.InstanceAttribute[entities.OwnerRef], t *entities.AttributeType[entities.OwnerRef]) []*entities.InstanceAttribute[entities.OwnerRef] {
	out := make([]*entities.InstanceAttribute[entities.OwnerRef], 0, len(attrs))
	for _, a := range attrs {
		if a.Type != nil && a.Type.Key() == t.Key() {
			out = append(out, a)
		}
	}
	return out
}
