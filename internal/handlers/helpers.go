package handlers

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
	"github.com/asakaida/customattrs/internal/services"
	"github.com/asakaida/customattrs/internal/services/validation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// === Shared Helper Functions for all handlers ===

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return s.StringValue, nil
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	s, err := stringField(req, name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return s, nil
}

func boolField(req *structpb.Struct, name string) (bool, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b.BoolValue, nil
}

// intField reads an integral number. present is false when the field is
// absent or null.
func intField(req *structpb.Struct, name string) (n int, present bool, err error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return 0, false, fmt.Errorf("%s must be a 32-bit integer", name)
		}
		return int(f), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
}

func ownerField(req *structpb.Struct) (entities.OwnerRef, error) {
	key, err := requiredString(req, "owner")
	if err != nil {
		return entities.OwnerRef{}, err
	}
	return entities.ParseOwnerRef(key)
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func attributeTypeToMap(t *entities.AttributeType[entities.OwnerRef]) map[string]any {
	m := map[string]any{
		"uuid":            t.UUID,
		"owner":           t.OwnerKey(),
		"name":            t.Name,
		"description":     t.Description,
		"format":          t.Format(),
		"attribute_order": t.AttributeOrder(),
		"reg_exp":         t.RegExp(),
		"required":        t.Required(),
		"retired":         t.Retired,
		"in_use":          t.InUse(),
	}
	if fk, ok := t.ForeignKey(); ok {
		m["foreign_key"] = fk
	} else {
		m["foreign_key"] = nil
	}
	if t.Retired {
		m["retire_reason"] = t.RetireReason
	}
	return m
}

func attributeToMap(a *entities.InstanceAttribute[entities.OwnerRef]) map[string]any {
	m := map[string]any{
		"uuid":       a.UUID,
		"value":      a.Value,
		"voided":     a.Voided(),
		"created_at": timeString(a.CreatedAt),
	}
	if a.Type != nil {
		m["attribute_type"] = a.Type.UUID
		m["name"] = a.Type.Name
	}
	if a.Voided() {
		m["voided_at"] = timeString(a.VoidedAt)
		m["void_reason"] = a.VoidReason
	}
	return m
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// toStatus maps service errors to gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, entities.ErrInvalidArgument),
		errors.Is(err, validation.ErrPatternMismatch),
		errors.Is(err, validation.ErrInvalidPattern),
		errors.Is(err, validation.ErrInvalidValue),
		errors.Is(err, validation.ErrUnknownFormat),
		errors.Is(err, validation.ErrForeignKeyMissing):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, entities.ErrOwnerMismatch),
		errors.Is(err, entities.ErrOwnerLocked),
		errors.Is(err, entities.ErrInUse),
		errors.Is(err, services.ErrRequiredMissing):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
