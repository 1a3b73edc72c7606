package handlers

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
	"github.com/asakaida/customattrs/internal/services"
	"github.com/asakaida/customattrs/internal/services/validation"
)

const pharmacyKey = "department_type:pharmacy"

func defineType(t *testing.T, c *AttributesClient, fields map[string]any) string {
	t.Helper()
	resp, err := c.DefineAttributeType(context.Background(), mustStruct(t, fields))
	if err != nil {
		t.Fatalf("DefineAttributeType() error = %v", err)
	}
	return resp.Fields["attribute_type"].GetStructValue().Fields["uuid"].GetStringValue()
}

func attributeList(resp *structpb.Struct, field string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range resp.Fields[field].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

func TestAttributeHandler_Scenario(t *testing.T) {
	client, collector := startServer(t, NewAttributeHandler(newMemoryService(t, entities.OwnerPolicyValidate), nil))
	ctx := context.Background()

	licenseID := defineType(t, client, map[string]any{
		"owner":           pharmacyKey,
		"name":            "license_no",
		"format":          "text",
		"reg_exp":         `PH-\d{4}`,
		"required":        true,
		"attribute_order": 1,
	})
	hoursID := defineType(t, client, map[string]any{
		"owner":           pharmacyKey,
		"name":            "opening_hours",
		"format":          "text",
		"attribute_order": 2,
	})

	entity := func(extra map[string]any) *structpb.Struct {
		m := map[string]any{"owner": pharmacyKey, "entity_type": "department", "entity_id": "42"}
		for k, v := range extra {
			m[k] = v
		}
		return mustStruct(t, m)
	}

	t.Run("ListAttributeTypes", func(t *testing.T) {
		resp, err := client.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey}))
		if err != nil {
			t.Fatalf("ListAttributeTypes() error = %v", err)
		}
		types := attributeList(resp, "attribute_types")
		if len(types) != 2 {
			t.Fatalf("ListAttributeTypes() returned %d types, want 2", len(types))
		}
		if types[0].Fields["name"].GetStringValue() != "license_no" {
			t.Errorf("first type = %s, want license_no", types[0].Fields["name"].GetStringValue())
		}
	})

	t.Run("required attribute missing", func(t *testing.T) {
		_, err := client.SetAttribute(ctx, entity(map[string]any{"attribute_type": hoursID, "value": "08:00-18:00"}))
		if status.Code(err) != codes.FailedPrecondition {
			t.Errorf("SetAttribute() code = %v, want FailedPrecondition", status.Code(err))
		}
	})

	t.Run("pattern mismatch", func(t *testing.T) {
		_, err := client.SetAttribute(ctx, entity(map[string]any{"attribute_type": licenseID, "value": "0091"}))
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("SetAttribute() code = %v, want InvalidArgument", status.Code(err))
		}
	})

	var first string
	t.Run("SetAttribute", func(t *testing.T) {
		resp, err := client.SetAttribute(ctx, entity(map[string]any{"attribute_type": licenseID, "value": "PH-0091"}))
		if err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}
		first = resp.Fields["attribute"].GetStructValue().Fields["uuid"].GetStringValue()

		if _, err := client.SetAttribute(ctx, entity(map[string]any{"attribute_type": licenseID, "value": "PH-0092"})); err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}
		if _, err := client.SetAttribute(ctx, entity(map[string]any{"attribute_type": hoursID, "value": "08:00-18:00"})); err != nil {
			t.Fatalf("SetAttribute() error = %v", err)
		}
	})

	t.Run("ReadAttributes", func(t *testing.T) {
		resp, err := client.ReadAttributes(ctx, entity(nil))
		if err != nil {
			t.Fatalf("ReadAttributes() error = %v", err)
		}
		if got := len(attributeList(resp, "attributes")); got != 3 {
			t.Errorf("all attributes = %d, want 3", got)
		}

		resp, err = client.ReadAttributes(ctx, entity(map[string]any{"active_only": true}))
		if err != nil {
			t.Fatalf("ReadAttributes() error = %v", err)
		}
		if got := len(attributeList(resp, "attributes")); got != 2 {
			t.Errorf("active attributes = %d, want 2", got)
		}

		resp, err = client.ReadAttributes(ctx, entity(map[string]any{"active_only": true, "attribute_type": licenseID}))
		if err != nil {
			t.Fatalf("ReadAttributes() error = %v", err)
		}
		active := attributeList(resp, "attributes")
		if len(active) != 1 || active[0].Fields["value"].GetStringValue() != "PH-0092" {
			t.Errorf("active license = %v, want PH-0092", active)
		}

		resp, err = client.ReadAttributes(ctx, entity(map[string]any{"attribute_type": licenseID}))
		if err != nil {
			t.Fatalf("ReadAttributes() error = %v", err)
		}
		all := attributeList(resp, "attributes")
		if len(all) != 2 || !all[0].Fields["voided"].GetBoolValue() {
			t.Errorf("license history = %v, want voided PH-0091 then PH-0092", all)
		}
		if all[0].Fields["void_reason"].GetStringValue() != "replaced" {
			t.Errorf("void_reason = %q, want replaced", all[0].Fields["void_reason"].GetStringValue())
		}
	})

	t.Run("RemoveAttribute", func(t *testing.T) {
		resp, err := client.RemoveAttribute(ctx, entity(map[string]any{"attribute": first}))
		if err != nil {
			t.Fatalf("RemoveAttribute() error = %v", err)
		}
		if resp.Fields["removed"].GetBoolValue() {
			t.Errorf("removing a voided attribute should report false")
		}

		read, err := client.ReadAttributes(ctx, entity(map[string]any{"active_only": true, "attribute_type": hoursID}))
		if err != nil {
			t.Fatalf("ReadAttributes() error = %v", err)
		}
		hours := attributeList(read, "attributes")[0].Fields["uuid"].GetStringValue()

		resp, err = client.RemoveAttribute(ctx, entity(map[string]any{"attribute": hours}))
		if err != nil {
			t.Fatalf("RemoveAttribute() error = %v", err)
		}
		if !resp.Fields["removed"].GetBoolValue() {
			t.Errorf("RemoveAttribute() removed = false, want true")
		}
	})

	t.Run("metrics interceptor", func(t *testing.T) {
		counts := collector.GetAPIMetrics().RequestCounts
		if counts[MethodSetAttribute] != 5 {
			t.Errorf("SetAttribute calls = %d, want 5", counts[MethodSetAttribute])
		}
		if collector.GetAPIMetrics().ErrorCounts[MethodSetAttribute] != 2 {
			t.Errorf("SetAttribute errors = %d, want 2", collector.GetAPIMetrics().ErrorCounts[MethodSetAttribute])
		}
	})
}

func TestAttributeHandler_DefineAttributeType(t *testing.T) {
	client, _ := startServer(t, NewAttributeHandler(newMemoryService(t, entities.OwnerPolicyValidate), nil))
	ctx := context.Background()

	tests := []struct {
		name     string
		req      map[string]any
		wantCode codes.Code
	}{
		{
			name:     "concept with foreign key",
			req:      map[string]any{"owner": pharmacyKey, "name": "route", "format": "concept", "foreign_key": 162394},
			wantCode: codes.OK,
		},
		{
			name:     "concept without foreign key",
			req:      map[string]any{"owner": pharmacyKey, "name": "route", "format": "concept"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "malformed owner",
			req:      map[string]any{"owner": "pharmacy", "name": "x", "format": "text"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "missing name",
			req:      map[string]any{"owner": pharmacyKey, "format": "text"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "wrong field type",
			req:      map[string]any{"owner": pharmacyKey, "name": "x", "format": "text", "required": "yes"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "fractional order",
			req:      map[string]any{"owner": pharmacyKey, "name": "x", "format": "text", "attribute_order": 1.5},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "unknown uuid",
			req:      map[string]any{"uuid": "00000000-0000-0000-0000-000000000000", "owner": pharmacyKey, "name": "x", "format": "text"},
			wantCode: codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.DefineAttributeType(ctx, mustStruct(t, tt.req))
			if status.Code(err) != tt.wantCode {
				t.Errorf("DefineAttributeType() code = %v, want %v (%v)", status.Code(err), tt.wantCode, err)
			}
		})
	}
}

func TestAttributeHandler_UpdateAttributeType(t *testing.T) {
	client, _ := startServer(t, NewAttributeHandler(newMemoryService(t, entities.OwnerPolicyValidate), nil))
	ctx := context.Background()

	id := defineType(t, client, map[string]any{"owner": pharmacyKey, "name": "license_no", "format": "text"})

	if _, err := client.SetAttribute(ctx, mustStruct(t, map[string]any{
		"owner": pharmacyKey, "entity_type": "department", "entity_id": "1",
		"attribute_type": id, "value": "PH-1",
	})); err != nil {
		t.Fatalf("SetAttribute() error = %v", err)
	}

	t.Run("retire", func(t *testing.T) {
		resp, err := client.DefineAttributeType(ctx, mustStruct(t, map[string]any{
			"uuid": id, "owner": pharmacyKey, "name": "license_no", "format": "text",
			"retired": true, "retire_reason": "superseded",
		}))
		if err != nil {
			t.Fatalf("DefineAttributeType() error = %v", err)
		}
		got := resp.Fields["attribute_type"].GetStructValue()
		if !got.Fields["retired"].GetBoolValue() || !got.Fields["in_use"].GetBoolValue() {
			t.Errorf("updated type = %v, want retired and in use", got)
		}

		list, err := client.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey}))
		if err != nil {
			t.Fatalf("ListAttributeTypes() error = %v", err)
		}
		if n := len(attributeList(list, "attribute_types")); n != 0 {
			t.Errorf("retired types listed by default: %d", n)
		}
		list, err = client.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey, "include_retired": true}))
		if err != nil {
			t.Fatalf("ListAttributeTypes() error = %v", err)
		}
		if n := len(attributeList(list, "attribute_types")); n != 1 {
			t.Errorf("include_retired listed %d types, want 1", n)
		}
	})

	t.Run("update without retired keeps retirement", func(t *testing.T) {
		resp, err := client.DefineAttributeType(ctx, mustStruct(t, map[string]any{
			"uuid": id, "owner": pharmacyKey, "name": "license_no", "format": "text",
			"description": "Pharmacy licence",
		}))
		if err != nil {
			t.Fatalf("DefineAttributeType() error = %v", err)
		}
		got := resp.Fields["attribute_type"].GetStructValue()
		if !got.Fields["retired"].GetBoolValue() || got.Fields["retire_reason"].GetStringValue() != "superseded" {
			t.Errorf("updated type = %v, want still retired", got)
		}
	})

	t.Run("unretire", func(t *testing.T) {
		resp, err := client.DefineAttributeType(ctx, mustStruct(t, map[string]any{
			"uuid": id, "owner": pharmacyKey, "name": "license_no", "format": "text",
			"retired": false,
		}))
		if err != nil {
			t.Fatalf("DefineAttributeType() error = %v", err)
		}
		got := resp.Fields["attribute_type"].GetStructValue()
		if got.Fields["retired"].GetBoolValue() {
			t.Errorf("updated type = %v, want not retired", got)
		}
		if _, ok := got.Fields["retire_reason"]; ok {
			t.Errorf("unretired type still carries a retire reason: %v", got)
		}

		list, err := client.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey}))
		if err != nil {
			t.Fatalf("ListAttributeTypes() error = %v", err)
		}
		if n := len(attributeList(list, "attribute_types")); n != 1 {
			t.Errorf("ListAttributeTypes() = %d types after unretire, want 1", n)
		}
	})

	t.Run("owner locked", func(t *testing.T) {
		_, err := client.DefineAttributeType(ctx, mustStruct(t, map[string]any{
			"uuid": id, "owner": "department_type:lab", "name": "license_no", "format": "text",
		}))
		if status.Code(err) != codes.FailedPrecondition {
			t.Errorf("DefineAttributeType() code = %v, want FailedPrecondition", status.Code(err))
		}
	})
}

func TestAttributeHandler_PurgeAttributeType(t *testing.T) {
	client, _ := startServer(t, NewAttributeHandler(newMemoryService(t, entities.OwnerPolicyValidate), nil))
	ctx := context.Background()

	used := defineType(t, client, map[string]any{"owner": pharmacyKey, "name": "license_no", "format": "text"})
	unused := defineType(t, client, map[string]any{"owner": pharmacyKey, "name": "fax", "format": "text"})

	if _, err := client.SetAttribute(ctx, mustStruct(t, map[string]any{
		"owner": pharmacyKey, "entity_type": "department", "entity_id": "1",
		"attribute_type": used, "value": "PH-1",
	})); err != nil {
		t.Fatalf("SetAttribute() error = %v", err)
	}

	tests := []struct {
		name     string
		req      map[string]any
		wantCode codes.Code
	}{
		{name: "unused type", req: map[string]any{"uuid": unused}, wantCode: codes.OK},
		{name: "already purged", req: map[string]any{"uuid": unused}, wantCode: codes.NotFound},
		{name: "type with attributes", req: map[string]any{"uuid": used}, wantCode: codes.FailedPrecondition},
		{name: "missing uuid", req: map[string]any{}, wantCode: codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.PurgeAttributeType(ctx, mustStruct(t, tt.req))
			if status.Code(err) != tt.wantCode {
				t.Fatalf("PurgeAttributeType() code = %v, want %v (%v)", status.Code(err), tt.wantCode, err)
			}
			if err == nil && !resp.Fields["purged"].GetBoolValue() {
				t.Errorf("PurgeAttributeType() = %v, want purged", resp)
			}
		})
	}

	list, err := client.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey}))
	if err != nil {
		t.Fatalf("ListAttributeTypes() error = %v", err)
	}
	types := attributeList(list, "attribute_types")
	if len(types) != 1 || types[0].Fields["uuid"].GetStringValue() != used {
		t.Errorf("ListAttributeTypes() after purge = %v, want only license_no", types)
	}
}

func TestAttributeHandler_OwnerPolicy(t *testing.T) {
	ctx := context.Background()

	for _, tt := range []struct {
		policy   entities.OwnerPolicy
		wantCode codes.Code
	}{
		{entities.OwnerPolicyValidate, codes.FailedPrecondition},
		{entities.OwnerPolicyTrustCaller, codes.OK},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			client, _ := startServer(t, NewAttributeHandler(newMemoryService(t, tt.policy), nil))
			labType := defineType(t, client, map[string]any{"owner": "department_type:lab", "name": "analyzer", "format": "text"})

			_, err := client.SetAttribute(ctx, mustStruct(t, map[string]any{
				"owner": pharmacyKey, "entity_type": "department", "entity_id": "42",
				"attribute_type": labType, "value": "XN-1000",
			}))
			if status.Code(err) != tt.wantCode {
				t.Errorf("SetAttribute() code = %v, want %v (%v)", status.Code(err), tt.wantCode, err)
			}
		})
	}
}

func TestAttributeHandler_InternalErrors(t *testing.T) {
	svc := &mockAttributeService{
		attributeTypesFunc: func(ctx context.Context, owner entities.OwnerRef) ([]*entities.AttributeType[entities.OwnerRef], error) {
			return nil, errors.New("connection refused")
		},
		loadFunc: func(ctx context.Context, owner entities.OwnerRef, entityType, entityID string) (*entities.Customizable[entities.OwnerRef, *entities.InstanceAttribute[entities.OwnerRef]], error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewAttributeHandler(svc, nil)
	ctx := context.Background()

	_, err := h.ListAttributeTypes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey}))
	if status.Code(err) != codes.Internal {
		t.Errorf("ListAttributeTypes() code = %v, want Internal", status.Code(err))
	}

	_, err = h.ReadAttributes(ctx, mustStruct(t, map[string]any{"owner": pharmacyKey, "entity_type": "department", "entity_id": "1"}))
	if status.Code(err) != codes.Internal {
		t.Errorf("ReadAttributes() code = %v, want Internal", status.Code(err))
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{entities.ErrInvalidArgument, codes.InvalidArgument},
		{validation.ErrPatternMismatch, codes.InvalidArgument},
		{validation.ErrUnknownFormat, codes.InvalidArgument},
		{entities.ErrOwnerMismatch, codes.FailedPrecondition},
		{entities.ErrOwnerLocked, codes.FailedPrecondition},
		{entities.ErrInUse, codes.FailedPrecondition},
		{services.ErrRequiredMissing, codes.FailedPrecondition},
		{repositories.ErrNotFound, codes.NotFound},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := status.Code(toStatus(tt.err)); got != tt.want {
				t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
}
