package e2e

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const pharmacy = "department_type:pharmacy"

// TestScenario_DepartmentAttributes walks one department through the
// attribute lifecycle over gRPC
func TestScenario_DepartmentAttributes(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := testServer.Client
	entity := map[string]any{"owner": pharmacy, "entity_type": "department", "entity_id": "42"}
	with := func(extra map[string]any) map[string]any {
		m := map[string]any{}
		for k, v := range entity {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	// Step 1: Define attribute types
	t.Log("Step 1: Defining attribute types")
	define := func(fields map[string]any) string {
		resp, err := client.DefineAttributeType(ctx, request(t, fields))
		if err != nil {
			t.Fatalf("DefineAttributeType(%v) failed: %v", fields["name"], err)
		}
		return resp.Fields["attribute_type"].GetStructValue().Fields["uuid"].GetStringValue()
	}
	licenseID := define(map[string]any{
		"owner": pharmacy, "name": "license_no", "format": "text",
		"reg_exp": `^PH-\d{4}$`, "required": true, "attribute_order": 1,
	})
	hoursID := define(map[string]any{
		"owner": pharmacy, "name": "open_hours", "format": "integer", "attribute_order": 2,
	})

	list, err := client.ListAttributeTypes(ctx, request(t, map[string]any{"owner": pharmacy}))
	if err != nil {
		t.Fatalf("ListAttributeTypes failed: %v", err)
	}
	types := listOf(list, "attribute_types")
	if len(types) != 2 || types[0].Fields["uuid"].GetStringValue() != licenseID {
		t.Fatalf("expected license_no first of 2 types, got %v", types)
	}

	// Step 2: Required attribute must be present at commit
	t.Log("Step 2: Committing without the required attribute")
	_, err = client.SetAttribute(ctx, request(t, with(map[string]any{"attribute_type": hoursID, "value": "12"})))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition for missing required attribute, got %v", err)
	}

	// Step 3: Values are validated against the type
	t.Log("Step 3: Writing values")
	_, err = client.SetAttribute(ctx, request(t, with(map[string]any{"attribute_type": licenseID, "value": "0091"})))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for pattern mismatch, got %v", err)
	}
	for _, v := range []string{"PH-0091", "PH-0092"} {
		if _, err := client.SetAttribute(ctx, request(t, with(map[string]any{"attribute_type": licenseID, "value": v}))); err != nil {
			t.Fatalf("SetAttribute(%s) failed: %v", v, err)
		}
	}
	if _, err := client.SetAttribute(ctx, request(t, with(map[string]any{"attribute_type": hoursID, "value": "12"}))); err != nil {
		t.Fatalf("SetAttribute(open_hours) failed: %v", err)
	}

	// Step 4: Replaced values stay as voided history
	t.Log("Step 4: Reading history")
	read, err := client.ReadAttributes(ctx, request(t, with(map[string]any{"attribute_type": licenseID})))
	if err != nil {
		t.Fatalf("ReadAttributes failed: %v", err)
	}
	history := listOf(read, "attributes")
	if len(history) != 2 {
		t.Fatalf("expected 2 license attributes, got %d", len(history))
	}
	if !history[0].Fields["voided"].GetBoolValue() || history[1].Fields["value"].GetStringValue() != "PH-0092" {
		t.Errorf("unexpected history: %v", history)
	}

	// Step 5: Remove voids the active value
	t.Log("Step 5: Removing open_hours")
	read, err = client.ReadAttributes(ctx, request(t, with(map[string]any{"attribute_type": hoursID, "active_only": true})))
	if err != nil {
		t.Fatalf("ReadAttributes failed: %v", err)
	}
	hours := listOf(read, "attributes")
	if len(hours) != 1 {
		t.Fatalf("expected one active open_hours attribute, got %d", len(hours))
	}
	removed, err := client.RemoveAttribute(ctx, request(t, with(map[string]any{"attribute": hours[0].Fields["uuid"].GetStringValue()})))
	if err != nil {
		t.Fatalf("RemoveAttribute failed: %v", err)
	}
	if !removed.Fields["removed"].GetBoolValue() {
		t.Error("expected open_hours to be removed")
	}
	read, err = client.ReadAttributes(ctx, request(t, with(map[string]any{"active_only": true})))
	if err != nil {
		t.Fatalf("ReadAttributes failed: %v", err)
	}
	if active := listOf(read, "attributes"); len(active) != 1 {
		t.Errorf("expected only the license to stay active, got %v", active)
	}

	// Step 6: A used attribute type keeps its owner
	t.Log("Step 6: Moving a used attribute type")
	_, err = client.DefineAttributeType(ctx, request(t, map[string]any{
		"uuid": licenseID, "owner": "department_type:lab", "name": "license_no", "format": "text",
	}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition for owner change, got %v", err)
	}
}

// TestScenario_TypeCacheAcrossReplicas checks that a type defined on one
// replica shows up on another that already cached the owner's list
func TestScenario_TypeCacheAcrossReplicas(t *testing.T) {
	first := SetupE2ETest(t)
	defer first.Teardown(t)
	second := first.AddReplica(t)
	defer second.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	owner := request(t, map[string]any{"owner": pharmacy})
	count := func(s *E2ETestServer) int {
		resp, err := s.Client.ListAttributeTypes(ctx, owner)
		if err != nil {
			t.Fatalf("ListAttributeTypes failed: %v", err)
		}
		return len(listOf(resp, "attribute_types"))
	}

	// warm the second replica's cache
	if n := count(second); n != 0 {
		t.Fatalf("expected no attribute types, got %d", n)
	}

	if _, err := first.Client.DefineAttributeType(ctx, request(t, map[string]any{
		"owner": pharmacy, "name": "license_no", "format": "text",
	})); err != nil {
		t.Fatalf("DefineAttributeType failed: %v", err)
	}

	if !eventually(t, 5*time.Second, func() bool { return count(second) == 1 }) {
		t.Error("second replica never saw the new attribute type")
	}
}
