package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
)

func newTypeRepo(t *testing.T) (repositories.AttributeTypeRepository[entities.OwnerRef], repositories.InstanceAttributeRepository[entities.OwnerRef], func()) {
	db := SetupTestDB(t)
	return NewPostgresAttributeTypeRepository[entities.OwnerRef](db, entities.ParseOwnerRef),
		NewPostgresInstanceAttributeRepository[entities.OwnerRef](db),
		func() { CleanupTestDB(t, db) }
}

func TestAttributeTypeRepository_CreateAndGet(t *testing.T) {
	repo, _, cleanup := newTypeRepo(t)
	defer cleanup()
	ctx := context.Background()

	pharmacy := entities.OwnerRef{Kind: "department_type", ID: "pharmacy"}

	t.Run("正常系: 参照型の属性タイプ", func(t *testing.T) {
		at := entities.NewAttributeType(pharmacy, "route", "concept")
		fk := 162394
		at.SetForeignKey(&fk)
		at.SetAttributeOrder(2)
		at.SetRegExp(`\d+`)
		at.SetRequired(true)
		at.Description = "Route of administration"

		if err := repo.Create(ctx, at); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if at.ID == 0 {
			t.Fatalf("Expected ID to be assigned")
		}

		got, err := repo.Get(ctx, at.UUID)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.Owner() != pharmacy {
			t.Errorf("Owner = %v, want %v", got.Owner(), pharmacy)
		}
		if gotFK, ok := got.ForeignKey(); !ok || gotFK != fk {
			t.Errorf("ForeignKey = %v, %v, want %v", gotFK, ok, fk)
		}
		if got.AttributeOrder() != 2 || got.RegExp() != `\d+` || !got.Required() || got.Format() != "concept" {
			t.Errorf("Get() = %v, fields not round-tripped", got)
		}
		if got.Description != "Route of administration" {
			t.Errorf("Description = %q", got.Description)
		}
		if got.InUse() {
			t.Errorf("new type reported in use")
		}
	})

	t.Run("正常系: IDで取得", func(t *testing.T) {
		at := entities.NewAttributeType(pharmacy, "fax", "text")
		if err := repo.Create(ctx, at); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		got, err := repo.GetByID(ctx, at.ID)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.UUID != at.UUID {
			t.Errorf("GetByID() = %s, want %s", got.UUID, at.UUID)
		}
		if _, err := repo.GetByID(ctx, -1); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("異常系: 存在しない属性タイプ", func(t *testing.T) {
		_, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("異常系: 名前なし", func(t *testing.T) {
		if err := repo.Create(ctx, entities.NewAttributeType(pharmacy, "", "text")); err == nil {
			t.Errorf("Expected error for missing name")
		}
	})
}

func TestAttributeTypeRepository_ListByOwner(t *testing.T) {
	repo, _, cleanup := newTypeRepo(t)
	defer cleanup()
	ctx := context.Background()

	pharmacy := entities.OwnerRef{Kind: "department_type", ID: "pharmacy"}
	lab := entities.OwnerRef{Kind: "department_type", ID: "lab"}

	second := entities.NewAttributeType(pharmacy, "opening_hours", "text")
	second.SetAttributeOrder(2)
	first := entities.NewAttributeType(pharmacy, "license_no", "text")
	first.SetAttributeOrder(1)
	other := entities.NewAttributeType(lab, "analyzer", "text")

	for _, at := range []*entities.AttributeType[entities.OwnerRef]{second, first, other} {
		if err := repo.Create(ctx, at); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := repo.ListByOwner(ctx, pharmacy.TypeKey())
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByOwner() returned %d types, want 2", len(got))
	}
	if got[0].UUID != first.UUID || got[1].UUID != second.UUID {
		t.Errorf("ListByOwner() order = [%s %s], want [%s %s]", got[0].Name, got[1].Name, first.Name, second.Name)
	}
}

func TestAttributeTypeRepository_UpdateOwnerLock(t *testing.T) {
	repo, attrRepo, cleanup := newTypeRepo(t)
	defer cleanup()
	ctx := context.Background()

	pharmacy := entities.OwnerRef{Kind: "department_type", ID: "pharmacy"}
	lab := entities.OwnerRef{Kind: "department_type", ID: "lab"}

	at := entities.NewAttributeType(pharmacy, "license_no", "text")
	if err := repo.Create(ctx, at); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("正常系: 未使用なら所有者を変更できる", func(t *testing.T) {
		moved, err := repo.Get(ctx, at.UUID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if err := moved.SetOwner(lab); err != nil {
			t.Fatalf("SetOwner() error = %v", err)
		}
		if err := repo.Update(ctx, moved); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if err := moved.SetOwner(pharmacy); err != nil {
			t.Fatalf("SetOwner() error = %v", err)
		}
		if err := repo.Update(ctx, moved); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	})

	attr := entities.NewInstanceAttribute(at, "PH-0091")
	if err := attrRepo.Save(ctx, "department", "42", []*entities.InstanceAttribute[entities.OwnerRef]{attr}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Run("異常系: 使用中の属性タイプの所有者変更", func(t *testing.T) {
		n, err := repo.CountAttributes(ctx, at.ID)
		if err != nil || n != 1 {
			t.Fatalf("CountAttributes() = %d, %v, want 1", n, err)
		}

		// a stale copy that does not know about the attribute
		stale := entities.NewAttributeType(lab, "license_no", "text")
		stale.UUID = at.UUID
		err = repo.Update(ctx, stale)
		if !errors.Is(err, entities.ErrOwnerLocked) {
			t.Errorf("Expected ErrOwnerLocked, got: %v", err)
		}

		loaded, err := repo.Get(ctx, at.UUID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !loaded.InUse() {
			t.Errorf("loaded type not in use")
		}
	})

	t.Run("正常系: 使用中でも他の項目は更新できる", func(t *testing.T) {
		at.SetRequired(true)
		at.Retire("superseded")
		if err := repo.Update(ctx, at); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		loaded, err := repo.Get(ctx, at.UUID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !loaded.Required() || !loaded.Retired || loaded.RetireReason != "superseded" {
			t.Errorf("Update() did not persist fields: %+v", loaded.Metadata)
		}
	})

	t.Run("異常系: 存在しない属性タイプの更新", func(t *testing.T) {
		err := repo.Update(ctx, entities.NewAttributeType(pharmacy, "ghost", "text"))
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}

func TestAttributeTypeRepository_Purge(t *testing.T) {
	repo, attrRepo, cleanup := newTypeRepo(t)
	defer cleanup()
	ctx := context.Background()

	pharmacy := entities.OwnerRef{Kind: "department_type", ID: "pharmacy"}

	t.Run("正常系: 未使用の属性タイプを削除", func(t *testing.T) {
		at := entities.NewAttributeType(pharmacy, "fax", "text")
		if err := repo.Create(ctx, at); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := repo.Purge(ctx, at.UUID); err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if _, err := repo.Get(ctx, at.UUID); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after purge, got: %v", err)
		}
	})

	t.Run("異常系: 無効化された属性だけでも使用中", func(t *testing.T) {
		at := entities.NewAttributeType(pharmacy, "license_no", "text")
		if err := repo.Create(ctx, at); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		attr := entities.NewInstanceAttribute(at, "PH-0091")
		attr.Void("closed")
		if err := attrRepo.Save(ctx, "department", "42", []*entities.InstanceAttribute[entities.OwnerRef]{attr}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		if err := repo.Purge(ctx, at.UUID); !errors.Is(err, entities.ErrInUse) {
			t.Errorf("Expected ErrInUse, got: %v", err)
		}
		if _, err := repo.Get(ctx, at.UUID); err != nil {
			t.Errorf("Get() after refused purge error = %v", err)
		}
	})

	t.Run("異常系: 存在しない属性タイプの削除", func(t *testing.T) {
		err := repo.Purge(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}
