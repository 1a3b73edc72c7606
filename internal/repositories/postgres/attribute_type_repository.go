package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
)

// PostgresAttributeTypeRepository implements AttributeTypeRepository using PostgreSQL
type PostgresAttributeTypeRepository[O entities.InstanceType] struct {
	db      *sql.DB
	resolve repositories.OwnerResolver[O]
}

// NewPostgresAttributeTypeRepository creates a new PostgreSQL attribute type repository
func NewPostgresAttributeTypeRepository[O entities.InstanceType](db *sql.DB, resolve repositories.OwnerResolver[O]) repositories.AttributeTypeRepository[O] {
	return &PostgresAttributeTypeRepository[O]{db: db, resolve: resolve}
}

const attributeTypeColumns = `
	id, uuid, owner_key, name, description, attribute_order, format,
	foreign_key, reg_exp, required, retired, retire_reason, created_at, updated_at,
	(SELECT COUNT(*) FROM instance_attributes ia WHERE ia.attribute_type_id = attribute_types.id)`

// Create stores a new attribute type and assigns its ID
func (r *PostgresAttributeTypeRepository[O]) Create(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid attribute type: %w", err)
	}

	query := `
		INSERT INTO attribute_types (
			uuid, owner_key, name, description, attribute_order, format,
			foreign_key, reg_exp, required, retired, retire_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		t.UUID, t.OwnerKey(), t.Name, t.Description, t.AttributeOrder(), t.Format(),
		foreignKeyArg(t), t.RegExp(), t.Required(), t.Retired, t.RetireReason, now, now,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create attribute type: %w", err)
	}

	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// Update stores the mutable fields of an existing attribute type
func (r *PostgresAttributeTypeRepository[O]) Update(ctx context.Context, t *entities.AttributeType[O]) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid attribute type: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var ownerKey string
	err = tx.QueryRowContext(ctx,
		`SELECT id, owner_key FROM attribute_types WHERE uuid = $1 FOR UPDATE`, t.UUID,
	).Scan(&id, &ownerKey)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attribute type %s: %w", t.UUID, repositories.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock attribute type: %w", err)
	}

	if ownerKey != t.OwnerKey() {
		var n int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM instance_attributes WHERE attribute_type_id = $1`, id,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to count attributes: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("attribute type %s has %d attribute(s): %w", t.UUID, n, entities.ErrOwnerLocked)
		}
	}

	query := `
		UPDATE attribute_types
		SET owner_key = $2, name = $3, description = $4, attribute_order = $5, format = $6,
			foreign_key = $7, reg_exp = $8, required = $9, retired = $10, retire_reason = $11,
			updated_at = $12
		WHERE id = $1
	`
	now := time.Now()
	_, err = tx.ExecContext(ctx, query,
		id, t.OwnerKey(), t.Name, t.Description, t.AttributeOrder(), t.Format(),
		foreignKeyArg(t), t.RegExp(), t.Required(), t.Retired, t.RetireReason, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update attribute type: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.ID = id
	t.UpdatedAt = now
	return nil
}

// Get retrieves an attribute type by UUID
func (r *PostgresAttributeTypeRepository[O]) Get(ctx context.Context, uuid string) (*entities.AttributeType[O], error) {
	query := `SELECT ` + attributeTypeColumns + ` FROM attribute_types WHERE uuid = $1`

	t, err := r.scan(r.db.QueryRowContext(ctx, query, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute type %s: %w", uuid, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute type: %w", err)
	}
	return t, nil
}

// GetByID retrieves an attribute type by database ID
func (r *PostgresAttributeTypeRepository[O]) GetByID(ctx context.Context, id int64) (*entities.AttributeType[O], error) {
	query := `SELECT ` + attributeTypeColumns + ` FROM attribute_types WHERE id = $1`

	t, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute type %d: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute type: %w", err)
	}
	return t, nil
}

// ListByOwner retrieves all attribute types of an owner
func (r *PostgresAttributeTypeRepository[O]) ListByOwner(ctx context.Context, ownerKey string) ([]*entities.AttributeType[O], error) {
	query := `SELECT ` + attributeTypeColumns + `
		FROM attribute_types
		WHERE owner_key = $1
		ORDER BY attribute_order, uuid
	`
	rows, err := r.db.QueryContext(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute types: %w", err)
	}
	defer rows.Close()

	var types []*entities.AttributeType[O]
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attribute type: %w", err)
		}
		types = append(types, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attribute types: %w", err)
	}

	return types, nil
}

// CountAttributes returns how many stored attributes reference the type
func (r *PostgresAttributeTypeRepository[O]) CountAttributes(ctx context.Context, typeID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instance_attributes WHERE attribute_type_id = $1`, typeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attributes: %w", err)
	}
	return n, nil
}

// Purge deletes an attribute type that no stored attribute references
func (r *PostgresAttributeTypeRepository[O]) Purge(ctx context.Context, uuid string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM attribute_types WHERE uuid = $1 FOR UPDATE`, uuid,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attribute type %s: %w", uuid, repositories.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock attribute type: %w", err)
	}

	var n int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instance_attributes WHERE attribute_type_id = $1`, id,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to count attributes: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("attribute type %s has %d attribute(s): %w", uuid, n, entities.ErrInUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_types WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete attribute type: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresAttributeTypeRepository[O]) scan(row rowScanner) (*entities.AttributeType[O], error) {
	var (
		id                         int64
		uuid, ownerKey, name, desc string
		order                      int
		format, regExp, reason     string
		foreignKey                 sql.NullInt32
		required, retired          bool
		createdAt, updatedAt       time.Time
		usage                      int64
	)
	err := row.Scan(
		&id, &uuid, &ownerKey, &name, &desc, &order, &format,
		&foreignKey, &regExp, &required, &retired, &reason, &createdAt, &updatedAt,
		&usage,
	)
	if err != nil {
		return nil, err
	}

	owner, err := r.resolve(ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner %q: %w", ownerKey, err)
	}

	t := entities.NewAttributeType(owner, name, format)
	t.ID = id
	t.UUID = uuid
	t.Description = desc
	t.Retired = retired
	t.RetireReason = reason
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	t.SetAttributeOrder(order)
	t.SetRegExp(regExp)
	t.SetRequired(required)
	if foreignKey.Valid {
		fk := int(foreignKey.Int32)
		t.SetForeignKey(&fk)
	}
	t.SetUsageCount(usage)
	return t, nil
}

func foreignKeyArg[O entities.InstanceType](t *entities.AttributeType[O]) sql.NullInt32 {
	fk, ok := t.ForeignKey()
	return sql.NullInt32{Int32: int32(fk), Valid: ok}
}
