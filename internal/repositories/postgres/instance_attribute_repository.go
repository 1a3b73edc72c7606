package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asakaida/customattrs/internal/entities"
	"github.com/asakaida/customattrs/internal/repositories"
)

// PostgresInstanceAttributeRepository implements InstanceAttributeRepository using PostgreSQL
type PostgresInstanceAttributeRepository[O entities.InstanceType] struct {
	db *sql.DB
}

// NewPostgresInstanceAttributeRepository creates a new PostgreSQL attribute repository
func NewPostgresInstanceAttributeRepository[O entities.InstanceType](db *sql.DB) repositories.InstanceAttributeRepository[O] {
	return &PostgresInstanceAttributeRepository[O]{db: db}
}

// Load retrieves every attribute of an entity, voided ones included
func (r *PostgresInstanceAttributeRepository[O]) Load(ctx context.Context, entityType string, entityID string, types repositories.TypeLookup[O]) ([]*entities.InstanceAttribute[O], error) {
	rows, err := r.readRows(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[int64]*entities.AttributeType[O])
	attrs := make([]*entities.InstanceAttribute[O], 0, len(rows))
	for _, row := range rows {
		t, ok := resolved[row.typeID]
		if !ok {
			t, err = types(ctx, row.typeID)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", row.id, err)
			}
			resolved[row.typeID] = t
		}
		attrs = append(attrs, entities.RestoreInstanceAttribute(row.id, t, row.value, row.createdAt, row.voided, row.voidedAt.Time, row.reason))
	}

	return attrs, nil
}

type attributeRow struct {
	id, value, reason string
	typeID            int64
	voided            bool
	voidedAt          sql.NullTime
	createdAt         time.Time
}

// readRows reads all attribute rows before any type is resolved, so that
// lookups hitting the database do not hold a second connection.
func (r *PostgresInstanceAttributeRepository[O]) readRows(ctx context.Context, entityType string, entityID string) ([]attributeRow, error) {
	query := `
		SELECT uuid, attribute_type_id, value, voided, voided_at, void_reason, created_at
		FROM instance_attributes
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, uuid
	`
	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}
	defer rows.Close()

	var out []attributeRow
	for rows.Next() {
		var row attributeRow
		if err := rows.Scan(&row.id, &row.typeID, &row.value, &row.voided, &row.voidedAt, &row.reason, &row.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attributes: %w", err)
	}

	return out, nil
}

// Save upserts all given attributes of an entity in one transaction.
// An attribute already stored for another entity is rejected. Voided rows are
// history: neither their value nor their void state changes afterwards.
func (r *PostgresInstanceAttributeRepository[O]) Save(ctx context.Context, entityType string, entityID string, attrs []*entities.InstanceAttribute[O]) error {
	if len(attrs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO instance_attributes (
			uuid, entity_type, entity_id, attribute_type_id, value,
			voided, voided_at, void_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uuid) DO UPDATE SET
			value = CASE WHEN instance_attributes.voided
				THEN instance_attributes.value ELSE EXCLUDED.value END,
			voided = instance_attributes.voided OR EXCLUDED.voided,
			voided_at = COALESCE(instance_attributes.voided_at, EXCLUDED.voided_at),
			void_reason = CASE WHEN instance_attributes.voided
				THEN instance_attributes.void_reason ELSE EXCLUDED.void_reason END
		WHERE instance_attributes.entity_type = EXCLUDED.entity_type
			AND instance_attributes.entity_id = EXCLUDED.entity_id
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range attrs {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid attribute: %w", err)
		}

		voidedAt := sql.NullTime{Time: a.VoidedAt, Valid: a.Voided()}
		res, err := stmt.ExecContext(ctx,
			a.UUID, entityType, entityID, a.Type.ID, a.Value,
			a.Voided(), voidedAt, a.VoidReason, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to write attribute: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to write attribute: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("attribute %s belongs to another entity: %w", a.UUID, entities.ErrInvalidArgument)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
