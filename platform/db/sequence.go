package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const nextSequenceQuery = `
	INSERT INTO tenant_sequences (tenant_id, name, value)
	VALUES ($1, $2, 1)
	ON CONFLICT (tenant_id, name) DO UPDATE SET value = tenant_sequences.value + 1
	RETURNING value`

// NextSequence increments and returns the per-tenant counter called name.
func NextSequence(ctx context.Context, q Querier, tenantID uuid.UUID, name string) (int64, error) {
	var value int64
	if err := q.QueryRow(ctx, nextSequenceQuery, tenantID, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	return value, nil
}

// FormatNumber renders prefix-000042 style document numbers.
func FormatNumber(prefix string, value int64) string {
	return fmt.Sprintf("%s-%06d", prefix, value)
}
