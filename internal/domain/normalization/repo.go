package normalization

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrTableNotFound = errors.New("normative table not found")

type TableRepository interface {
	Create(ctx context.Context, t *NormativeTable) error
	GetByID(ctx context.Context, id uuid.UUID) (*NormativeTable, error)
	List(ctx context.Context, instrumentCode string, limit, offset int) ([]*NormativeTable, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
