package normalization

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
)

type Service struct {
	tables TableRepository
	engine *Engine
	logger zerolog.Logger
}

func NewService(tables TableRepository, engine *Engine, logger zerolog.Logger) *Service {
	return &Service{tables: tables, engine: engine, logger: logger}
}

func (s *Service) CreateTable(ctx context.Context, t *NormativeTable) error {
	if err := ValidateTable(t); err != nil {
		return err
	}
	if err := s.tables.Create(ctx, t); err != nil {
		return fmt.Errorf("create normative table: %w", err)
	}
	s.logger.Info().Str("table_id", t.ID.String()).Str("name", t.Name).Int("bands", len(t.Bands)).Msg("normative table created")
	return nil
}

func (s *Service) GetTable(ctx context.Context, id uuid.UUID) (*NormativeTable, error) {
	return s.tables.GetByID(ctx, id)
}

func (s *Service) ListTables(ctx context.Context, instrumentCode string, limit, offset int) ([]*NormativeTable, int, error) {
	return s.tables.List(ctx, instrumentCode, limit, offset)
}

func (s *Service) DeleteTable(ctx context.Context, id uuid.UUID) error {
	return s.tables.Delete(ctx, id)
}

// Normalize loads the stored table and places raw on it.
func (s *Service) Normalize(ctx context.Context, tableID uuid.UUID, raw calculation.RawScore, patient Patient) (*NormalizedResult, error) {
	t, err := s.tables.GetByID(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return s.engine.Normalize(raw, t, patient)
}
