package assessment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInstrumentNotFound     = errors.New("instrument not found")
	ErrAdministrationNotFound = errors.New("administration not found")
	ErrDuplicateCode          = errors.New("instrument code already exists")
)

type InstrumentRepository interface {
	Create(ctx context.Context, inst *Instrument) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error)
	List(ctx context.Context, limit, offset int) ([]*Instrument, int, error)
}

type AdministrationRepository interface {
	Create(ctx context.Context, a *Administration) error
	GetByID(ctx context.Context, id uuid.UUID) (*Administration, error)
	Update(ctx context.Context, a *Administration) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Administration, int, error)
}
