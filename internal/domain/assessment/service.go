package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/interpretation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// ErrInvalidState is returned when an operation does not apply to the
// administration's current status.
var ErrInvalidState = errors.New("operation not allowed in current status")

const defaultBatchConcurrency = 8

type Service struct {
	instruments     InstrumentRepository
	administrations AdministrationRepository
	calc            *calculation.Engine
	norms           *normalization.Service
	scorers         *multiscale.Registry
	logger          zerolog.Logger
	now             func() time.Time
}

func NewService(instruments InstrumentRepository, administrations AdministrationRepository, calc *calculation.Engine,
	norms *normalization.Service, scorers *multiscale.Registry, logger zerolog.Logger) *Service {
	return &Service{
		instruments:     instruments,
		administrations: administrations,
		calc:            calc,
		norms:           norms,
		scorers:         scorers,
		logger:          logger,
		now:             time.Now,
	}
}

// -- Instruments --

func (s *Service) CreateInstrument(ctx context.Context, inst *Instrument) error {
	if inst.Code == "" {
		return fmt.Errorf("code is required")
	}
	if inst.Name == "" {
		return fmt.Errorf("name is required")
	}
	if inst.Mode == "" {
		inst.Mode = ModeStandard
	}
	switch inst.Mode {
	case ModeStandard:
		if err := s.checkStandard(ctx, inst); err != nil {
			return err
		}
	case ModeMultiscale:
		if inst.Definition == nil {
			return scoreerr.InvalidDefinition("multiscale instrument requires a definition")
		}
		scorer, err := multiscale.NewScorer(*inst.Definition, s.logger)
		if err != nil {
			return err
		}
		if err := scorer.CheckTables(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("mode must be %q or %q", ModeStandard, ModeMultiscale)
	}
	if err := s.instruments.Create(ctx, inst); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return err
		}
		return fmt.Errorf("create instrument: %w", err)
	}
	s.logger.Info().Str("instrument_id", inst.ID.String()).Str("code", inst.Code).Str("mode", string(inst.Mode)).Msg("instrument created")
	return nil
}

func (s *Service) checkStandard(ctx context.Context, inst *Instrument) error {
	if len(inst.Questions) == 0 {
		return fmt.Errorf("questions are required")
	}
	rule, err := inst.Rule()
	if err != nil {
		return err
	}
	if err := s.calc.CheckRule(rule, inst.Questions); err != nil {
		return err
	}
	if err := interpretation.ValidateRules(inst.InterpretationRules); err != nil {
		return err
	}
	if inst.NormativeTableID != nil {
		if _, err := s.norms.GetTable(ctx, *inst.NormativeTableID); err != nil {
			if errors.Is(err, normalization.ErrTableNotFound) {
				return scoreerr.InvalidBand(fmt.Sprintf("normative table %s does not exist", inst.NormativeTableID))
			}
			return err
		}
	}
	return nil
}

func (s *Service) GetInstrument(ctx context.Context, id uuid.UUID) (*Instrument, error) {
	return s.instruments.GetByID(ctx, id)
}

func (s *Service) ListInstruments(ctx context.Context, limit, offset int) ([]*Instrument, int, error) {
	return s.instruments.List(ctx, limit, offset)
}

// -- Administrations --

func (s *Service) StartAdministration(ctx context.Context, a *Administration) error {
	if a.InstrumentID == uuid.Nil {
		return fmt.Errorf("instrument_id is required")
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.BirthDate.IsZero() {
		return fmt.Errorf("birth_date is required")
	}
	if a.EducationYears < 0 {
		return fmt.Errorf("education_years must not be negative")
	}
	if _, err := s.instruments.GetByID(ctx, a.InstrumentID); err != nil {
		return err
	}
	a.Status = StatusInProgress
	if a.Answers == nil {
		a.Answers = calculation.AnswerSet{}
	}
	a.resetOutcome()
	if err := s.administrations.Create(ctx, a); err != nil {
		return fmt.Errorf("create administration: %w", err)
	}
	s.logger.Info().Str("administration_id", a.ID.String()).Str("instrument_id", a.InstrumentID.String()).Msg("administration started")
	return nil
}

func (s *Service) GetAdministration(ctx context.Context, id uuid.UUID) (*Administration, error) {
	return s.administrations.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Administration, int, error) {
	return s.administrations.ListByPatient(ctx, patientID, limit, offset)
}

// SubmitAnswers merges answers into an administration that is still in
// progress.
func (s *Service) SubmitAnswers(ctx context.Context, id uuid.UUID, answers calculation.AnswerSet) (*Administration, error) {
	a, err := s.administrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, ErrInvalidState
	}
	if a.Answers == nil {
		a.Answers = calculation.AnswerSet{}
	}
	a.Answers.Merge(answers)
	if err := s.administrations.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update administration: %w", err)
	}
	return a, nil
}

// Validate runs the entry checks of the instrument's scoring path against
// the answers collected so far.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) error {
	a, inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if inst.Mode == ModeMultiscale {
		if inst.Definition == nil {
			return scoreerr.InvalidDefinition("instrument has no multiscale definition")
		}
		_, err := multiscale.AnswersFromSet(a.Answers, inst.Definition.ItemCount)
		return err
	}
	rule, err := inst.Rule()
	if err != nil {
		return err
	}
	return s.calc.Validate(rule, a.Answers, inst.Questions)
}

// Finalize scores an in-progress administration and stores the outcome.
// Scoring errors are recorded on the administration, which is returned
// together with the error.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Administration, error) {
	return s.rescore(ctx, id, StatusInProgress)
}

// Recalculate retries scoring of a failed administration, typically after
// its instrument configuration was fixed. Failures caused by answers leave
// the administration in progress instead, where Finalize applies.
func (s *Service) Recalculate(ctx context.Context, id uuid.UUID) (*Administration, error) {
	return s.rescore(ctx, id, StatusFailed)
}

func (s *Service) rescore(ctx context.Context, id uuid.UUID, from Status) (*Administration, error) {
	a, inst, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, ErrInvalidState
	}
	scoreErr := s.score(ctx, inst, a)
	if _, typed := scoreerr.As(scoreErr); scoreErr != nil && !typed {
		return nil, fmt.Errorf("score administration: %w", scoreErr)
	}
	if err := s.administrations.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update administration: %w", err)
	}

	ev := s.logger.Info()
	if a.Status != StatusCompleted {
		ev = s.logger.Warn()
	}
	if a.ErrorCode != nil {
		ev = ev.Str("error_code", *a.ErrorCode)
	}
	ev.Str("administration_id", a.ID.String()).Str("status", string(a.Status)).Msg("administration scored")
	return a, scoreErr
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Administration, *Instrument, error) {
	a, err := s.administrations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	inst, err := s.instruments.GetByID(ctx, a.InstrumentID)
	if err != nil {
		return nil, nil, err
	}
	return a, inst, nil
}

// score fills the outcome fields of a. A missing normative band still
// completes the administration with its raw score. Input errors keep it in
// progress so the answers can be corrected; any other typed scoring error
// fails it. Untyped errors leave the status untouched.
func (s *Service) score(ctx context.Context, inst *Instrument, a *Administration) error {
	a.resetOutcome()
	var err error
	if inst.Mode == ModeMultiscale {
		err = s.scoreMultiscale(inst, a)
	} else {
		err = s.scoreStandard(ctx, inst, a)
	}

	se, typed := scoreerr.As(err)
	switch {
	case err == nil:
		a.Status = StatusCompleted
	case typed && se.Code == scoreerr.CodeNoNormativeBand:
		a.Status = StatusCompleted
		a.recordError(se.Code, se.Message)
		err = nil
	case typed && se.Kind == scoreerr.KindInput:
		a.Status = StatusInProgress
		a.recordError(se.Code, se.Message)
	case typed:
		a.Status = StatusFailed
		a.recordError(se.Code, se.Message)
	default:
		return err
	}
	if a.Status == StatusCompleted {
		now := s.now()
		a.CompletedAt = &now
	}
	return err
}

func (s *Service) scoreStandard(ctx context.Context, inst *Instrument, a *Administration) error {
	rule, err := inst.Rule()
	if err != nil {
		return err
	}
	raw, err := s.calc.Calculate(rule, a.Answers, inst.Questions)
	if err != nil {
		return err
	}
	a.RawScore = &raw

	var normErr error
	if inst.NormativeTableID != nil {
		a.Normalized, normErr = s.norms.Normalize(ctx, *inst.NormativeTableID, raw, a.Patient())
		if errors.Is(normErr, normalization.ErrTableNotFound) {
			normErr = scoreerr.InvalidBand(fmt.Sprintf("normative table %s does not exist", inst.NormativeTableID))
		}
		if normErr != nil && !scoreerr.IsKind(normErr, scoreerr.KindCoverage) {
			a.Normalized = nil
			return normErr
		}
	}

	text := interpretation.Interpret(inst.InterpretationRules, a.Normalized, &raw)
	a.Interpretation = &text
	if len(raw.Sections) > 0 {
		a.SectionInterpretations = interpretation.InterpretSections(inst.InterpretationRules, a.Normalized, raw)
	}
	return normErr
}

func (s *Service) scoreMultiscale(inst *Instrument, a *Administration) error {
	if inst.Definition == nil {
		return scoreerr.InvalidDefinition("instrument has no multiscale definition")
	}
	scorer, err := s.scorers.Scorer(inst.ID.String(), inst.version(), *inst.Definition)
	if err != nil {
		return err
	}
	answers, err := multiscale.AnswersFromSet(a.Answers, inst.Definition.ItemCount)
	if err != nil {
		return err
	}
	a.Profile = scorer.Score(answers)
	return nil
}

// ScoreBatch finalizes many administrations concurrently. Per-item failures
// are reported in the results; the returned error is only set when the
// context ends first.
func (s *Service) ScoreBatch(ctx context.Context, ids []uuid.UUID, concurrency int) ([]BatchResult, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	results := make([]BatchResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scoreOne(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	s.logger.Info().Int("count", len(ids)).Msg("batch scored")
	return results, nil
}

func (s *Service) scoreOne(ctx context.Context, id uuid.UUID) BatchResult {
	res := BatchResult{ID: id}
	a, err := s.Finalize(ctx, id)
	if a != nil {
		res.Status = a.Status
		if a.ErrorCode != nil {
			res.ErrorCode = *a.ErrorCode
		}
	}
	if err != nil {
		res.Error = err.Error()
		if code := scoreerr.CodeOf(err); code != "" {
			res.ErrorCode = code
		}
	}
	return res
}
