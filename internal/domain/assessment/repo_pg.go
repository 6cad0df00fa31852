package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// jsonb marshals v for a JSONB column. Nil pointers and maps become SQL NULL.
func jsonb(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func unjsonb(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// -- Instrument --

type instrumentRepoPG struct{ pool *pgxpool.Pool }

func NewInstrumentRepoPG(pool *pgxpool.Pool) InstrumentRepository {
	return &instrumentRepoPG{pool: pool}
}

const instCols = `id, code, name, mode, questions, scoring_rule, interpretation_rules,
	normative_table_id, definition, created_at, updated_at`

func (r *instrumentRepoPG) scan(row pgx.Row) (*Instrument, error) {
	var i Instrument
	var questions, rule, rules, def []byte
	err := row.Scan(&i.ID, &i.Code, &i.Name, &i.Mode, &questions, &rule, &rules,
		&i.NormativeTableID, &def, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}
		return nil, err
	}
	if err := unjsonb(questions, &i.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(rule) > 0 {
		i.ScoringRule = json.RawMessage(rule)
	}
	if err := unjsonb(rules, &i.InterpretationRules); err != nil {
		return nil, fmt.Errorf("decode interpretation rules: %w", err)
	}
	if len(def) > 0 {
		i.Definition = new(multiscale.Definition)
		if err := json.Unmarshal(def, i.Definition); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
	}
	return &i, nil
}

func (r *instrumentRepoPG) Create(ctx context.Context, i *Instrument) error {
	i.ID = uuid.New()
	questions, err := json.Marshal(i.Questions)
	if err != nil {
		return err
	}
	rules, err := json.Marshal(i.InterpretationRules)
	if err != nil {
		return err
	}
	var def []byte
	if i.Definition != nil {
		if def, err = json.Marshal(i.Definition); err != nil {
			return err
		}
	}
	var rule []byte
	if len(i.ScoringRule) > 0 {
		rule = i.ScoringRule
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO instrument (id, code, name, mode, questions, scoring_rule, interpretation_rules,
			normative_table_id, definition)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		i.ID, i.Code, i.Name, i.Mode, questions, rule, rules, i.NormativeTableID, def,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

func (r *instrumentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instrument, error) {
	return r.scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+instCols+` FROM instrument WHERE id = $1`, id))
}

func (r *instrumentRepoPG) List(ctx context.Context, limit, offset int) ([]*Instrument, int, error) {
	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM instrument`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+instCols+` FROM instrument ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Instrument
	for rows.Next() {
		i, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

// -- Administration --

type administrationRepoPG struct{ pool *pgxpool.Pool }

func NewAdministrationRepoPG(pool *pgxpool.Pool) AdministrationRepository {
	return &administrationRepoPG{pool: pool}
}

const admCols = `id, instrument_id, patient_id, birth_date, education_years, sex, status, answers,
	raw_score, normalized, interpretation, section_interpretations, profile, error_code, error_message,
	administered_by, completed_at, created_at, updated_at`

func (r *administrationRepoPG) scan(row pgx.Row) (*Administration, error) {
	var a Administration
	var answers, raw, norm, sections, profile []byte
	err := row.Scan(&a.ID, &a.InstrumentID, &a.PatientID, &a.BirthDate, &a.EducationYears, &a.Sex, &a.Status,
		&answers, &raw, &norm, &a.Interpretation, &sections, &profile, &a.ErrorCode, &a.ErrorMessage,
		&a.AdministeredBy, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdministrationNotFound
		}
		return nil, err
	}
	if err := unjsonb(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if len(raw) > 0 {
		a.RawScore = new(calculation.RawScore)
		if err := json.Unmarshal(raw, a.RawScore); err != nil {
			return nil, fmt.Errorf("decode raw score: %w", err)
		}
	}
	if len(norm) > 0 {
		a.Normalized = new(normalization.NormalizedResult)
		if err := json.Unmarshal(norm, a.Normalized); err != nil {
			return nil, fmt.Errorf("decode normalized result: %w", err)
		}
	}
	if err := unjsonb(sections, &a.SectionInterpretations); err != nil {
		return nil, fmt.Errorf("decode section interpretations: %w", err)
	}
	if len(profile) > 0 {
		a.Profile = new(multiscale.Profile)
		if err := json.Unmarshal(profile, a.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	return &a, nil
}

// outcomeColumns encodes the JSONB scoring outputs in column order.
func outcomeColumns(a *Administration) (raw, norm, sections, profile []byte, err error) {
	if raw, err = jsonb(a.RawScore); err != nil {
		return
	}
	if norm, err = jsonb(a.Normalized); err != nil {
		return
	}
	if len(a.SectionInterpretations) > 0 {
		if sections, err = jsonb(a.SectionInterpretations); err != nil {
			return
		}
	}
	profile, err = jsonb(a.Profile)
	return
}

func answersColumn(a *Administration) ([]byte, error) {
	if a.Answers == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.Answers)
}

func (r *administrationRepoPG) Create(ctx context.Context, a *Administration) error {
	a.ID = uuid.New()
	answers, err := answersColumn(a)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO administration (id, instrument_id, patient_id, birth_date, education_years, sex,
			status, answers, administered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.InstrumentID, a.PatientID, a.BirthDate, a.EducationYears, a.Sex,
		a.Status, answers, a.AdministeredBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *administrationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Administration, error) {
	return r.scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+admCols+` FROM administration WHERE id = $1`, id))
}

func (r *administrationRepoPG) Update(ctx context.Context, a *Administration) error {
	answers, err := answersColumn(a)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	raw, norm, sections, profile, err := outcomeColumns(a)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE administration SET status = $2, answers = $3, raw_score = $4, normalized = $5,
			interpretation = $6, section_interpretations = $7, profile = $8, error_code = $9,
			error_message = $10, completed_at = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, answers, raw, norm, a.Interpretation, sections, profile,
		a.ErrorCode, a.ErrorMessage, a.CompletedAt,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAdministrationNotFound
	}
	return err
}

func (r *administrationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Administration, int, error) {
	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM administration WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+admCols+` FROM administration WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Administration
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
