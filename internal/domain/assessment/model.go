package assessment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/interpretation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
)

type Mode string

const (
	ModeStandard   Mode = "standard"
	ModeMultiscale Mode = "multiscale"
)

// Instrument is a published questionnaire together with everything needed
// to score it. ScoringRule keeps the rule in its tagged JSON form.
type Instrument struct {
	ID                  uuid.UUID              `json:"id"`
	Code                string                 `json:"code"`
	Name                string                 `json:"name"`
	Mode                Mode                   `json:"mode"`
	Questions           []calculation.Question `json:"questions,omitempty"`
	ScoringRule         json.RawMessage        `json:"scoring_rule,omitempty"`
	InterpretationRules []interpretation.Rule  `json:"interpretation_rules,omitempty"`
	NormativeTableID    *uuid.UUID             `json:"normative_table_id,omitempty"`
	Definition          *multiscale.Definition `json:"definition,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Rule decodes the stored scoring rule.
func (i *Instrument) Rule() (calculation.Rule, error) {
	return calculation.DecodeRule(i.ScoringRule)
}

// version identifies the instrument revision for the scorer registry.
func (i *Instrument) version() string {
	return i.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Administration is one sitting of an instrument by a patient. The
// demographics are captured at start so later scoring does not depend on
// the patient record.
type Administration struct {
	ID                     uuid.UUID                      `json:"id"`
	InstrumentID           uuid.UUID                      `json:"instrument_id"`
	PatientID              uuid.UUID                      `json:"patient_id"`
	BirthDate              time.Time                      `json:"birth_date"`
	EducationYears         int                            `json:"education_years"`
	Sex                    string                         `json:"sex,omitempty"`
	Status                 Status                         `json:"status"`
	Answers                calculation.AnswerSet          `json:"answers"`
	RawScore               *calculation.RawScore          `json:"raw_score,omitempty"`
	Normalized             *normalization.NormalizedResult `json:"normalized,omitempty"`
	Interpretation         *string                        `json:"interpretation,omitempty"`
	SectionInterpretations map[string]string              `json:"section_interpretations,omitempty"`
	Profile                *multiscale.Profile            `json:"profile,omitempty"`
	ErrorCode              *string                        `json:"error_code,omitempty"`
	ErrorMessage           *string                        `json:"error_message,omitempty"`
	AdministeredBy         *string                        `json:"administered_by,omitempty"`
	CompletedAt            *time.Time                     `json:"completed_at,omitempty"`
	CreatedAt              time.Time                      `json:"created_at"`
	UpdatedAt              time.Time                      `json:"updated_at"`
}

func (a *Administration) Patient() normalization.Patient {
	return normalization.Patient{BirthDate: a.BirthDate, EducationYears: a.EducationYears, Sex: a.Sex}
}

// resetOutcome clears every scoring output before a new attempt.
func (a *Administration) resetOutcome() {
	a.RawScore = nil
	a.Normalized = nil
	a.Interpretation = nil
	a.SectionInterpretations = nil
	a.Profile = nil
	a.ErrorCode = nil
	a.ErrorMessage = nil
	a.CompletedAt = nil
}

func (a *Administration) recordError(code, msg string) {
	a.ErrorCode = &code
	a.ErrorMessage = &msg
}

// BatchResult is the per-administration outcome of ScoreBatch.
type BatchResult struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}
