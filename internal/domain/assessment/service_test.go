package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/interpretation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// -- mocks --

type mockInstrumentRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Instrument
}

func newMockInstrumentRepo() *mockInstrumentRepo {
	return &mockInstrumentRepo{store: make(map[uuid.UUID]*Instrument)}
}

func (m *mockInstrumentRepo) Create(_ context.Context, inst *Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.Code == inst.Code {
			return ErrDuplicateCode
		}
	}
	inst.ID = uuid.New()
	inst.CreatedAt = time.Now()
	inst.UpdatedAt = inst.CreatedAt
	m.store[inst.ID] = inst
	return nil
}

func (m *mockInstrumentRepo) GetByID(_ context.Context, id uuid.UUID) (*Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.store[id]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *mockInstrumentRepo) List(_ context.Context, limit, offset int) ([]*Instrument, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instrument
	for _, inst := range m.store {
		out = append(out, inst)
	}
	return out, len(out), nil
}

type mockAdministrationRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Administration
}

func newMockAdministrationRepo() *mockAdministrationRepo {
	return &mockAdministrationRepo{store: make(map[uuid.UUID]*Administration)}
}

// clone round-trips through JSON so callers never share maps with the store.
func clone(a *Administration) *Administration {
	data, _ := json.Marshal(a)
	var out Administration
	_ = json.Unmarshal(data, &out)
	return &out
}

func (m *mockAdministrationRepo) Create(_ context.Context, a *Administration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.store[a.ID] = clone(a)
	return nil
}

func (m *mockAdministrationRepo) GetByID(_ context.Context, id uuid.UUID) (*Administration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAdministrationNotFound
	}
	return clone(a), nil
}

func (m *mockAdministrationRepo) Update(_ context.Context, a *Administration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[a.ID]; !ok {
		return ErrAdministrationNotFound
	}
	a.UpdatedAt = time.Now()
	m.store[a.ID] = clone(a)
	return nil
}

func (m *mockAdministrationRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Administration, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Administration
	for _, a := range m.store {
		if a.PatientID == patientID {
			out = append(out, clone(a))
		}
	}
	return out, len(out), nil
}

type mockTableRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*normalization.NormativeTable
}

func newMockTableRepo() *mockTableRepo {
	return &mockTableRepo{store: make(map[uuid.UUID]*normalization.NormativeTable)}
}

func (m *mockTableRepo) Create(_ context.Context, t *normalization.NormativeTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	m.store[t.ID] = t
	return nil
}

func (m *mockTableRepo) GetByID(_ context.Context, id uuid.UUID) (*normalization.NormativeTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, normalization.ErrTableNotFound
	}
	return t, nil
}

func (m *mockTableRepo) List(_ context.Context, _ string, _, _ int) ([]*normalization.NormativeTable, int, error) {
	return nil, 0, nil
}

func (m *mockTableRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, id)
	return nil
}

// -- fixtures --

type fixture struct {
	svc    *Service
	insts  *mockInstrumentRepo
	admins *mockAdministrationRepo
	tables *mockTableRepo
	norms  *normalization.Service
}

func newFixture() *fixture {
	f := &fixture{
		insts:  newMockInstrumentRepo(),
		admins: newMockAdministrationRepo(),
		tables: newMockTableRepo(),
	}
	f.norms = normalization.NewService(f.tables, normalization.NewEngine(), zerolog.Nop())
	f.svc = NewService(f.insts, f.admins, calculation.NewEngine(), f.norms, multiscale.NewRegistry(zerolog.Nop()), zerolog.Nop())
	return f
}

func likert(n int, required bool) calculation.Question {
	return calculation.Question{
		Number:   n,
		Required: required,
		ScaleOptions: []calculation.ScaleOption{
			{Label: "never", Value: 0}, {Label: "sometimes", Value: 1},
			{Label: "often", Value: 2}, {Label: "always", Value: 3},
		},
	}
}

func (f *fixture) adultTable(t *testing.T) uuid.UUID {
	t.Helper()
	table := &normalization.NormativeTable{
		Name: "adult-general",
		Bands: []normalization.NormativeBand{{
			AgeMin: 18, AgeMax: 99, EducationMin: 0, EducationMax: 30,
			Percentiles: map[int]float64{5: 1, 25: 3, 50: 5, 75: 7, 95: 9},
			Mean:        5, StdDev: 2,
		}},
	}
	if err := f.norms.CreateTable(context.Background(), table); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return table.ID
}

func float(v float64) *float64 { return &v }

func (f *fixture) standardInstrument(t *testing.T, tableID *uuid.UUID) *Instrument {
	t.Helper()
	inst := &Instrument{
		Code:        "MOOD-3",
		Name:        "Three item mood screen",
		Questions:   []calculation.Question{likert(1, true), likert(2, true), likert(3, true)},
		ScoringRule: json.RawMessage(`{"type":"simple_sum","questions":[1,2,3],"max_scale_value":3}`),
		InterpretationRules: []interpretation.Rule{
			{Condition: interpretation.Condition{PercentileMin: float(90)}, Text: "Marked symptoms.", AlertLevel: interpretation.AlertHigh},
		},
		NormativeTableID: tableID,
	}
	if err := f.svc.CreateInstrument(context.Background(), inst); err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	return inst
}

func (f *fixture) start(t *testing.T, instID uuid.UUID, birth time.Time, answers calculation.AnswerSet) *Administration {
	t.Helper()
	a := &Administration{InstrumentID: instID, PatientID: uuid.New(), BirthDate: birth, EducationYears: 12, Answers: answers}
	if err := f.svc.StartAdministration(context.Background(), a); err != nil {
		t.Fatalf("start administration: %v", err)
	}
	return a
}

var adultBirth = time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC)

// -- tests --

func TestFinalize_StandardPipeline(t *testing.T) {
	f := newFixture()
	tableID := f.adultTable(t)
	inst := f.standardInstrument(t, &tableID)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 2, "2": 2, "3": 1})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected completed administration, got %s", got.Status)
	}
	if got.RawScore == nil || got.RawScore.Total != 5 {
		t.Fatalf("expected raw total 5, got %+v", got.RawScore)
	}
	if got.Normalized == nil || got.Normalized.Percentile != 50 || got.Normalized.Classification != normalization.ClassAverage {
		t.Errorf("unexpected normalized result %+v", got.Normalized)
	}
	if got.Interpretation == nil || !strings.Contains(*got.Interpretation, "percentile 50") {
		t.Errorf("expected generic narrative, got %v", got.Interpretation)
	}
	if got.ErrorCode != nil {
		t.Errorf("expected no error code, got %s", *got.ErrorCode)
	}

	stored, _ := f.svc.GetAdministration(context.Background(), a.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("expected stored status completed, got %s", stored.Status)
	}
}

func TestFinalize_HighScoreMatchesAlertRule(t *testing.T) {
	f := newFixture()
	tableID := f.adultTable(t)
	inst := f.standardInstrument(t, &tableID)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 3, "2": 3, "3": 3})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Interpretation == nil || !strings.HasPrefix(*got.Interpretation, "⚠️ HIGH ALERT: Marked symptoms.") {
		t.Errorf("expected high alert text, got %v", got.Interpretation)
	}
}

func TestFinalize_CoverageGapKeepsRawScore(t *testing.T) {
	f := newFixture()
	tableID := f.adultTable(t)
	inst := f.standardInstrument(t, &tableID)
	child := time.Now().AddDate(-10, 0, 0)
	a := f.start(t, inst.ID, child, calculation.AnswerSet{"1": 1, "2": 1, "3": 1})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("coverage gap must not fail finalize: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ErrorCode == nil || *got.ErrorCode != scoreerr.CodeNoNormativeBand {
		t.Errorf("expected NO_NORMATIVE_BAND, got %v", got.ErrorCode)
	}
	if got.RawScore == nil || got.RawScore.Total != 3 || got.Normalized != nil {
		t.Errorf("expected raw score only, got raw %+v normalized %+v", got.RawScore, got.Normalized)
	}
	if got.Interpretation == nil || !strings.Contains(*got.Interpretation, "No normative comparison") {
		t.Errorf("expected raw-only narrative, got %v", got.Interpretation)
	}
}

func TestFinalize_InputErrorReturnsToAnswering(t *testing.T) {
	f := newFixture()
	inst := f.standardInstrument(t, nil)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1, "2": "often", "3": 1})
	ctx := context.Background()

	got, err := f.svc.Finalize(ctx, a.ID)
	if scoreerr.CodeOf(err) != scoreerr.CodeInvalidAnswer {
		t.Fatalf("expected INVALID_ANSWER, got %v", err)
	}
	if got.Status != StatusInProgress || got.ErrorCode == nil || *got.ErrorCode != scoreerr.CodeInvalidAnswer {
		t.Errorf("expected in-progress administration with code, got %+v", got)
	}
	if got.RawScore != nil {
		t.Error("administration with invalid answers must not carry a raw score")
	}
	if _, err := f.svc.Recalculate(ctx, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on recalculate, got %v", err)
	}

	if _, err := f.svc.SubmitAnswers(ctx, a.ID, calculation.AnswerSet{"2": 2}); err != nil {
		t.Fatalf("correcting answers: %v", err)
	}
	got, err = f.svc.Finalize(ctx, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.RawScore == nil || got.RawScore.Total != 4 || got.ErrorCode != nil {
		t.Errorf("expected completed with total 4, got %+v", got)
	}

	if _, err := f.svc.Finalize(ctx, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second finalize, got %v", err)
	}
}

func TestRecalculate_AfterConfigurationFix(t *testing.T) {
	f := newFixture()
	inst := f.standardInstrument(t, nil)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1, "2": 2, "3": 3})

	f.insts.mu.Lock()
	f.insts.store[inst.ID].ScoringRule = json.RawMessage(`{"type":"custom","description":"clinician scored"}`)
	f.insts.mu.Unlock()

	if _, err := f.svc.Finalize(context.Background(), a.ID); scoreerr.CodeOf(err) != scoreerr.CodeRuleCustomUnsupported {
		t.Fatalf("expected RULE_CUSTOM_UNSUPPORTED, got %v", err)
	}

	f.insts.mu.Lock()
	f.insts.store[inst.ID].ScoringRule = json.RawMessage(`{"type":"weighted_sum","weights":[{"question":1,"weight":2},{"question":3,"weight":0.5}]}`)
	f.insts.mu.Unlock()

	got, err := f.svc.Recalculate(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.RawScore.Total != 3.5 || got.ErrorCode != nil {
		t.Errorf("expected completed with 3.5, got %+v", got)
	}
	if _, err := f.svc.Recalculate(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("recalculate applies to failed administrations only, got %v", err)
	}
}

func TestSubmitAnswers_MergesWhileInProgress(t *testing.T) {
	f := newFixture()
	inst := f.standardInstrument(t, nil)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1})

	if err := f.svc.Validate(context.Background(), a.ID); scoreerr.CodeOf(err) != scoreerr.CodeRequiredUnanswered {
		t.Errorf("expected REQUIRED_UNANSWERED before completion, got %v", err)
	}

	got, err := f.svc.SubmitAnswers(context.Background(), a.ID, calculation.AnswerSet{"q1": 3, "2": 0, "3": 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := got.Answers.Lookup(1); v != 3 {
		t.Errorf("expected q1 to replace answer 1, got %v", v)
	}
	if err := f.svc.Validate(context.Background(), a.ID); err != nil {
		t.Errorf("expected valid answers, got %v", err)
	}

	if _, err := f.svc.Finalize(context.Background(), a.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.svc.SubmitAnswers(context.Background(), a.ID, calculation.AnswerSet{"1": 0}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after completion, got %v", err)
	}
}

func TestFinalize_SectionedInterpretations(t *testing.T) {
	f := newFixture()
	inst := &Instrument{
		Code:      "SECT-4",
		Name:      "Sectioned screen",
		Questions: []calculation.Question{likert(1, true), likert(2, true), likert(3, true), likert(4, true)},
		ScoringRule: json.RawMessage(`{"type":"sectioned","sections":[
			{"name":"mood","questions":[1,2]},{"name":"sleep","questions":[3,4],"inverted":[4]}]}`),
		InterpretationRules: []interpretation.Rule{
			{Condition: interpretation.Condition{Section: "mood", RawMin: float(5)}, Text: "Low mood."},
		},
	}
	if err := f.svc.CreateInstrument(context.Background(), inst); err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 3, "2": 3, "3": 1, "4": 3})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RawScore.Total != 0 || got.RawScore.Sections["mood"] != 6 || got.RawScore.Sections["sleep"] != 1 {
		t.Errorf("unexpected sections %+v", got.RawScore)
	}
	if got.SectionInterpretations["mood"] != "Low mood." {
		t.Errorf("unexpected mood interpretation %q", got.SectionInterpretations["mood"])
	}
	if got.SectionInterpretations["sleep"] != "Score: 1" {
		t.Errorf("unexpected sleep fallback %q", got.SectionInterpretations["sleep"])
	}
}

func multiscaleInstrument(t *testing.T, f *fixture) *Instrument {
	t.Helper()
	def, err := multiscale.LoadDefinition(filepath.Join("..", "multiscale", "testdata", "sample.yaml"))
	if err != nil {
		t.Fatalf("load definition: %v", err)
	}
	inst := &Instrument{Code: def.Code, Name: def.Name, Mode: ModeMultiscale, Definition: &def}
	if err := f.svc.CreateInstrument(context.Background(), inst); err != nil {
		t.Fatalf("create instrument: %v", err)
	}
	return inst
}

func TestFinalize_Multiscale(t *testing.T) {
	f := newFixture()
	inst := multiscaleInstrument(t, f)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": true, "2": "true", "9": 1, "12": "T"})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.Profile == nil {
		t.Fatalf("expected completed profile, got %+v", got)
	}
	if got.Profile.Instrument != inst.Definition.Code {
		t.Errorf("unexpected profile instrument %q", got.Profile.Instrument)
	}
	if len(got.Profile.SignificantResponses) != 1 || len(got.Profile.SignificantResponses[0].Items) != 2 {
		t.Errorf("expected both suicidal ideation items endorsed, got %+v", got.Profile.SignificantResponses)
	}
	if got.RawScore != nil || got.Normalized != nil {
		t.Error("multiscale administrations carry a profile only")
	}
}

func TestFinalize_MultiscaleInvalidAnswer(t *testing.T) {
	f := newFixture()
	inst := multiscaleInstrument(t, f)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": "perhaps"})

	got, err := f.svc.Finalize(context.Background(), a.ID)
	if scoreerr.CodeOf(err) != scoreerr.CodeInvalidAnswer {
		t.Fatalf("expected INVALID_ANSWER, got %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}
}

func TestCreateInstrument_Validation(t *testing.T) {
	f := newFixture()
	base := func() *Instrument {
		return &Instrument{
			Code:        "X",
			Name:        "X",
			Questions:   []calculation.Question{likert(1, true)},
			ScoringRule: json.RawMessage(`{"type":"simple_sum","questions":[1],"max_scale_value":3}`),
		}
	}
	missingTable := uuid.New()
	tests := []struct {
		name   string
		mutate func(*Instrument)
		code   string
	}{
		{"unknown question", func(i *Instrument) {
			i.ScoringRule = json.RawMessage(`{"type":"simple_sum","questions":[1,7]}`)
		}, scoreerr.CodeUnknownQuestion},
		{"unknown rule type", func(i *Instrument) { i.ScoringRule = json.RawMessage(`{"type":"median"}`) }, scoreerr.CodeRuleUnknown},
		{"inverted without options", func(i *Instrument) {
			i.Questions = []calculation.Question{{Number: 1}}
			i.ScoringRule = json.RawMessage(`{"type":"sectioned","sections":[{"name":"a","questions":[1],"inverted":[1]}]}`)
		}, scoreerr.CodeMissingScale},
		{"missing normative table", func(i *Instrument) { i.NormativeTableID = &missingTable }, scoreerr.CodeInvalidBand},
		{"multiscale without definition", func(i *Instrument) { i.Mode = ModeMultiscale }, scoreerr.CodeInvalidDefinition},
		{"multiscale scale without tables", func(i *Instrument) {
			i.Mode = ModeMultiscale
			i.Definition = &multiscale.Definition{
				Code:      "X",
				ItemCount: 2,
				Scales:    []multiscale.ScaleDefinition{{Code: "1", Group: multiscale.GroupPersonality, ItemsWeight1: []int{1, 2}}},
			}
		}, scoreerr.CodeTableEntryMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := base()
			tt.mutate(inst)
			err := f.svc.CreateInstrument(context.Background(), inst)
			if scoreerr.CodeOf(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if err := f.svc.CreateInstrument(context.Background(), &Instrument{Name: "no code"}); err == nil {
		t.Error("expected error for missing code")
	}
	if err := f.svc.CreateInstrument(context.Background(), base()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.CreateInstrument(context.Background(), base()); !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestStartAdministration_UnknownInstrument(t *testing.T) {
	f := newFixture()
	a := &Administration{InstrumentID: uuid.New(), PatientID: uuid.New(), BirthDate: adultBirth}
	if err := f.svc.StartAdministration(context.Background(), a); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestScoreBatch(t *testing.T) {
	f := newFixture()
	tableID := f.adultTable(t)
	inst := f.standardInstrument(t, &tableID)
	ok := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1, "2": 1, "3": 1})
	bad := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1})
	missing := uuid.New()

	results, err := f.svc.ScoreBatch(context.Background(), []uuid.UUID{ok.ID, bad.ID, missing}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != StatusCompleted || results[0].Error != "" {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].Status != StatusInProgress || results[1].ErrorCode != scoreerr.CodeRequiredUnanswered {
		t.Errorf("unexpected second result %+v", results[1])
	}
	if results[2].Error == "" || results[2].ID != missing {
		t.Errorf("expected not-found error for third result, got %+v", results[2])
	}
}

func TestScoreBatch_CancelledContext(t *testing.T) {
	f := newFixture()
	inst := f.standardInstrument(t, nil)
	a := f.start(t, inst.ID, adultBirth, calculation.AnswerSet{"1": 1, "2": 1, "3": 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.ScoreBatch(ctx, []uuid.UUID{a.ID}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
