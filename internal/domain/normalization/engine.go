package normalization

import (
	"math"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// Engine places raw scores on a normative distribution. It is stateless
// apart from its clock and is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

// WithClock fixes the reference date used to compute patient age.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Normalize maps raw.Total onto table for patient.
func (e *Engine) Normalize(raw calculation.RawScore, table *NormativeTable, patient Patient) (*NormalizedResult, error) {
	if table == nil {
		return nil, scoreerr.InvalidBand("normative table is required")
	}
	if patient.BirthDate.IsZero() {
		return nil, scoreerr.InvalidDemographics("birth date is required")
	}
	today := e.now()
	if patient.BirthDate.After(today) {
		return nil, scoreerr.InvalidDemographics("birth date is in the future")
	}
	age := AgeOn(patient.BirthDate, today)

	band, exact, err := SelectBand(table, age, patient.EducationYears, patient.Sex)
	if err != nil {
		return nil, err
	}
	if band.StdDev <= 0 {
		return nil, scoreerr.InvalidBand("band " + band.Descriptor() + " has a non-positive standard deviation")
	}

	score := raw.Total
	percentile := CalculatePercentile(score, band)
	z := round2(stat.StdScore(score, band.Mean, band.StdDev))
	t := round2(50 + 10*z)
	class := Classify(percentile)

	return &NormalizedResult{
		TableName:      table.Name,
		BandDescriptor: band.Descriptor(),
		ExactMatch:     exact,
		Score:          score,
		Age:            age,
		Percentile:     percentile,
		ZScore:         z,
		TScore:         t,
		Classification: class,
		Description:    classDescriptions[class],
	}, nil
}

// AgeOn returns whole years between birth and on. on is read in birth's
// location, since stored birth dates are calendar dates at UTC midnight.
func AgeOn(birth, on time.Time) int {
	on = on.In(birth.Location())
	years := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		years--
	}
	return years
}

// SelectBand finds the band covering the demographic triple. The first pass
// honours declared sex; the second ignores it. exact reports whether the
// first pass matched.
func SelectBand(table *NormativeTable, age, education int, sex string) (NormativeBand, bool, error) {
	for _, b := range table.Bands {
		if b.covers(age, education) && sexMatches(b.Sex, sex) {
			return b, true, nil
		}
	}
	for _, b := range table.Bands {
		if b.covers(age, education) {
			return b, false, nil
		}
	}
	return NormativeBand{}, false, scoreerr.NoNormativeBand(table.Name, age, education, sex)
}

func (b NormativeBand) covers(age, education int) bool {
	return age >= b.AgeMin && age <= b.AgeMax &&
		education >= b.EducationMin && education <= b.EducationMax
}

func sexMatches(bandSex, patientSex string) bool {
	if bandSex == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(bandSex), strings.TrimSpace(patientSex))
}

// CalculatePercentile interpolates score between the band's tabulated
// points and rounds to the nearest integer, halves going down. Outside P5..P95 the proportional
// extrapolation is a compatibility heuristic, not a validated method.
func CalculatePercentile(score float64, band NormativeBand) int {
	pts := band.points()
	if len(pts) == 0 {
		return 0
	}
	for _, p := range pts {
		if score == p.value {
			return p.percentile
		}
	}

	low, high := pts[0], pts[len(pts)-1]
	if score < low.value {
		if low.value <= 0 {
			return 0
		}
		return int(clamp(math.Round(score/low.value*float64(low.percentile)), 0, float64(low.percentile)))
	}
	if score > high.value {
		if high.value <= 0 {
			return 99
		}
		return int(clamp(math.Round(score/high.value*float64(high.percentile)), float64(high.percentile), 99))
	}

	for i := 0; i < len(pts)-1; i++ {
		p1, p2 := pts[i], pts[i+1]
		if score < p1.value || score > p2.value {
			continue
		}
		if p2.value == p1.value {
			return p1.percentile
		}
		frac := (score - p1.value) / (p2.value - p1.value)
		return roundHalfDown(float64(p1.percentile) + frac*float64(p2.percentile-p1.percentile))
	}
	// Non-monotonic tables are rejected by ValidateTable; fall back to the
	// nearest tabulated point.
	best := pts[0]
	for _, p := range pts[1:] {
		if math.Abs(score-p.value) < math.Abs(score-best.value) {
			best = p
		}
	}
	return best.percentile
}

// Classify maps a percentile onto the five-level scale.
func Classify(percentile int) string {
	switch {
	case percentile < 5:
		return ClassVeryLow
	case percentile < 25:
		return ClassLow
	case percentile < 75:
		return ClassAverage
	case percentile < 95:
		return ClassHigh
	default:
		return ClassVeryHigh
	}
}

// ClassDescription returns the fixed one-line description of a class.
func ClassDescription(class string) string {
	return classDescriptions[class]
}

func round2(v float64) float64 {
	r, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundHalfDown maps 37.5 to 37 and 74.75 to 75.
func roundHalfDown(x float64) int {
	return int(math.Ceil(x - 0.5))
}
