package normalization

import (
	"math"
	"testing"
	"time"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

var refDate = time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return refDate }

func standardBand() NormativeBand {
	return NormativeBand{
		AgeMin: 18, AgeMax: 99, EducationMin: 0, EducationMax: 30,
		Percentiles: map[int]float64{5: 10, 25: 20, 50: 30, 75: 40, 95: 50},
		Mean:        30,
		StdDev:      8,
	}
}

func standardTable() *NormativeTable {
	return &NormativeTable{Name: "adult-general", Bands: []NormativeBand{standardBand()}}
}

func adult() Patient {
	return Patient{BirthDate: time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC), EducationYears: 12, Sex: "F"}
}

func TestNormalize_MedianScore(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	res, err := e.Normalize(calculation.RawScore{Total: 30}, standardTable(), adult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Percentile != 50 {
		t.Errorf("expected percentile 50, got %d", res.Percentile)
	}
	if res.ZScore != 0 || res.TScore != 50 {
		t.Errorf("expected z=0 t=50, got z=%v t=%v", res.ZScore, res.TScore)
	}
	if res.Classification != ClassAverage {
		t.Errorf("expected Average, got %s", res.Classification)
	}
	if res.Description != ClassDescription(ClassAverage) {
		t.Errorf("unexpected description %q", res.Description)
	}
	if !res.ExactMatch {
		t.Error("expected exact band match")
	}
	if res.Age != 45 {
		t.Errorf("expected age 45 the day before the birthday, got %d", res.Age)
	}
}

func TestNormalize_InterpolatesBetweenPoints(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	res, err := e.Normalize(calculation.RawScore{Total: 25}, standardTable(), adult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Percentile != 37 {
		t.Errorf("expected percentile 37, got %d", res.Percentile)
	}
	if res.ZScore != -0.63 {
		t.Errorf("expected z -0.63, got %v", res.ZScore)
	}
	if math.Abs(res.TScore-(50+10*res.ZScore)) > 1e-9 {
		t.Errorf("t %v is not 50+10z for z %v", res.TScore, res.ZScore)
	}
}

func TestCalculatePercentile_RoundsToNearest(t *testing.T) {
	band := standardBand()
	tests := []struct {
		score float64
		want  int
		class string
	}{
		{25, 37, "Average"},
		{22.3, 31, "Average"},
		{39.9, 75, "High"},
		{47, 89, "High"},
	}
	for _, tt := range tests {
		got := CalculatePercentile(tt.score, band)
		if got != tt.want {
			t.Errorf("score %v: expected percentile %d, got %d", tt.score, tt.want, got)
		}
		if c := Classify(got); c != tt.class {
			t.Errorf("score %v: expected %s, got %s", tt.score, tt.class, c)
		}
	}
}

func TestCalculatePercentile_TabulatedPointsRoundTrip(t *testing.T) {
	band := standardBand()
	for p, v := range band.Percentiles {
		if got := CalculatePercentile(v, band); got != p {
			t.Errorf("value %v: expected percentile %d, got %d", v, p, got)
		}
	}
}

func TestCalculatePercentile_Monotonic(t *testing.T) {
	band := standardBand()
	prev := -1
	for s := -5.0; s <= 70; s += 0.25 {
		got := CalculatePercentile(s, band)
		if got < prev {
			t.Fatalf("percentile decreased at score %v: %d after %d", s, got, prev)
		}
		if got < 0 || got > 99 {
			t.Fatalf("percentile %d out of range at score %v", got, s)
		}
		prev = got
	}
}

func TestCalculatePercentile_Extrapolation(t *testing.T) {
	band := standardBand()
	tests := []struct {
		score float64
		want  int
	}{
		{5, 3},
		{0, 0},
		{-3, 0},
		{51, 97},
		{60, 99},
	}
	for _, tt := range tests {
		if got := CalculatePercentile(tt.score, band); got != tt.want {
			t.Errorf("score %v: expected %d, got %d", tt.score, tt.want, got)
		}
	}
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		p    int
		want string
	}{
		{0, ClassVeryLow}, {4, ClassVeryLow}, {5, ClassLow}, {24, ClassLow},
		{25, ClassAverage}, {74, ClassAverage}, {75, ClassHigh}, {94, ClassHigh},
		{95, ClassVeryHigh}, {99, ClassVeryHigh},
	}
	for _, tt := range tests {
		if got := Classify(tt.p); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestSelectBand_SexThenRelaxed(t *testing.T) {
	male := standardBand()
	male.AgeMax, male.Sex = 59, "M"
	female := standardBand()
	female.AgeMax, female.Sex = 59, "F"
	female.Mean = 32
	table := &NormativeTable{Name: "by-sex", Bands: []NormativeBand{male, female}}

	b, exact, err := SelectBand(table, 40, 12, "f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exact || b.Mean != 32 {
		t.Errorf("expected exact female band, got exact=%v mean=%v", exact, b.Mean)
	}

	b, exact, err = SelectBand(table, 40, 12, "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exact {
		t.Error("expected relaxed match for undeclared sex")
	}
	if b.Sex != "M" {
		t.Errorf("expected first covering band, got %s", b.Sex)
	}

	_, _, err = SelectBand(table, 70, 12, "M")
	if !scoreerr.IsKind(err, scoreerr.KindCoverage) {
		t.Errorf("expected coverage error, got %v", err)
	}
}

func TestNormalize_Errors(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))

	bad := standardTable()
	bad.Bands[0].StdDev = 0
	if _, err := e.Normalize(calculation.RawScore{Total: 30}, bad, adult()); scoreerr.CodeOf(err) != scoreerr.CodeInvalidBand {
		t.Errorf("expected INVALID_NORMATIVE_BAND, got %v", err)
	}

	future := adult()
	future.BirthDate = refDate.AddDate(1, 0, 0)
	if _, err := e.Normalize(calculation.RawScore{Total: 30}, standardTable(), future); scoreerr.CodeOf(err) != scoreerr.CodeInvalidDemographics {
		t.Errorf("expected INVALID_DEMOGRAPHICS, got %v", err)
	}

	child := adult()
	child.BirthDate = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := e.Normalize(calculation.RawScore{Total: 30}, standardTable(), child); scoreerr.CodeOf(err) != scoreerr.CodeNoNormativeBand {
		t.Errorf("expected NO_NORMATIVE_BAND, got %v", err)
	}
}

func TestAgeOn(t *testing.T) {
	birth := time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)
	if got := AgeOn(birth, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
	if got := AgeOn(birth, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); got != 26 {
		t.Errorf("expected 26, got %d", got)
	}
}

func TestAgeOn_ComparesInBirthLocation(t *testing.T) {
	birth := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	// 23:30 on the 14th in New York is already the 15th in UTC.
	ny := time.FixedZone("EDT", -4*60*60)
	if got := AgeOn(birth, time.Date(2026, 6, 14, 23, 30, 0, 0, ny)); got != 36 {
		t.Errorf("expected 36 on the birthday in UTC, got %d", got)
	}
	if got := AgeOn(birth, time.Date(2026, 6, 14, 19, 0, 0, 0, ny)); got != 35 {
		t.Errorf("expected 35 the day before, got %d", got)
	}
}

func TestValidateTable(t *testing.T) {
	overlapping := standardTable()
	second := standardBand()
	second.AgeMin, second.Sex = 50, "M"
	overlapping.Bands = append(overlapping.Bands, second)

	missing := standardTable()
	delete(missing.Bands[0].Percentiles, 75)

	descending := standardTable()
	descending.Bands[0].Percentiles[50] = 15

	tests := []struct {
		name  string
		table *NormativeTable
		ok    bool
	}{
		{"valid", standardTable(), true},
		{"overlap with any-sex band", overlapping, false},
		{"missing P75", missing, false},
		{"non-increasing values", descending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTable(tt.table)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && scoreerr.CodeOf(err) != scoreerr.CodeInvalidBand {
				t.Errorf("expected INVALID_NORMATIVE_BAND, got %v", err)
			}
		})
	}
}

func TestBuildBand_FromSample(t *testing.T) {
	samples := make([]float64, 0, 100)
	for i := 1; i <= 100; i++ {
		samples = append(samples, float64(i))
	}
	scope := NormativeBand{AgeMin: 18, AgeMax: 39, EducationMin: 0, EducationMax: 30}
	band, err := BuildBand(scope, samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if band.Mean != 50.5 {
		t.Errorf("expected mean 50.5, got %v", band.Mean)
	}
	for _, p := range StandardPercentiles {
		if band.Percentiles[p] != float64(p) {
			t.Errorf("P%d: expected %d, got %v", p, p, band.Percentiles[p])
		}
	}
	if band.AgeMax != 39 {
		t.Error("expected scope to be preserved")
	}

	if _, err := BuildBand(scope, samples[:5]); scoreerr.CodeOf(err) != scoreerr.CodeInvalidBand {
		t.Errorf("expected INVALID_NORMATIVE_BAND for a short sample, got %v", err)
	}
}

func TestBandFromMoments(t *testing.T) {
	band, err := BandFromMoments(NormativeBand{AgeMin: 18, AgeMax: 99, EducationMax: 30}, 100, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if band.Percentiles[50] != 100 {
		t.Errorf("expected median 100, got %v", band.Percentiles[50])
	}
	if math.Abs(band.Percentiles[95]-124.67) > 0.01 {
		t.Errorf("expected P95 near 124.67, got %v", band.Percentiles[95])
	}
	if err := ValidateTable(&NormativeTable{Name: "iq", Bands: []NormativeBand{band}}); err != nil {
		t.Errorf("derived band should validate: %v", err)
	}
	if _, err := BandFromMoments(NormativeBand{}, 100, 0); err == nil {
		t.Error("expected error for zero standard deviation")
	}
}
