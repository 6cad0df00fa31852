package normalization

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StandardPercentiles are the points every band must tabulate.
var StandardPercentiles = []int{5, 25, 50, 75, 95}

// NormativeBand holds the reference statistics for one demographic cell.
// Age and education ranges are inclusive; an empty Sex matches anyone.
type NormativeBand struct {
	AgeMin       int             `json:"age_min"`
	AgeMax       int             `json:"age_max"`
	EducationMin int             `json:"education_min"`
	EducationMax int             `json:"education_max"`
	Sex          string          `json:"sex,omitempty"`
	Percentiles  map[int]float64 `json:"percentiles"`
	Mean         float64         `json:"mean"`
	StdDev       float64         `json:"std_dev"`
}

// Descriptor is the human-readable scope of the band.
func (b NormativeBand) Descriptor() string {
	d := fmt.Sprintf("Age %d-%d, Education %d-%d years", b.AgeMin, b.AgeMax, b.EducationMin, b.EducationMax)
	if b.Sex != "" {
		d += ", Sex " + b.Sex
	}
	return d
}

type percentilePoint struct {
	percentile int
	value      float64
}

// points returns the tabulated points ordered by percentile.
func (b NormativeBand) points() []percentilePoint {
	pts := make([]percentilePoint, 0, len(b.Percentiles))
	for p, v := range b.Percentiles {
		pts = append(pts, percentilePoint{percentile: p, value: v})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].percentile < pts[j].percentile })
	return pts
}

// NormativeTable is a named collection of bands for one instrument.
type NormativeTable struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	InstrumentCode *string         `json:"instrument_code,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Bands          []NormativeBand `json:"bands"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Patient carries the demographics used for band selection.
type Patient struct {
	BirthDate      time.Time `json:"birth_date"`
	EducationYears int       `json:"education_years"`
	Sex            string    `json:"sex,omitempty"`
}

// Classification labels.
const (
	ClassVeryLow  = "Very Low"
	ClassLow      = "Low"
	ClassAverage  = "Average"
	ClassHigh     = "High"
	ClassVeryHigh = "Very High"
)

var classDescriptions = map[string]string{
	ClassVeryLow:  "Performance is well below the normative population (below the 5th percentile).",
	ClassLow:      "Performance is below average relative to the normative population.",
	ClassAverage:  "Performance is within the average range of the normative population.",
	ClassHigh:     "Performance is above average relative to the normative population.",
	ClassVeryHigh: "Performance is well above the normative population (95th percentile or higher).",
}

// NormalizedResult is a raw score placed on the reference distribution.
type NormalizedResult struct {
	TableName      string  `json:"table_name"`
	BandDescriptor string  `json:"band_descriptor"`
	ExactMatch     bool    `json:"exact_match"`
	Score          float64 `json:"score"`
	Age            int     `json:"age"`
	Percentile     int     `json:"percentile"`
	ZScore         float64 `json:"z_score"`
	TScore         float64 `json:"t_score"`
	Classification string  `json:"classification"`
	Description    string  `json:"description"`
}
