package normalization

import (
	"fmt"
	"strings"

	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// ValidateTable checks that a table is usable by the engine: every band is
// well formed and no two bands can both claim the same patient.
func ValidateTable(t *NormativeTable) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Bands) == 0 {
		return scoreerr.InvalidBand("at least one band is required")
	}
	for i, b := range t.Bands {
		if err := validateBand(b); err != nil {
			return err
		}
		for j := i + 1; j < len(t.Bands); j++ {
			if overlaps(b, t.Bands[j]) {
				return scoreerr.InvalidBand(fmt.Sprintf("bands %q and %q overlap", b.Descriptor(), t.Bands[j].Descriptor()))
			}
		}
	}
	return nil
}

func validateBand(b NormativeBand) error {
	if b.AgeMin > b.AgeMax {
		return scoreerr.InvalidBand(fmt.Sprintf("age_min %d exceeds age_max %d", b.AgeMin, b.AgeMax))
	}
	if b.EducationMin > b.EducationMax {
		return scoreerr.InvalidBand(fmt.Sprintf("education_min %d exceeds education_max %d", b.EducationMin, b.EducationMax))
	}
	if b.StdDev <= 0 {
		return scoreerr.InvalidBand("band " + b.Descriptor() + " has a non-positive standard deviation")
	}
	for _, p := range StandardPercentiles {
		if _, ok := b.Percentiles[p]; !ok {
			return scoreerr.InvalidBand(fmt.Sprintf("band %s is missing percentile %d", b.Descriptor(), p))
		}
	}
	pts := b.points()
	for i, pt := range pts {
		if pt.percentile <= 0 || pt.percentile >= 100 {
			return scoreerr.InvalidBand(fmt.Sprintf("percentile %d out of range", pt.percentile))
		}
		if i > 0 && pt.value <= pts[i-1].value {
			return scoreerr.InvalidBand(fmt.Sprintf("band %s: P%d value must exceed P%d value",
				b.Descriptor(), pt.percentile, pts[i-1].percentile))
		}
	}
	return nil
}

func overlaps(a, b NormativeBand) bool {
	if a.AgeMax < b.AgeMin || b.AgeMax < a.AgeMin {
		return false
	}
	if a.EducationMax < b.EducationMin || b.EducationMax < a.EducationMin {
		return false
	}
	return a.Sex == "" || b.Sex == "" || strings.EqualFold(a.Sex, b.Sex)
}
