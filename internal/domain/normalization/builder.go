package normalization

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// MinSamples is the smallest reference sample BuildBand accepts. Below 20
// observations the 5th percentile rank falls before the first value.
const MinSamples = 20

// BuildBand fills the statistics of scope from a reference sample of raw
// scores. The demographic range of scope is kept as given.
func BuildBand(scope NormativeBand, samples []float64) (NormativeBand, error) {
	if len(samples) < MinSamples {
		return NormativeBand{}, scoreerr.InvalidBand(fmt.Sprintf("at least %d samples are required, got %d", MinSamples, len(samples)))
	}
	data := stats.LoadRawData(samples)

	mean, err := data.Mean()
	if err != nil {
		return NormativeBand{}, fmt.Errorf("sample mean: %w", err)
	}
	sd, err := data.StandardDeviationSample()
	if err != nil {
		return NormativeBand{}, fmt.Errorf("sample standard deviation: %w", err)
	}
	if sd <= 0 {
		return NormativeBand{}, scoreerr.InvalidBand("reference sample has no variance")
	}

	band := scope
	band.Mean = round2(mean)
	band.StdDev = round2(sd)
	band.Percentiles = make(map[int]float64, len(StandardPercentiles))
	for _, p := range StandardPercentiles {
		v, err := data.Percentile(float64(p))
		if err != nil {
			return NormativeBand{}, fmt.Errorf("sample percentile %d: %w", p, err)
		}
		band.Percentiles[p] = round2(v)
	}
	if err := validateBand(band); err != nil {
		return NormativeBand{}, err
	}
	return band, nil
}

// BandFromMoments derives the standard percentile points from a published
// mean and standard deviation, assuming a normal distribution.
func BandFromMoments(scope NormativeBand, mean, sd float64) (NormativeBand, error) {
	if sd <= 0 {
		return NormativeBand{}, scoreerr.InvalidBand("standard deviation must be positive")
	}
	dist := distuv.Normal{Mu: mean, Sigma: sd}

	band := scope
	band.Mean = mean
	band.StdDev = sd
	band.Percentiles = make(map[int]float64, len(StandardPercentiles))
	for _, p := range StandardPercentiles {
		band.Percentiles[p] = round2(dist.Quantile(float64(p) / 100))
	}
	return band, nil
}
