// Package survival provides the piecewise-exponential survival math
// shared by comorbidity onset and mortality sampling: hazard curves
// discretized by integer age are turned into survival/CDF/PDF functions,
// conditioned on survival to a given age, and inverted for categorical
// sampling. Sampling accepts externally supplied uniforms so that paired
// scenario runs can share common random numbers.
package survival

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// sumTolerance bounds how far a PDF may drift from summing to 1.
const sumTolerance = 1e-10

// CumulativeHazard returns the running sum of an annual hazard curve.
func CumulativeHazard(hazards []float64) []float64 {
	cum := make([]float64, len(hazards))
	floats.CumSum(cum, hazards)
	return cum
}

// SurvivalFromHazards converts an annual hazard curve into a survival
// function S(t) = exp(-sum h), with the first entry forced to 1.
func SurvivalFromHazards(hazards []float64) []float64 {
	surv := CumulativeHazard(hazards)
	for i, c := range surv {
		surv[i] = math.Exp(-c)
	}
	if len(surv) > 0 {
		surv[0] = 1
	}
	return surv
}

// CDFFromHazards converts an annual hazard curve into a cumulative
// incidence function 1 - exp(-sum h). The final entry is forced to 1,
// since lim x->inf (1 - exp(-x)) = 1.
func CDFFromHazards(hazards []float64) []float64 {
	cdf := CumulativeHazard(hazards)
	for i, c := range cdf {
		cdf[i] = 1 - math.Exp(-c)
	}
	if len(cdf) > 0 {
		cdf[len(cdf)-1] = 1
	}
	return cdf
}

// PDFFromCDF differences a CDF into a PDF and verifies it sums to 1
// within tolerance.
func PDFFromCDF(cdf []float64) ([]float64, error) {
	pdf := make([]float64, len(cdf))
	prev := 0.0
	for i, c := range cdf {
		pdf[i] = c - prev
		prev = c
	}
	if s := floats.Sum(pdf); math.Abs(s-1) > sumTolerance {
		return nil, fmt.Errorf("PDF must sum to 1, got %v", s)
	}
	return pdf, nil
}

// ConditionalCDF conditions a survival function on having survived to
// entryAge, returning the CDF of the remaining lifetime distribution:
// 0 for t < entryAge and 1 - S(t)/S(entryAge-1) from entryAge on, with
// the final entry forced to 1.
func ConditionalCDF(surv []float64, entryAge int) ([]float64, error) {
	if entryAge < 1 || entryAge >= len(surv) {
		return nil, fmt.Errorf("entry age must be in [1, %d), got %d", len(surv), entryAge)
	}
	base := surv[entryAge-1]
	if base <= 0 {
		return nil, fmt.Errorf("survival to entry age %d is 0, conditional distribution undefined", entryAge)
	}
	cdf := make([]float64, len(surv))
	for t := entryAge; t < len(surv); t++ {
		cdf[t] = 1 - surv[t]/base
	}
	cdf[len(cdf)-1] = 1
	return cdf, nil
}

// SampleCategorical inverts a CDF at the supplied uniform u, returning
// the smallest index whose cumulative probability reaches u. Follows the
// vectorized multinomial sampling scheme of darthtools' samplev.
func SampleCategorical(cdf []float64, u float64) int {
	for i, c := range cdf {
		if c >= u {
			return i
		}
	}
	return len(cdf) - 1
}
