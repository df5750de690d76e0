// Package egfr implements the CKD-EPI creatinine equations and the
// eGFR classification maps used throughout the microsimulation.
//
// Two equation variants are supported: the 2009 race-adjusted equation
// and the 2021 race-free refit. Coefficient sources:
//
//	2009: Levey AS, Stevens LA, Schmid CH, et al. A new equation to
//	estimate glomerular filtration rate. Ann Intern Med 2009; 150: 604-612.
//
//	2021: Inker LA, Eneanya ND, Coresh J, et al. New creatinine- and
//	cystatin C-based equations to estimate GFR without race.
//	N Engl J Med 2021; 385: 1737-1749.
package egfr

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Sex categories recognized by the equations.
type Sex string

const (
	Female Sex = "F"
	Male   Sex = "M"
)

// Race categories recognized by the 2009 equation.
type Race string

const (
	Black    Race = "B"
	NonBlack Race = "NB"
)

// Formula selects the CKD-EPI equation variant.
type Formula string

const (
	Formula2009 Formula = "09"
	Formula2021 Formula = "21"
)

// Stage is a CKD G-stage derived from an eGFR value. StageNone marks an
// unset or undefined stage (eGFR <= 0), so the zero value is safe.
type Stage int

const (
	StageNone Stage = iota
	G1
	G2
	G3a
	G3b
	G4
	G5
)

func (s Stage) String() string {
	switch s {
	case G1:
		return "G1"
	case G2:
		return "G2"
	case G3a:
		return "G3a"
	case G3b:
		return "G3b"
	case G4:
		return "G4"
	case G5:
		return "G5"
	}
	return "none"
}

// ParseStage converts a stage label back to a Stage.
func ParseStage(label string) (Stage, error) {
	for s := G1; s <= G5; s++ {
		if s.String() == label {
			return s, nil
		}
	}
	return StageNone, fmt.Errorf("unknown CKD stage %q", label)
}

// coeffs holds the per-equation constants. Maps are keyed by Sex or Race
// so unsupported categories surface as lookup failures.
type coeffs struct {
	kappa   map[Sex]float64
	alpha   map[Sex]float64
	sexAdj  map[Sex]float64
	raceAdj map[Race]float64
	maxExp  float64
	ageBase float64
	beta    float64
}

var formulaCoeffs = map[Formula]coeffs{
	Formula2021: {
		kappa:   map[Sex]float64{Female: 0.7, Male: 0.9},
		alpha:   map[Sex]float64{Female: -0.241, Male: -0.302},
		sexAdj:  map[Sex]float64{Female: 1.012, Male: 1},
		raceAdj: map[Race]float64{Black: 1, NonBlack: 1},
		maxExp:  -1.2,
		ageBase: 0.9938,
		beta:    142,
	},
	Formula2009: {
		kappa:   map[Sex]float64{Female: 0.7, Male: 0.9},
		alpha:   map[Sex]float64{Female: -0.329, Male: -0.411},
		sexAdj:  map[Sex]float64{Female: 1.018, Male: 1},
		raceAdj: map[Race]float64{Black: 1.159, NonBlack: 1},
		maxExp:  -1.209,
		ageBase: 0.993,
		beta:    141,
	},
}

func lookupCoeffs(sex Sex, race Race, formula Formula) (coeffs, error) {
	c, ok := formulaCoeffs[formula]
	if !ok {
		return coeffs{}, fmt.Errorf("unsupported eGFR formula %q (want %q or %q)", formula, Formula2009, Formula2021)
	}
	if _, ok := c.kappa[sex]; !ok {
		return coeffs{}, fmt.Errorf("unsupported sex category %q (want %q or %q)", sex, Male, Female)
	}
	if _, ok := c.raceAdj[race]; !ok {
		return coeffs{}, fmt.Errorf("unsupported race category %q (want %q or %q)", race, Black, NonBlack)
	}
	return c, nil
}

// EGFR computes the estimated glomerular filtration rate from a serum
// creatinine value under the selected equation.
func EGFR(scr float64, sex Sex, age float64, race Race, formula Formula) (float64, error) {
	c, err := lookupCoeffs(sex, race, formula)
	if err != nil {
		return 0, err
	}
	ratio := scr / c.kappa[sex]
	egfr := c.beta *
		math.Pow(math.Min(ratio, 1), c.alpha[sex]) *
		math.Pow(math.Max(ratio, 1), c.maxExp) *
		math.Pow(c.ageBase, age) *
		c.sexAdj[sex] *
		c.raceAdj[race]
	return egfr, nil
}

// CreatinineFromEGFR inverts the equation, solving for the serum
// creatinine that yields the given eGFR. The inversion has two branches
// depending on whether the implied creatinine falls above or below the
// per-sex pivot kappa. A zero denominator (egfr == 0) maps to 0 with a
// warning rather than an error.
func CreatinineFromEGFR(egfr float64, sex Sex, age float64, race Race, formula Formula) (float64, error) {
	c, err := lookupCoeffs(sex, race, formula)
	if err != nil {
		return 0, err
	}
	a := egfr / (c.beta * math.Pow(c.ageBase, age) * c.sexAdj[sex] * c.raceAdj[race])
	if a == 0 {
		logrus.Warnf("zero numerator in CreatinineFromEGFR: egfr=%v sex=%s age=%v race=%s", egfr, sex, age, race)
		return 0, nil
	}
	if a >= 1 {
		// Scr <= kappa branch: min(Scr/kappa, 1)^alpha
		return math.Pow(a, 1/c.alpha[sex]) * c.kappa[sex], nil
	}
	// Scr > kappa branch: max(Scr/kappa, 1)^maxExp
	return math.Pow(a, 1/c.maxExp) * c.kappa[sex], nil
}

// Translate re-expresses an eGFR value measured under one equation in
// terms of the other, holding the underlying creatinine fixed. Zero maps
// to zero; negative input is undefined and returns NaN.
func Translate(egfr float64, sex Sex, age float64, race Race, from, to Formula) (float64, error) {
	if _, err := lookupCoeffs(sex, race, from); err != nil {
		return 0, err
	}
	if _, err := lookupCoeffs(sex, race, to); err != nil {
		return 0, err
	}
	if egfr == 0 {
		return 0, nil
	}
	if egfr < 0 {
		return math.NaN(), nil
	}
	scr, err := CreatinineFromEGFR(egfr, sex, age, race, from)
	if err != nil {
		return 0, err
	}
	if scr == 0 {
		return 0, nil
	}
	return EGFR(scr, sex, age, race, to)
}

// StageOf maps an eGFR value to a CKD G-stage:
//
//	G1:  > 90
//	G2:  60 < eGFR <= 90
//	G3a: 45 < eGFR <= 60
//	G3b: 30 < eGFR <= 45
//	G4:  15 < eGFR <= 30
//	G5:  0  < eGFR <= 15
//
// Values <= 0 (or NaN) are undefined and return StageNone.
func StageOf(egfr float64) Stage {
	switch {
	case math.IsNaN(egfr) || egfr <= 0:
		return StageNone
	case egfr > 90:
		return G1
	case egfr > 60:
		return G2
	case egfr > 45:
		return G3a
	case egfr > 30:
		return G3b
	case egfr > 15:
		return G4
	default:
		return G5
	}
}

// StageBelowCutoff returns the stage entered when a trajectory drops
// through the given clinical cutoff (90 -> G2, 60 -> G3a, 45 -> G3b,
// 30 -> G4, 15 -> G5).
func StageBelowCutoff(cutoff float64) (Stage, error) {
	switch cutoff {
	case 90:
		return G2, nil
	case 60:
		return G3a, nil
	case 45:
		return G3b, nil
	case 30:
		return G4, nil
	case 15:
		return G5, nil
	}
	return StageNone, fmt.Errorf("no CKD stage boundary at eGFR cutoff %v", cutoff)
}

// RangeBucket maps an eGFR value to one of 8 ranges used for mortality
// hazard-ratio lookup (finer-grained than the clinical stages):
//
//	1: > 105
//	2: 90 < eGFR <= 105
//	3: 75 < eGFR <= 90
//	4: 60 < eGFR <= 75
//	5: 45 < eGFR <= 60
//	6: 30 < eGFR <= 45
//	7: 15 < eGFR <= 30
//	8: eGFR <= 15
//
// Values <= 0 (or NaN) are undefined and return 0.
func RangeBucket(egfr float64) int {
	switch {
	case math.IsNaN(egfr) || egfr <= 0:
		return 0
	case egfr > 105:
		return 1
	case egfr > 90:
		return 2
	case egfr > 75:
		return 3
	case egfr > 60:
		return 4
	case egfr > 45:
		return 5
	case egfr > 30:
		return 6
	case egfr > 15:
		return 7
	default:
		return 8
	}
}

// CollapseRangeBucket remaps range buckets onto the strata actually
// carried by the hazard-ratio table: buckets 1, 3 and 4 share bucket 2's
// risk class, while 5-8 remain distinct. The asymmetry is inherited from
// the source hazard-ratio estimates (Fox et al) and is preserved as is.
func CollapseRangeBucket(bucket int) int {
	switch bucket {
	case 1, 2, 3, 4:
		return 2
	default:
		return bucket
	}
}
