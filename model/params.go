package model

import (
	"fmt"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// Intervention type names, matching the intervention-effect table keys.
const (
	InterventionDiag  = "diag"  // CKD diagnosis
	InterventionNephr = "nephr" // nephrology referral
)

// SlopeKey is the covariate combination a decline slope is conditioned
// on: diabetes, hypertension and stage-3+ status.
type SlopeKey struct {
	DM, HT, G3 int
}

// HRKey looks up a mortality hazard ratio by collapsed eGFR range bucket
// and diabetes status.
type HRKey struct {
	Bucket, DM int
}

// InterventionParams describes one intervention type: the target
// cumulative probability of having received it by stage, and the
// multiplicative reduction in decline slope it confers.
type InterventionParams struct {
	Freq   map[egfr.Stage]float64
	Effect float64
}

// Params is the immutable parameter set for one simulation run,
// constructed once from external calibration or sampling.
type Params struct {
	Slopes        map[SlopeKey]float64
	Interventions map[string]InterventionParams
	MortalityHR   map[HRKey]float64

	// BaselineHazard maps sex to the annual life-table hazard indexed
	// by integer age 0..MaxAge.
	BaselineHazard map[egfr.Sex][]float64

	EntryAge int
	Horizon  float64

	// EligibilityFormula selects which CKD-EPI equation governs when an
	// individual is considered to have reached an intervention cutoff.
	EligibilityFormula egfr.Formula
}

// interventionStages are the stages interventions can be assigned at.
var interventionStages = []egfr.Stage{egfr.G3a, egfr.G3b, egfr.G4, egfr.G5}

// hrBuckets are the collapsed range buckets the hazard-ratio table must
// cover (1, 3 and 4 fold into 2).
var hrBuckets = []int{2, 5, 6, 7, 8}

// Validate checks the parameter set for completeness. The core fails
// loudly on invalid configuration instead of substituting defaults.
func (p *Params) Validate() error {
	if p.Horizon <= 0 {
		return fmt.Errorf("Horizon must be > 0, got %v", p.Horizon)
	}
	if p.EntryAge < 1 || p.EntryAge > MaxAge-1 {
		return fmt.Errorf("EntryAge must be in [1, %d], got %d", MaxAge-1, p.EntryAge)
	}
	if p.EligibilityFormula != egfr.Formula2009 && p.EligibilityFormula != egfr.Formula2021 {
		return fmt.Errorf("EligibilityFormula must be %q or %q, got %q", egfr.Formula2009, egfr.Formula2021, p.EligibilityFormula)
	}
	for _, dm := range []int{0, 1} {
		for _, ht := range []int{0, 1} {
			for _, g3 := range []int{0, 1} {
				k := SlopeKey{DM: dm, HT: ht, G3: g3}
				slope, ok := p.Slopes[k]
				if !ok {
					return fmt.Errorf("Slopes missing entry for dm=%d ht=%d g3=%d", dm, ht, g3)
				}
				if slope < 0 {
					return fmt.Errorf("Slopes[%v] must be >= 0 (decline rate), got %v", k, slope)
				}
			}
		}
	}
	for _, name := range []string{InterventionDiag, InterventionNephr} {
		ip, ok := p.Interventions[name]
		if !ok {
			return fmt.Errorf("Interventions missing entry for %q", name)
		}
		if ip.Effect < 0 || ip.Effect > 1 {
			return fmt.Errorf("Interventions[%q].Effect must be in [0, 1], got %v", name, ip.Effect)
		}
		for _, s := range interventionStages {
			f, ok := ip.Freq[s]
			if !ok {
				return fmt.Errorf("Interventions[%q] missing target probability for stage %s", name, s)
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("Interventions[%q].Freq[%s] must be in [0, 1], got %v", name, s, f)
			}
		}
	}
	for _, b := range hrBuckets {
		for _, dm := range []int{0, 1} {
			if _, ok := p.MortalityHR[HRKey{Bucket: b, DM: dm}]; !ok {
				return fmt.Errorf("MortalityHR missing entry for bucket=%d dm=%d", b, dm)
			}
		}
	}
	for _, sex := range []egfr.Sex{egfr.Male, egfr.Female} {
		h, ok := p.BaselineHazard[sex]
		if !ok {
			return fmt.Errorf("BaselineHazard missing entry for sex %q", sex)
		}
		if len(h) < MaxAge+1 {
			return fmt.Errorf("BaselineHazard[%q] must cover ages 0..%d, got %d entries", sex, MaxAge, len(h))
		}
	}
	return nil
}

// slopeFor returns the decline slope for a row's covariates, adjusted
// for any intervention already in effect. Referral dominates diagnosis:
// the larger of the two reductions applies.
func (p *Params) slopeFor(r Row) (float64, error) {
	slope, ok := p.Slopes[SlopeKey{DM: r.DM, HT: r.HT, G3: r.G3}]
	if !ok {
		return 0, fmt.Errorf("no decline slope for dm=%d ht=%d g3=%d", r.DM, r.HT, r.G3)
	}
	switch {
	case r.Nephr == 1:
		nephrEff := p.Interventions[InterventionNephr].Effect
		diagEff := p.Interventions[InterventionDiag].Effect
		if diagEff > nephrEff {
			return slope * (1 - diagEff), nil
		}
		return slope * (1 - nephrEff), nil
	case r.Diag == 1:
		return slope * (1 - p.Interventions[InterventionDiag].Effect), nil
	}
	return slope, nil
}
