package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
	"github.com/egfr-microsim/egfr-microsim/model/survival"
)

// Comorbidity onset sampler: external incidence tables (annual incidence
// per 1,000 in irregular age bands) become an age-indexed annual hazard,
// then a cumulative-incidence function under a piecewise-exponential
// frailty model. Sampling is two-stage: a Bernoulli draw on the lifetime
// risk decides whether the comorbidity ever occurs, and only then an
// inverse-CDF draw over the conditional-on-occurrence distribution
// decides when. A single draw over the unconditional CDF would conflate
// lifetime non-occurrence with late occurrence.

// IncidenceBand is one row of an incidence table: annual incidence per
// 1,000 person-years over an inclusive age band.
type IncidenceBand struct {
	AgeMin      int
	AgeMax      int
	PerThousand float64
}

// OnsetModel is the sampling-ready form of one comorbidity's incidence
// table, stratified by sex. Tables that do not vary by sex carry the
// same bands under both sexes.
type OnsetModel struct {
	ages         []int
	lifetimeRisk map[egfr.Sex]float64
	condCDF      map[egfr.Sex][]float64
}

// NewOnsetModel expands each incidence band into one hazard value per
// integer age it covers and derives the lifetime risk and the
// conditional-on-occurrence CDF per sex. Bands must be ordered and
// non-overlapping, and both sexes must cover the same ages.
func NewOnsetModel(bands map[egfr.Sex][]IncidenceBand) (*OnsetModel, error) {
	m := &OnsetModel{
		lifetimeRisk: make(map[egfr.Sex]float64, 2),
		condCDF:      make(map[egfr.Sex][]float64, 2),
	}
	for _, sex := range []egfr.Sex{egfr.Male, egfr.Female} {
		sexBands, ok := bands[sex]
		if !ok || len(sexBands) == 0 {
			return nil, fmt.Errorf("incidence table missing bands for sex %q", sex)
		}
		var ages []int
		var hazards []float64
		for _, b := range sexBands {
			if b.AgeMax < b.AgeMin {
				return nil, fmt.Errorf("incidence band [%d, %d] has age_max < age_min", b.AgeMin, b.AgeMax)
			}
			if len(ages) > 0 && b.AgeMin <= ages[len(ages)-1] {
				return nil, fmt.Errorf("incidence band [%d, %d] overlaps or is out of order", b.AgeMin, b.AgeMax)
			}
			if b.PerThousand < 0 {
				return nil, fmt.Errorf("incidence band [%d, %d] has negative rate %v", b.AgeMin, b.AgeMax, b.PerThousand)
			}
			for age := b.AgeMin; age <= b.AgeMax; age++ {
				ages = append(ages, age)
				hazards = append(hazards, b.PerThousand/1000)
			}
		}
		if m.ages == nil {
			m.ages = ages
		} else {
			if len(ages) != len(m.ages) {
				return nil, fmt.Errorf("incidence tables cover different ages per sex")
			}
			for i := range ages {
				if ages[i] != m.ages[i] {
					return nil, fmt.Errorf("incidence tables cover different ages per sex")
				}
			}
		}

		cdf := survival.CumulativeHazard(hazards)
		for i, c := range cdf {
			cdf[i] = 1 - math.Exp(-c)
		}
		risk := cdf[len(cdf)-1]
		m.lifetimeRisk[sex] = risk
		if risk > 0 {
			cond := make([]float64, len(cdf))
			for i, c := range cdf {
				cond[i] = c / risk
			}
			m.condCDF[sex] = cond
		}
	}
	return m, nil
}

// LifetimeRisk is the asymptotic value of the cumulative-incidence
// function: the probability of ever developing the comorbidity.
func (m *OnsetModel) LifetimeRisk(sex egfr.Sex) float64 {
	return m.lifetimeRisk[sex]
}

// SampleOnset draws an onset age from the frailty model using the three
// supplied uniforms: uEver selects whether the comorbidity ever occurs,
// uWhen inverts the conditional CDF over discretized ages, and uFrac
// de-discretizes within the age-year. ok is false for individuals who
// never develop the comorbidity; with zero lifetime risk nobody is ever
// selected and the conditional CDF is never consulted.
func (m *OnsetModel) SampleOnset(sex egfr.Sex, uEver, uWhen, uFrac float64) (age float64, ok bool) {
	risk := m.lifetimeRisk[sex]
	if risk == 0 || uEver >= risk {
		return 0, false
	}
	idx := survival.SampleCategorical(m.condCDF[sex], uWhen)
	return round2(float64(m.ages[idx]) + uFrac), true
}

// Sample draws an onset age using fresh uniforms from r. The ever/never
// draw is taken first; the timing draws are only consumed for
// individuals selected to develop the comorbidity.
func (m *OnsetModel) Sample(sex egfr.Sex, r *rand.Rand) (age float64, ok bool) {
	risk := m.lifetimeRisk[sex]
	if risk == 0 || r.Float64() >= risk {
		return 0, false
	}
	return m.SampleOnset(sex, 0, r.Float64(), r.Float64())
}
