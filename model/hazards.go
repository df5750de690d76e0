package model

import (
	"fmt"
	"math/rand"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
	"github.com/egfr-microsim/egfr-microsim/model/survival"
)

// Mortality hazard builder and death sampler: each individual gets an
// annual hazard curve from birth to the horizon, combining the
// sex-specific life-table baseline with hazard ratios keyed by
// (collapsed eGFR range bucket, diabetes status) along the trajectory.

// HazardTable holds one annual hazard curve per individual, indexed by
// integer age 0..MaxAge. It is regenerated per phase-3 invocation and
// iterated in pid order so draw arrays align deterministically.
type HazardTable struct {
	PIDs   []int
	Sex    map[int]egfr.Sex
	Curves map[int][]float64
}

// hazardBucket maps a trajectory eGFR value onto the hazard-ratio
// strata. Non-positive values (a trajectory integrated past zero) carry
// the lowest-range risk class. Buckets 1, 3 and 4 fold into 2.
func hazardBucket(egfrValue float64) int {
	b := egfr.RangeBucket(egfrValue)
	if b == 0 {
		b = 8
	}
	return egfr.CollapseRangeBucket(b)
}

// BuildHazards derives the per-individual hazard curves from a phase-2
// trajectory. Cutoff crossings are added to the frame first so every
// range transition contributes a hazard-ratio change at the right age;
// the ratio recorded at an age persists until the next recorded change
// (forward fill), and ages before cohort entry carry the baseline alone
// so the survival function is defined from birth.
func BuildHazards(events []Row, p *Params) (*HazardTable, error) {
	for i := range events {
		if events[i].Age > p.Horizon {
			return nil, fmt.Errorf("trajectory row for pid %d at age %v exceeds horizon %v", events[i].PID, events[i].Age, p.Horizon)
		}
	}

	frame := cloneRows(events)
	frame = append(frame, LocateCrossings(events, Cutoffs, p.Horizon)...)
	sortRows(frame)

	minAge := MaxAge
	for i := range frame {
		if a := intAge(frame[i].Age, p.Horizon); a < minAge {
			minAge = a
		}
	}

	ht := &HazardTable{
		Sex:    make(map[int]egfr.Sex),
		Curves: make(map[int][]float64),
	}
	var err error
	eachPID(frame, func(pid int, group []Row) {
		if err != nil {
			return
		}
		sex := group[0].Sex
		baseline, ok := p.BaselineHazard[sex]
		if !ok {
			err = fmt.Errorf("no baseline hazard for sex %q (pid %d)", sex, pid)
			return
		}

		// Mean hazard ratio per integer age; several rows can land in
		// one age-year.
		hrSum := make(map[int]float64)
		hrCount := make(map[int]int)
		for _, r := range group {
			hr, ok := p.MortalityHR[HRKey{Bucket: hazardBucket(r.EGFR), DM: r.DM}]
			if !ok {
				err = fmt.Errorf("no mortality hazard ratio for bucket=%d dm=%d (pid %d)", hazardBucket(r.EGFR), r.DM, pid)
				return
			}
			a := intAge(r.Age, p.Horizon)
			hrSum[a] += hr
			hrCount[a]++
		}

		curve := make([]float64, MaxAge+1)
		lastHR := 1.0
		for age := 0; age <= MaxAge; age++ {
			if age >= minAge {
				if n := hrCount[age]; n > 0 {
					lastHR = hrSum[age] / float64(n)
				}
				curve[age] = lastHR * baseline[age]
			} else {
				// Pre-entry ages: baseline only.
				curve[age] = baseline[age]
			}
		}
		ht.PIDs = append(ht.PIDs, pid)
		ht.Sex[pid] = sex
		ht.Curves[pid] = curve
	})
	if err != nil {
		return nil, err
	}
	return ht, nil
}

// intAge discretizes a trajectory age to the hazard curve's integer
// grid, clamping just below the horizon so a row at the horizon lands in
// the last age-year.
func intAge(age, horizon float64) int {
	if age > horizon-0.01 {
		age = horizon - 0.01
	}
	return int(age)
}

// SampleDeathAges samples one death age per individual by inverting the
// CDF of the remaining-lifetime distribution conditioned on survival to
// entryAge. uYear and uFrac, when non-nil, supply the categorical and
// the within-year continuity uniforms indexed by pid; sharing both
// arrays across two runs makes the sampled death ages differ only
// through the hazard curves (common random numbers). With nil arrays
// fresh uniforms are drawn from r in pid order.
func SampleDeathAges(ht *HazardTable, entryAge int, uYear, uFrac []float64, r *rand.Rand) (map[int]float64, error) {
	deaths := make(map[int]float64, len(ht.PIDs))
	for _, pid := range ht.PIDs {
		var year, frac float64
		if uYear != nil {
			if pid >= len(uYear) {
				return nil, fmt.Errorf("death draw array of length %d does not cover pid %d", len(uYear), pid)
			}
			year = uYear[pid]
		} else {
			year = r.Float64()
		}
		if uFrac != nil {
			if pid >= len(uFrac) {
				return nil, fmt.Errorf("continuity draw array of length %d does not cover pid %d", len(uFrac), pid)
			}
			frac = uFrac[pid]
		} else {
			frac = r.Float64()
		}

		surv := survival.SurvivalFromHazards(ht.Curves[pid])
		cdf, err := survival.ConditionalCDF(surv, entryAge)
		if err != nil {
			return nil, fmt.Errorf("pid %d: %w", pid, err)
		}
		// Invert over ages >= entry only; earlier entries carry zero
		// mass and must not absorb a uniform draw of exactly 0.
		age := entryAge + survival.SampleCategorical(cdf[entryAge:], year)
		death := round2(float64(age) + frac)
		if death > DefaultHorizon {
			return nil, fmt.Errorf("sampled death age %v for pid %d exceeds horizon", death, pid)
		}
		deaths[pid] = death
	}
	return deaths, nil
}

// CombineWithDeath truncates each individual's trajectory to rows
// strictly before the sampled death age, appends a terminal death row,
// and re-integrates the final segment so the eGFR at death reflects the
// slope in force at the preceding event.
func CombineWithDeath(events []Row, deaths map[int]float64) ([]Row, error) {
	out := make([]Row, 0, len(events))
	var err error
	eachPID(events, func(pid int, group []Row) {
		if err != nil {
			return
		}
		deathAge, ok := deaths[pid]
		if !ok {
			err = fmt.Errorf("no sampled death age for pid %d", pid)
			return
		}
		kept := 0
		for _, r := range group {
			if r.Age < deathAge {
				r.Death = 0
				out = append(out, r)
				kept++
			}
		}
		if kept == 0 {
			err = fmt.Errorf("death age %v for pid %d precedes cohort entry", deathAge, pid)
			return
		}
		// Terminal row inherits state from the last surviving event.
		prev := out[len(out)-1]
		death := prev
		death.Age = deathAge
		death.Death = 1
		death.EGFR = round2(prev.EGFR - round2((deathAge-prev.Age)*prev.Slope))
		out = append(out, death)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
