package model

import (
	"fmt"
	"math/rand"
)

// Intervention sampler: individuals co-located at one clinical cutoff
// are assigned diagnosis / nephrology-referral indicators so that the
// population hits the stage-specific target cumulative probability,
// correcting for those already intervened at earlier stages.

// fracWithIndicator returns the fraction of rows carrying the indicator.
func fracWithIndicator(rows []Row, ind indicator) float64 {
	n := 0
	for i := range rows {
		if rows[i].ind(ind) == 1 {
			n++
		}
	}
	return float64(n) / float64(len(rows))
}

// ConditionalProbability computes the probability of a new intervention
// for the not-yet-intervened population so that the overall population
// reaches pTarget, given that fracIntervened already carry it. Callers
// must guarantee fracIntervened <= pTarget; a draw with negative
// probability is an inconsistent parameterization, not a sampling
// outcome.
func ConditionalProbability(pTarget, fracIntervened float64) (float64, error) {
	if fracIntervened > pTarget {
		return 0, fmt.Errorf("intervened fraction %v exceeds target probability %v", fracIntervened, pTarget)
	}
	if fracIntervened >= 1 {
		return 0, fmt.Errorf("intervened fraction %v leaves nobody to sample", fracIntervened)
	}
	return (pTarget - fracIntervened) / (1 - fracIntervened), nil
}

// SampleInterventions draws the named intervention for every row of an
// event frame whose individuals all sit at the same clinical stage, and
// returns the frame with the indicator set on the sampled rows.
//
// Nephrology referral is restricted to the already-diagnosed: its
// conditional probability is further divided by the diagnosed fraction
// and the sampled indicator is masked with the diagnosis indicator. The
// divided probability is deliberately not clamped and may exceed 1 when
// the diagnosed fraction is small; the threshold comparison then selects
// everyone eligible. (Known edge case, preserved pending clarification
// of intended semantics.)
//
// draws, when non-nil, supplies one uniform per individual indexed by
// pid (common random numbers); the sampled indicator is then
// 1{draws[pid] <= p}. With nil draws a fresh Bernoulli draw is taken
// from r per row.
func SampleInterventions(rows []Row, event string, p *Params, draws []float64, r *rand.Rand) ([]Row, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("intervention sampling requires a non-empty event frame")
	}
	stage := rows[0].StageDiag
	for i := range rows {
		if rows[i].StageDiag != stage {
			return nil, fmt.Errorf("intervention sampling requires a single stage per frame, got %s and %s", stage, rows[i].StageDiag)
		}
	}
	ip, ok := p.Interventions[event]
	if !ok {
		return nil, fmt.Errorf("unknown intervention type %q", event)
	}
	pTarget, ok := ip.Freq[stage]
	if !ok {
		return nil, fmt.Errorf("no %s target probability for stage %s", event, stage)
	}

	var ind indicator
	switch event {
	case InterventionDiag:
		ind = indDiag
	case InterventionNephr:
		ind = indNephr
	default:
		return nil, fmt.Errorf("unknown intervention type %q", event)
	}

	prob, err := ConditionalProbability(pTarget, fracWithIndicator(rows, ind))
	if err != nil {
		return nil, fmt.Errorf("sampling %s at stage %s: %w", event, stage, err)
	}
	if event == InterventionNephr {
		fracDiag := fracWithIndicator(rows, indDiag)
		if fracDiag == 0 {
			return nil, fmt.Errorf("sampling %s at stage %s: no diagnosed individuals to refer", event, stage)
		}
		// Conditional on being diagnosed; unclamped, may exceed 1.
		prob /= fracDiag
	}

	out := cloneRows(rows)
	for i := range out {
		var sampled int
		if draws != nil {
			if out[i].PID >= len(draws) {
				return nil, fmt.Errorf("draw array of length %d does not cover pid %d", len(draws), out[i].PID)
			}
			if draws[out[i].PID] <= prob {
				sampled = 1
			}
		} else if r.Float64() < prob {
			sampled = 1
		}
		out[i].setInd(ind, sampled)
		if event == InterventionNephr {
			// Referral only among the diagnosed.
			out[i].Nephr *= out[i].Diag
		}
	}
	return out, nil
}
