package model

import (
	"fmt"
	"math/rand"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// Orchestrator: the four-phase trajectory-generation pipeline. Each
// phase is a whole-cohort batch transformation; the pipeline holds no
// state between invocations.

// Phase1 initializes slopes from the parameter set's (dm, ht, g3)
// lookup and integrates the preliminary trajectory over the full
// horizon, with death notionally at the horizon placeholder row.
func Phase1(cohort []Row, p *Params) ([]Row, error) {
	rows, err := UpdateSlopes(cohort, p)
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	if err := ValidateTable(rows, p.Horizon); err != nil {
		return nil, err
	}
	Integrate(rows)
	return rows, nil
}

// cutoffEvents returns one event row per individual who reaches the
// cutoff before death, judged under the given eligibility equation. The
// model trajectory is expressed under the revised (2021) equation;
// legacy eligibility translates the trajectory first, locates crossings
// there, and translates the resulting event eGFR values back, so event
// ages reflect when the legacy equation would have flagged the cutoff.
// Rows already sitting exactly at the cutoff are reused as-is. Every
// returned row carries the stage entered at its cutoff.
func cutoffEvents(rows []Row, cutoff float64, eligibility egfr.Formula, horizon float64) ([]Row, error) {
	if eligibility == egfr.Formula2009 {
		translated, err := TranslateTrajectory(rows, egfr.Formula2021, egfr.Formula2009)
		if err != nil {
			return nil, err
		}
		events, err := cutoffEvents(translated, cutoff, egfr.Formula2021, horizon)
		if err != nil || len(events) == 0 {
			return events, err
		}
		return translateEGFRValues(events, egfr.Formula2009, egfr.Formula2021)
	}

	computed := LocateCrossing(rows, cutoff, horizon)
	for i := range computed {
		stage, err := egfr.StageBelowCutoff(cutoff)
		if err != nil {
			return nil, err
		}
		computed[i].StageDiag = stage
	}
	already := EntriesAtCutoffs(rows, []float64{cutoff})
	for i := range already {
		stage, err := egfr.StageBelowCutoff(round2(already[i].EGFR))
		if err != nil {
			return nil, err
		}
		already[i].StageDiag = stage
	}
	return append(computed, already...), nil
}

// interventionDraws picks the pre-generated draw array for one
// intervention type at one cutoff, or nil when drawing fresh.
func interventionDraws(draws *ScenarioDraws, event string, cutoff float64) []float64 {
	if draws == nil {
		return nil
	}
	if event == InterventionDiag {
		return draws.Diag[cutoff]
	}
	return draws.Nephr[cutoff]
}

// Phase2 adds the stage-G3a onset event (always judged under the
// revised equation) and then walks the four intervention cutoffs in
// order, sampling diagnosis and nephrology referral at each and folding
// the results back before moving to the next, smaller cutoff — later
// crossing ages depend on slopes already updated by earlier
// interventions.
func Phase2(init []Row, p *Params, draws *ScenarioDraws, r *rand.Rand) ([]Row, error) {
	g3Events, err := cutoffEvents(init, 60, egfr.Formula2021, p.Horizon)
	if err != nil {
		return nil, err
	}
	for i := range g3Events {
		g3Events[i].G3 = 1
	}
	cur, err := applyCutoffEvents(init, g3Events, []indicator{indG3}, p)
	if err != nil {
		return nil, err
	}

	for _, cutoff := range Cutoffs {
		events, err := cutoffEvents(cur, cutoff, p.EligibilityFormula, p.Horizon)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}
		sortRows(events)
		events, err = SampleInterventions(events, InterventionDiag, p, interventionDraws(draws, InterventionDiag, cutoff), r)
		if err != nil {
			return nil, err
		}
		events, err = SampleInterventions(events, InterventionNephr, p, interventionDraws(draws, InterventionNephr, cutoff), r)
		if err != nil {
			return nil, err
		}
		cur, err = applyCutoffEvents(cur, events, []indicator{indDiag, indNephr}, p)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Phase3 builds the per-individual mortality hazard curves from the
// phase-2 trajectory.
func Phase3(events []Row, p *Params) (*HazardTable, error) {
	return BuildHazards(events, p)
}

// Phase4 samples death ages from the hazard table, truncates each
// trajectory at death, and appends the terminal death row.
func Phase4(ht *HazardTable, events []Row, p *Params, uYear, uFrac []float64, r *rand.Rand) ([]Row, error) {
	deaths, err := SampleDeathAges(ht, p.EntryAge, uYear, uFrac, r)
	if err != nil {
		return nil, err
	}
	final, err := CombineWithDeath(events, deaths)
	if err != nil {
		return nil, err
	}
	if err := ValidateFinal(final, p.Horizon); err != nil {
		return nil, err
	}
	return final, nil
}

// GenerateTrajectories runs the full pipeline for one cohort and one
// parameter set, producing a complete trajectory from cohort entry to
// death for every individual.
func GenerateTrajectories(cohort []Row, p *Params, streams *Streams) ([]Row, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	init, err := Phase1(cohort, p)
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	events, err := Phase2(init, p, nil, streams.For(StreamIntervention))
	if err != nil {
		return nil, fmt.Errorf("phase 2: %w", err)
	}
	hazards, err := Phase3(events, p)
	if err != nil {
		return nil, fmt.Errorf("phase 3: %w", err)
	}
	final, err := Phase4(hazards, events, p, nil, nil, streams.For(StreamDeath))
	if err != nil {
		return nil, fmt.Errorf("phase 4: %w", err)
	}
	return final, nil
}

// GenerateTwoScenarios runs the pipeline twice from one shared phase-1
// trajectory: the reference run under the parameter set's eligibility
// equation and the counterfactual under the revised equation. With
// crnDeath (and optionally crnInterv) the two runs share uniform draw
// arrays sized to the cohort and indexed by pid, so the only source of
// difference in sampled outcomes is the difference in hazard curves and
// intervention timing, not independent randomness.
func GenerateTwoScenarios(cohort []Row, p *Params, streams *Streams, crnDeath, crnInterv bool) (reference, counterfactual []Row, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	init, err := Phase1(cohort, p)
	if err != nil {
		return nil, nil, fmt.Errorf("phase 1: %w", err)
	}
	n := maxPID(init) + 1

	var draws *ScenarioDraws
	if crnInterv {
		draws = NewInterventionDraws(streams.For(StreamIntervention), n, Cutoffs)
	}

	pCF := *p
	pCF.EligibilityFormula = egfr.Formula2021

	run := func(params *Params) ([]Row, *HazardTable, error) {
		events, err := Phase2(init, params, draws, streams.For(StreamIntervention))
		if err != nil {
			return nil, nil, fmt.Errorf("phase 2: %w", err)
		}
		hazards, err := Phase3(events, params)
		if err != nil {
			return nil, nil, fmt.Errorf("phase 3: %w", err)
		}
		return events, hazards, nil
	}

	refEvents, refHazards, err := run(p)
	if err != nil {
		return nil, nil, err
	}
	cfEvents, cfHazards, err := run(&pCF)
	if err != nil {
		return nil, nil, err
	}

	var uYear, uFrac []float64
	if crnDeath {
		deathRNG := streams.For(StreamDeath)
		uYear = Uniforms(deathRNG, n)
		uFrac = Uniforms(deathRNG, n)
	}
	reference, err = Phase4(refHazards, refEvents, p, uYear, uFrac, streams.For(StreamDeath))
	if err != nil {
		return nil, nil, fmt.Errorf("reference phase 4: %w", err)
	}
	counterfactual, err = Phase4(cfHazards, cfEvents, &pCF, uYear, uFrac, streams.For(StreamDeath))
	if err != nil {
		return nil, nil, fmt.Errorf("counterfactual phase 4: %w", err)
	}
	return reference, counterfactual, nil
}

func maxPID(rows []Row) int {
	max := 0
	for i := range rows {
		if rows[i].PID > max {
			max = rows[i].PID
		}
	}
	return max
}
