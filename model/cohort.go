package model

import (
	"fmt"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// Cohort sampler: builds a synthetic cohort table ready for phase 1.
// Each individual gets a Normal initial eGFR, Bernoulli sex and race,
// comorbidity onset ages from the frailty models, a cohort-entry row
// and a placeholder death row at the horizon.

// CohortConfig describes the synthetic cohort to sample.
type CohortConfig struct {
	N        int
	EntryAge int
	Horizon  float64

	MaleFrac  float64
	BlackFrac float64

	InitEGFRMean   float64
	InitEGFRStdDev float64
}

// Validate checks the cohort configuration.
func (c CohortConfig) Validate() error {
	if c.N <= 0 {
		return fmt.Errorf("N must be > 0, got %d", c.N)
	}
	if c.EntryAge < 1 || c.EntryAge > MaxAge-1 {
		return fmt.Errorf("EntryAge must be in [1, %d], got %d", MaxAge-1, c.EntryAge)
	}
	if c.Horizon <= float64(c.EntryAge) {
		return fmt.Errorf("Horizon must be > EntryAge, got %v", c.Horizon)
	}
	if c.MaleFrac < 0 || c.MaleFrac > 1 {
		return fmt.Errorf("MaleFrac must be in [0, 1], got %v", c.MaleFrac)
	}
	if c.BlackFrac < 0 || c.BlackFrac > 1 {
		return fmt.Errorf("BlackFrac must be in [0, 1], got %v", c.BlackFrac)
	}
	if c.InitEGFRStdDev < 0 {
		return fmt.Errorf("InitEGFRStdDev must be >= 0, got %v", c.InitEGFRStdDev)
	}
	return nil
}

// SampleCohort samples a cohort of N individuals with pids 0..N-1:
// demographics and initial eGFR per individual, diabetes and
// hypertension onset rows from the supplied frailty models, and the
// entry/placeholder rows. Onset indicators are propagated forward and
// rows before cohort entry dropped, so onsets preceding entry appear on
// the entry row.
func SampleCohort(cfg CohortConfig, diabetes, hypertension *OnsetModel, streams *Streams) ([]Row, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if diabetes == nil || hypertension == nil {
		return nil, fmt.Errorf("cohort sampling requires both onset models")
	}

	demoRNG := streams.For(StreamCohort)
	comorbRNG := streams.For(StreamComorbidity)
	initEGFR := distuv.Normal{
		Mu:    cfg.InitEGFRMean,
		Sigma: cfg.InitEGFRStdDev,
		Src:   xrand.NewSource(uint64(streams.Seed(StreamCohort + "/egfr"))),
	}

	var rows []Row
	for pid := 0; pid < cfg.N; pid++ {
		sex := egfr.Female
		if demoRNG.Float64() < cfg.MaleFrac {
			sex = egfr.Male
		}
		race := egfr.NonBlack
		if demoRNG.Float64() < cfg.BlackFrac {
			race = egfr.Black
		}
		value := round2(initEGFR.Rand())

		person := Row{PID: pid, Sex: sex, Race: race, EGFR: value}

		entry := person
		entry.Age = float64(cfg.EntryAge)
		rows = append(rows, entry)

		placeholder := person
		placeholder.Age = cfg.Horizon
		placeholder.Death = 1
		rows = append(rows, placeholder)

		if age, ok := hypertension.Sample(sex, comorbRNG); ok && age < cfg.Horizon {
			onset := person
			onset.Age = age
			onset.HT = 1
			rows = append(rows, onset)
		}
		if age, ok := diabetes.Sample(sex, comorbRNG); ok && age < cfg.Horizon {
			onset := person
			onset.Age = age
			onset.DM = 1
			rows = append(rows, onset)
		}
	}

	sortRows(rows)
	propagateIndicators(rows, indDM, indHT, indDeath)

	out := make([]Row, 0, len(rows))
	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) &&
			rows[end].PID == rows[start].PID &&
			agesEqual(rows[end].Age, rows[start].Age) {
			end++
		}
		// Duplicate (pid, age) keys keep the last entry.
		if rows[end-1].Age >= float64(cfg.EntryAge) {
			out = append(out, rows[end-1])
		}
		start = end
	}
	return out, nil
}
