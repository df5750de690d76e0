package model

import (
	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// testParams builds a complete parameter set with unit decline slopes
// and inert intervention effects, so trajectories stay analytically
// predictable unless a test overrides specific entries.
func testParams() *Params {
	slopes := make(map[SlopeKey]float64, 8)
	for _, dm := range []int{0, 1} {
		for _, ht := range []int{0, 1} {
			for _, g3 := range []int{0, 1} {
				slopes[SlopeKey{DM: dm, HT: ht, G3: g3}] = 1.0
			}
		}
	}
	hrs := make(map[HRKey]float64, 10)
	for _, b := range []int{2, 5, 6, 7, 8} {
		hrs[HRKey{Bucket: b, DM: 0}] = 1 + float64(b)/10
		hrs[HRKey{Bucket: b, DM: 1}] = 1.5 + float64(b)/10
	}
	baseline := make([]float64, MaxAge+1)
	for age := range baseline {
		baseline[age] = 0.001 + 0.0004*float64(age)
	}
	return &Params{
		Slopes: slopes,
		Interventions: map[string]InterventionParams{
			InterventionDiag: {Effect: 0, Freq: map[egfr.Stage]float64{
				egfr.G3a: 0.3, egfr.G3b: 0.7, egfr.G4: 0.8, egfr.G5: 0.9,
			}},
			InterventionNephr: {Effect: 0, Freq: map[egfr.Stage]float64{
				egfr.G3a: 0, egfr.G3b: 0, egfr.G4: 0, egfr.G5: 0,
			}},
		},
		MortalityHR:        hrs,
		BaselineHazard:     map[egfr.Sex][]float64{egfr.Male: baseline, egfr.Female: baseline},
		EntryAge:           50,
		Horizon:            DefaultHorizon,
		EligibilityFormula: egfr.Formula2021,
	}
}

// threePersonCohort is the canonical hand-checkable cohort: entry ages
// 50/60/70, initial eGFR 80/70/55, no comorbidities. Under unit slopes
// pid 2 drops through 45 at exactly age 80.
func threePersonCohort() []Row {
	var rows []Row
	for _, p := range []struct {
		pid      int
		entryAge float64
		egfr     float64
		sex      egfr.Sex
		race     egfr.Race
	}{
		{0, 50, 80, egfr.Male, egfr.NonBlack},
		{1, 60, 70, egfr.Female, egfr.NonBlack},
		{2, 70, 55, egfr.Female, egfr.Black},
	} {
		person := Row{PID: p.pid, EGFR: p.egfr, Sex: p.sex, Race: p.race}
		entry := person
		entry.Age = p.entryAge
		placeholder := person
		placeholder.Age = DefaultHorizon
		placeholder.Death = 1
		rows = append(rows, entry, placeholder)
	}
	sortRows(rows)
	return rows
}

// rowAt finds the row for pid at the given age, or nil.
func rowAt(rows []Row, pid int, age float64) *Row {
	for i := range rows {
		if rows[i].PID == pid && agesEqual(rows[i].Age, age) {
			return &rows[i]
		}
	}
	return nil
}

// pidRows returns pid's rows in age order.
func pidRows(rows []Row, pid int) []Row {
	var out []Row
	for i := range rows {
		if rows[i].PID == pid {
			out = append(out, rows[i])
		}
	}
	return out
}
