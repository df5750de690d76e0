package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

const (
	// DefaultHorizon is the maximum simulated age. No trajectory row may
	// exist at a later age.
	DefaultHorizon = 101.0

	// MaxAge is the last integer age carried by hazard curves (0..MaxAge).
	MaxAge = 100
)

// Cutoffs are the eGFR thresholds at which stage events and
// interventions are evaluated, in the order they must be processed
// (later cutoffs depend on slopes updated at earlier ones).
var Cutoffs = []float64{60, 45, 30, 15}

// Row is one trajectory observation: the state of one individual at one
// age. A trajectory is the ordered run of rows sharing a PID, strictly
// increasing in Age. EGFR declines linearly between consecutive rows at
// the earlier row's Slope (eGFR units per year, >= 0 meaning decline).
// Binary indicators are absorbing: once 1 they stay 1 at later ages.
type Row struct {
	PID   int
	Age   float64
	EGFR  float64
	Slope float64

	DM    int // diabetes
	HT    int // hypertension
	G3    int // reached stage G3a (eGFR <= 60)
	Diag  int // CKD diagnosis received
	Nephr int // nephrology referral received
	Death int

	Sex  egfr.Sex
	Race egfr.Race

	// StageDiag is the stage most recently carried by a cutoff event
	// row; StageNone outside event frames.
	StageDiag egfr.Stage
}

// indicator selects one of the binary columns for generic
// propagation/aggregation.
type indicator int

const (
	indDM indicator = iota
	indHT
	indG3
	indDiag
	indNephr
	indDeath
)

func (r *Row) ind(i indicator) int {
	switch i {
	case indDM:
		return r.DM
	case indHT:
		return r.HT
	case indG3:
		return r.G3
	case indDiag:
		return r.Diag
	case indNephr:
		return r.Nephr
	default:
		return r.Death
	}
}

func (r *Row) setInd(i indicator, v int) {
	switch i {
	case indDM:
		r.DM = v
	case indHT:
		r.HT = v
	case indG3:
		r.G3 = v
	case indDiag:
		r.Diag = v
	case indNephr:
		r.Nephr = v
	default:
		r.Death = v
	}
}

var allIndicators = []indicator{indDM, indHT, indG3, indDiag, indNephr, indDeath}

// ageTolerance separates distinct ages after 2-decimal rounding.
const ageTolerance = 1e-9

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func agesEqual(a, b float64) bool { return math.Abs(a-b) < ageTolerance }

// sortRows orders a table by (pid, age). Sorting is stable so that
// callers can rely on insertion order among rows sharing a key.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PID != rows[j].PID {
			return rows[i].PID < rows[j].PID
		}
		return rows[i].Age < rows[j].Age-ageTolerance
	})
}

// eachPID calls fn once per individual with that individual's rows, in
// pid order. rows must already be sorted by (pid, age). fn receives a
// sub-slice of rows, so in-place edits are visible to the caller.
func eachPID(rows []Row, fn func(pid int, group []Row)) {
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].PID != rows[start].PID {
			fn(rows[start].PID, rows[start:i])
			start = i
		}
	}
}

// pids returns the distinct individual ids in a sorted table, in order.
func pids(rows []Row) []int {
	var out []int
	eachPID(rows, func(pid int, _ []Row) { out = append(out, pid) })
	return out
}

// cloneRows copies a table so transformations never alias their input.
func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

// ValidateTable checks the structural trajectory invariants: rows
// ordered by (pid, age), strictly increasing ages per individual with no
// duplicate keys, and no row beyond the horizon.
func ValidateTable(rows []Row, horizon float64) error {
	for i, r := range rows {
		if r.Age > horizon {
			return fmt.Errorf("trajectory row for pid %d at age %v exceeds horizon %v", r.PID, r.Age, horizon)
		}
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		if r.PID < prev.PID {
			return fmt.Errorf("trajectory rows not ordered by pid at index %d", i)
		}
		if r.PID == prev.PID {
			if agesEqual(r.Age, prev.Age) {
				return fmt.Errorf("duplicate trajectory row for pid %d at age %v", r.PID, r.Age)
			}
			if r.Age < prev.Age {
				return fmt.Errorf("trajectory ages not increasing for pid %d at age %v", r.PID, r.Age)
			}
		}
	}
	return nil
}

// ValidateFinal checks the completed-trajectory invariants on top of
// ValidateTable: every individual ends with exactly one death row, and
// indicators never reset once set.
func ValidateFinal(rows []Row, horizon float64) error {
	if err := ValidateTable(rows, horizon); err != nil {
		return err
	}
	var err error
	eachPID(rows, func(pid int, group []Row) {
		if err != nil {
			return
		}
		last := group[len(group)-1]
		if last.Death != 1 {
			err = fmt.Errorf("final row for pid %d has death=%d, want 1", pid, last.Death)
			return
		}
		for i := 1; i < len(group); i++ {
			for _, ind := range allIndicators {
				if group[i].ind(ind) < group[i-1].ind(ind) {
					err = fmt.Errorf("indicator reset for pid %d at age %v", pid, group[i].Age)
					return
				}
			}
			if group[i-1].Death == 1 {
				err = fmt.Errorf("row exists for pid %d after death at age %v", pid, group[i-1].Age)
				return
			}
		}
	})
	return err
}
