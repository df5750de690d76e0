package model

// Decline integrator: eGFR is piecewise-linear in age. Each row's EGFR
// is the individual's initial value minus the accumulated
// (age gap x slope) products over the preceding segments, so a slope
// change at some age invalidates every later value on that trajectory
// and requires re-integration of the suffix.

// Integrate re-derives EGFR along each individual's rows from the first
// row's value and the per-segment slopes, in place. rows must be sorted
// by (pid, age). Per-segment declines are rounded to 2 decimals before
// accumulation, matching the precision used throughout the table.
func Integrate(rows []Row) {
	eachPID(rows, func(_ int, group []Row) {
		init := group[0].EGFR
		cum := 0.0
		for i := 1; i < len(group); i++ {
			cum += round2((group[i].Age - group[i-1].Age) * group[i-1].Slope)
			group[i].EGFR = round2(init - cum)
		}
	})
}

// EntriesAtCutoffs returns copies of the rows whose eGFR (at 2-decimal
// precision) sits exactly at one of the given cutoffs. These rows are
// reused as-is by crossing detection to avoid double insertion and
// rounding drift.
func EntriesAtCutoffs(rows []Row, cutoffs []float64) []Row {
	var out []Row
	for _, r := range rows {
		for _, c := range cutoffs {
			if round2(r.EGFR) == c {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// LocateCrossing finds, for each individual who has not died and has no
// row exactly at the cutoff, the age at which the trajectory drops
// through the cutoff, by linear interpolation from the last row still
// above it:
//
//	ageCutoff = ageLast + (egfrLast - cutoff) / slopeLast
//
// Crossings beyond the horizon are dropped. The returned event rows
// inherit all indicators and the slope from the interpolation row. When
// the interpolated age coincides with an existing row for the same
// individual, that row's data are preferred and only its eGFR is
// overwritten to the exact cutoff, so no near-duplicate key is created.
func LocateCrossing(rows []Row, cutoff, horizon float64) []Row {
	var events []Row
	eachPID(rows, func(_ int, group []Row) {
		lastAbove := -1
		for i, r := range group {
			if round2(r.EGFR) == cutoff {
				// Already exactly at cutoff; reused elsewhere, never recomputed.
				return
			}
			if r.EGFR > cutoff {
				lastAbove = i
			}
		}
		if lastAbove < 0 {
			return
		}
		last := group[lastAbove]
		if last.Death == 1 || last.Slope <= 0 {
			return
		}
		age := round2(last.Age + (last.EGFR-cutoff)/last.Slope)
		if age > horizon {
			return
		}
		ev := last
		ev.Age = age
		ev.EGFR = cutoff
		// Interpolation landing on an existing row (possible under
		// rounding): keep that row, only pin its eGFR to the cutoff.
		for _, r := range group {
			if agesEqual(r.Age, age) {
				ev = r
				ev.EGFR = cutoff
				break
			}
		}
		events = append(events, ev)
	})
	return events
}

// LocateCrossings runs LocateCrossing for every cutoff and concatenates
// the results.
func LocateCrossings(rows []Row, cutoffs []float64, horizon float64) []Row {
	var events []Row
	for _, c := range cutoffs {
		events = append(events, LocateCrossing(rows, c, horizon)...)
	}
	return events
}
