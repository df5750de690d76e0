package model

// Event/trajectory merger: newly sampled or newly computed cutoff events
// are folded into the running trajectory table, indicators are
// propagated forward, and slopes plus the affected trajectory suffixes
// are re-derived.

// mergeByPIDAge merges event rows into a base table by (pid, age). Rows
// landing on an identical key are reconciled by fixed per-column rules:
// indicators take the maximum, eGFR is averaged, sex/race take the first
// value (invariant per individual), slope takes the last (most recently
// computed) value, and the diagnosed-stage field takes the first set
// value. Event rows order before base rows within a key, so events
// contribute the stage and the base table the up-to-date slope.
func mergeByPIDAge(events, base []Row) []Row {
	combined := make([]Row, 0, len(events)+len(base))
	combined = append(combined, events...)
	combined = append(combined, base...)
	sortRows(combined)

	out := make([]Row, 0, len(combined))
	for start := 0; start < len(combined); {
		end := start + 1
		for end < len(combined) &&
			combined[end].PID == combined[start].PID &&
			agesEqual(combined[end].Age, combined[start].Age) {
			end++
		}
		out = append(out, aggregateRun(combined[start:end], false))
		start = end
	}
	return out
}

// aggregateRun collapses rows sharing a key into one row. With byEGFR
// set, the rows share (pid, egfr) and age is averaged instead; the
// diagnosed stage then takes the maximum set value, since events from
// different cutoffs may disagree.
func aggregateRun(run []Row, byEGFR bool) Row {
	agg := run[0]
	if len(run) == 1 {
		return agg
	}
	sum := 0.0
	for _, r := range run {
		for _, ind := range allIndicators {
			if r.ind(ind) > agg.ind(ind) {
				agg.setInd(ind, r.ind(ind))
			}
		}
		if byEGFR {
			sum += r.Age
		} else {
			sum += r.EGFR
		}
	}
	agg.Slope = run[len(run)-1].Slope
	if byEGFR {
		agg.Age = round2(sum / float64(len(run)))
		for _, r := range run {
			if r.StageDiag > agg.StageDiag {
				agg.StageDiag = r.StageDiag
			}
		}
	} else {
		agg.EGFR = sum / float64(len(run))
		for _, r := range run {
			if agg.StageDiag == 0 && r.StageDiag != 0 {
				agg.StageDiag = r.StageDiag
			}
		}
	}
	return agg
}

// dedupeByPIDEGFR reconciles rows with duplicate (pid, egfr) pairs,
// which arise when a re-integrated suffix lands back on a cutoff value
// an event row already sits at. The analogous aggregation applies, with
// mean age instead of mean eGFR. eGFR is non-increasing per individual,
// so duplicate values are adjacent in age order.
func dedupeByPIDEGFR(rows []Row) []Row {
	dup := false
	for i := 1; i < len(rows); i++ {
		if rows[i].PID == rows[i-1].PID && round2(rows[i].EGFR) == round2(rows[i-1].EGFR) {
			dup = true
			break
		}
	}
	if !dup {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) &&
			rows[end].PID == rows[start].PID &&
			round2(rows[end].EGFR) == round2(rows[start].EGFR) {
			end++
		}
		out = append(out, aggregateRun(rows[start:end], true))
		start = end
	}
	sortRows(out)
	return out
}

// propagateIndicators applies cumulative-max forward propagation to the
// given indicator columns along each individual's trajectory, making
// them absorbing.
func propagateIndicators(rows []Row, inds ...indicator) {
	eachPID(rows, func(_ int, group []Row) {
		for _, ind := range inds {
			max := 0
			for i := range group {
				if group[i].ind(ind) > max {
					max = group[i].ind(ind)
				}
				group[i].setInd(ind, max)
			}
		}
	})
}

// UpdateSlopes returns a copy of rows with each slope re-derived from
// the parameter set's covariate lookup (dm, ht, g3), adjusted by the
// applicable intervention effect.
func UpdateSlopes(rows []Row, p *Params) ([]Row, error) {
	out := cloneRows(rows)
	for i := range out {
		slope, err := p.slopeFor(out[i])
		if err != nil {
			return nil, err
		}
		out[i].Slope = slope
	}
	return out, nil
}

// applyCutoffEvents folds cutoff event rows into the base trajectory:
// merge by (pid, age), propagate the flipped indicators forward, then
// re-derive slopes and re-integrate eGFR for exactly the rows whose
// indicators are now set. The first affected row per individual anchors
// the re-integration, so everything before it is untouched.
func applyCutoffEvents(base, events []Row, inds []indicator, p *Params) ([]Row, error) {
	merged := mergeByPIDAge(events, base)
	propagateIndicators(merged, inds...)

	var subset []Row
	for _, r := range merged {
		for _, ind := range inds {
			if r.ind(ind) == 1 {
				subset = append(subset, r)
				break
			}
		}
	}
	if len(subset) == 0 {
		return merged, nil
	}

	subset, err := UpdateSlopes(subset, p)
	if err != nil {
		return nil, err
	}
	Integrate(subset)

	byKey := make(map[int]map[float64]Row, len(subset))
	for _, r := range subset {
		if byKey[r.PID] == nil {
			byKey[r.PID] = make(map[float64]Row)
		}
		byKey[r.PID][round2(r.Age)] = r
	}
	for i := range merged {
		if upd, ok := byKey[merged[i].PID][round2(merged[i].Age)]; ok {
			merged[i].Slope = upd.Slope
			merged[i].EGFR = upd.EGFR
		}
		merged[i].StageDiag = 0
	}
	return dedupeByPIDEGFR(merged), nil
}
