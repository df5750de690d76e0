package model

import (
	"math"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// Trajectory translation: re-expresses eGFR values under the other
// CKD-EPI equation while holding the underlying creatinine trajectory
// fixed. Used to judge intervention eligibility under the legacy
// equation while the model itself runs on the revised one.

// translateEGFRValues returns a copy of rows with each eGFR re-expressed
// under the target equation, rounded to 2 decimals. Undefined results
// (negative input) become 0, matching the downstream fill.
func translateEGFRValues(rows []Row, from, to egfr.Formula) ([]Row, error) {
	out := cloneRows(rows)
	for i := range out {
		v, err := egfr.Translate(out[i].EGFR, out[i].Sex, out[i].Age, out[i].Race, from, to)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			v = 0
		}
		out[i].EGFR = round2(v)
	}
	return out, nil
}

// TranslateTrajectory re-expresses a whole trajectory under the target
// equation and re-derives slopes from consecutive-row differences, since
// the translation is not slope-preserving. The last row of each
// individual keeps the preceding segment's slope (forward fill).
func TranslateTrajectory(rows []Row, from, to egfr.Formula) ([]Row, error) {
	out, err := translateEGFRValues(rows, from, to)
	if err != nil {
		return nil, err
	}
	eachPID(out, func(_ int, group []Row) {
		for i := 0; i < len(group)-1; i++ {
			dt := group[i+1].Age - group[i].Age
			group[i].Slope = round3(-(group[i+1].EGFR - group[i].EGFR) / dt)
		}
		if len(group) > 1 {
			group[len(group)-1].Slope = group[len(group)-2].Slope
		}
	})
	return out, nil
}
