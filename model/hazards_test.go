package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

func TestHazardBucket_CollapsesHighRanges(t *testing.T) {
	// Ranges above eGFR 60 share one risk class.
	assert.Equal(t, 2, hazardBucket(110))
	assert.Equal(t, 2, hazardBucket(95))
	assert.Equal(t, 2, hazardBucket(80))
	assert.Equal(t, 2, hazardBucket(61))
	assert.Equal(t, 5, hazardBucket(60))
	assert.Equal(t, 6, hazardBucket(45))
	assert.Equal(t, 7, hazardBucket(30))
	assert.Equal(t, 8, hazardBucket(15))
	// Trajectories integrated past zero carry the lowest-range class.
	assert.Equal(t, 8, hazardBucket(0))
	assert.Equal(t, 8, hazardBucket(-3.5))
}

func TestBuildHazards_BaselineBeforeEntryRatioAfter(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0, Sex: egfr.Male},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1, Sex: egfr.Male},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ht.PIDs)

	curve := ht.Curves[0]
	require.Len(t, curve, MaxAge+1)
	baseline := p.BaselineHazard[egfr.Male]

	// Before entry the curve is the life table alone.
	for age := 0; age < 50; age++ {
		assert.Equalf(t, baseline[age], curve[age], "age %d", age)
	}
	// At entry eGFR 80 sits in the collapsed high range (HR for bucket 2).
	hrHigh := p.MortalityHR[HRKey{Bucket: 2, DM: 0}]
	assert.InDelta(t, hrHigh*baseline[50], curve[50], 1e-12)

	// The located 60-crossing at age 70 moves the curve to bucket 5, and
	// the ratio forward-fills until the 45-crossing at age 85.
	hr5 := p.MortalityHR[HRKey{Bucket: 5, DM: 0}]
	assert.InDelta(t, hr5*baseline[70], curve[70], 1e-12)
	assert.InDelta(t, hr5*baseline[84], curve[84], 1e-12)
	hr6 := p.MortalityHR[HRKey{Bucket: 6, DM: 0}]
	assert.InDelta(t, hr6*baseline[85], curve[85], 1e-12)
}

func TestBuildHazards_DiabetesSelectsOwnRatios(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 0, Sex: egfr.Female},
		{PID: 0, Age: 101, EGFR: 80, Slope: 0, Death: 1, Sex: egfr.Female},
		{PID: 1, Age: 50, EGFR: 80, Slope: 0, DM: 1, Sex: egfr.Female},
		{PID: 1, Age: 101, EGFR: 80, Slope: 0, DM: 1, Death: 1, Sex: egfr.Female},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	baseline := p.BaselineHazard[egfr.Female]
	assert.InDelta(t, p.MortalityHR[HRKey{Bucket: 2, DM: 0}]*baseline[60], ht.Curves[0][60], 1e-12)
	assert.InDelta(t, p.MortalityHR[HRKey{Bucket: 2, DM: 1}]*baseline[60], ht.Curves[1][60], 1e-12)
}

func TestBuildHazards_MeansRatiosSharingAnAgeYear(t *testing.T) {
	p := testParams()
	// Two rows land in age-year 70: one in the high range, one at the
	// 60 cutoff. Zero slopes keep crossing detection out of the way.
	rows := []Row{
		{PID: 0, Age: 70.2, EGFR: 80, Slope: 0, Sex: egfr.Male},
		{PID: 0, Age: 70.8, EGFR: 60, Slope: 0, Sex: egfr.Male},
		{PID: 0, Age: 101, EGFR: 60, Slope: 0, Death: 1, Sex: egfr.Male},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	hrMean := (p.MortalityHR[HRKey{Bucket: 2, DM: 0}] + p.MortalityHR[HRKey{Bucket: 5, DM: 0}]) / 2
	assert.InDelta(t, hrMean*p.BaselineHazard[egfr.Male][70], ht.Curves[0][70], 1e-12)
}

func TestBuildHazards_RejectsRowBeyondHorizon(t *testing.T) {
	p := testParams()
	rows := []Row{{PID: 0, Age: 102, EGFR: 80, Sex: egfr.Male}}
	_, err := BuildHazards(rows, p)
	assert.ErrorContains(t, err, "exceeds horizon")
}

func TestBuildHazards_RejectsUnknownSex(t *testing.T) {
	p := testParams()
	rows := []Row{{PID: 0, Age: 50, EGFR: 80, Sex: "X"}}
	_, err := BuildHazards(rows, p)
	assert.ErrorContains(t, err, "no baseline hazard")
}

func TestSampleDeathAges_SharedDrawsAreReproducible(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0, Sex: egfr.Male},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1, Sex: egfr.Male},
		{PID: 1, Age: 50, EGFR: 90, Slope: 1.0, Sex: egfr.Female},
		{PID: 1, Age: 101, EGFR: 39, Slope: 1.0, Death: 1, Sex: egfr.Female},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	uYear := []float64{0.4, 0.7}
	uFrac := []float64{0.25, 0.5}
	a, err := SampleDeathAges(ht, 50, uYear, uFrac, nil)
	require.NoError(t, err)
	b, err := SampleDeathAges(ht, 50, uYear, uFrac, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for pid, age := range a {
		assert.GreaterOrEqualf(t, age, 50.0, "pid %d", pid)
		assert.LessOrEqualf(t, age, DefaultHorizon, "pid %d", pid)
	}
}

func TestSampleDeathAges_ZeroDrawDiesInEntryYear(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0, Sex: egfr.Male},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1, Sex: egfr.Male},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	deaths, err := SampleDeathAges(ht, 50, []float64{0}, []float64{0.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50.5, deaths[0])
}

func TestSampleDeathAges_DrawArrayTooShort(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 3, Age: 50, EGFR: 80, Slope: 1.0, Sex: egfr.Male},
		{PID: 3, Age: 101, EGFR: 29, Slope: 1.0, Death: 1, Sex: egfr.Male},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	_, err = SampleDeathAges(ht, 50, []float64{0.5}, []float64{0.5, 0.5, 0.5, 0.5}, nil)
	assert.ErrorContains(t, err, "does not cover pid")
}

func TestSampleDeathAges_FreshDrawsDeterministicPerSeed(t *testing.T) {
	p := testParams()
	rows := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0, Sex: egfr.Male},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1, Sex: egfr.Male},
	}
	ht, err := BuildHazards(rows, p)
	require.NoError(t, err)

	a, err := SampleDeathAges(ht, 50, nil, nil, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	b, err := SampleDeathAges(ht, 50, nil, nil, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCombineWithDeath_TruncatesAndAppendsTerminalRow(t *testing.T) {
	events := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0},
		{PID: 0, Age: 85, EGFR: 45, Slope: 1.0},
		{PID: 0, Age: 100, EGFR: 30, Slope: 1.0},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1},
	}
	out, err := CombineWithDeath(events, map[int]float64{0: 90.5})
	require.NoError(t, err)
	require.Len(t, out, 3)

	last := out[2]
	assert.Equal(t, 90.5, last.Age)
	assert.Equal(t, 1, last.Death)
	// 45 - 5.5 * 1.0, integrated from the last surviving row.
	assert.Equal(t, 39.5, last.EGFR)

	// The placeholder's death marker does not leak into kept rows.
	assert.Equal(t, 0, out[0].Death)
	assert.Equal(t, 0, out[1].Death)
}

func TestCombineWithDeath_DeathOnRowAgeDropsThatRow(t *testing.T) {
	events := []Row{
		{PID: 0, Age: 50, EGFR: 80, Slope: 1.0},
		{PID: 0, Age: 85, EGFR: 45, Slope: 1.0},
		{PID: 0, Age: 101, EGFR: 29, Slope: 1.0, Death: 1},
	}
	out, err := CombineWithDeath(events, map[int]float64{0: 85})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, 85.0, out[1].Age)
	assert.Equal(t, 45.0, out[1].EGFR)
	assert.Equal(t, 1, out[1].Death)
}

func TestCombineWithDeath_MissingDeathAge(t *testing.T) {
	events := []Row{{PID: 0, Age: 50, EGFR: 80, Slope: 1.0}}
	_, err := CombineWithDeath(events, map[int]float64{})
	assert.ErrorContains(t, err, "no sampled death age")
}

func TestCombineWithDeath_DeathBeforeEntry(t *testing.T) {
	events := []Row{{PID: 0, Age: 50, EGFR: 80, Slope: 1.0}}
	_, err := CombineWithDeath(events, map[int]float64{0: 49})
	assert.ErrorContains(t, err, "precedes cohort entry")
}
