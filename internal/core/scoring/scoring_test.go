package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightScoreConsumesRangesGreedily(t *testing.T) {
	assert.InDelta(t, 0.0, WeightScore(0, DefaultWeightTable), 1e-12)
	assert.InDelta(t, 0.5, WeightScore(50, DefaultWeightTable), 1e-12)
	assert.InDelta(t, 1.0, WeightScore(100, DefaultWeightTable), 1e-12)
	// 100*0.01 + 400*0.001
	assert.InDelta(t, 1.4, WeightScore(500, DefaultWeightTable), 1e-12)
	// 1 + 0.9 + 0.9 + 5000*0.00001
	assert.InDelta(t, 2.85, WeightScore(15000, DefaultWeightTable), 1e-9)
}

func TestWeightScoreIsMonotoneAndBounded(t *testing.T) {
	maxCoeff := 0.0
	for _, r := range DefaultWeightTable {
		maxCoeff = math.Max(maxCoeff, r.Coefficient)
	}

	prev := 0.0
	for w := 0.0; w <= 20000; w += 37.5 {
		got := WeightScore(w, DefaultWeightTable)
		assert.GreaterOrEqual(t, got, prev, "weight %v", w)
		assert.LessOrEqual(t, got, maxCoeff*w+1e-9, "weight %v", w)
		prev = got
	}
}

func TestDegreeScore(t *testing.T) {
	assert.InDelta(t, 0.003, DegreeScore(5, 2, DefaultDegreeCoeff), 1e-12)
	assert.InDelta(t, -0.002, DegreeScore(1, 3, DefaultDegreeCoeff), 1e-12)
}

func TestScoreCombinesParts(t *testing.T) {
	base := Params{Distance: 0.5, Weight: 10, InDegree: 4, OutDegree: 1, Alpha: 1, DegreeCoeff: 0.001}

	assert.InDelta(t, 2.1, Score(base), 1e-12)

	base.UseDegree = true
	assert.InDelta(t, 2.103, Score(base), 1e-12)

	base.Alpha = 2
	base.WeightTable = []WeightRange{{Lower: 0, Upper: math.Inf(1), Coefficient: 1}}
	assert.InDelta(t, 14.003, Score(base), 1e-12)
}

type candidate struct {
	id       string
	distance float64
}

func TestSelectKeepsRatioPerBand(t *testing.T) {
	items := []candidate{
		{"far", 0.9},
		{"a1", 0.1}, {"a2", 0.2},
		{"b1", 0.26}, {"b2", 0.27}, {"b3", 0.3},
		{"c1", 0.36}, {"c2", 0.37}, {"c3", 0.38}, {"c4", 0.39}, {"c5", 0.4}, {"c6", 0.41},
		{"d1", 0.5},
	}

	got := Select(DefaultRangeSearch, items, func(c candidate) float64 { return c.distance })

	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.id)
	}
	// a: 2 of 2, b: ceil(2.1)=3 of 3, c: ceil(1.2)=2 of 6, d: ceil(0.1)=1 of 1.
	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "b3", "c1", "c2", "d1"}, ids)
}

func TestSelectKeepsOnePerNonEmptyBand(t *testing.T) {
	policy := RangeSearchPolicy{{Lower: 0, Upper: 1, Ratio: 0}}
	got := Select(policy, []float64{0.4, 0.2}, func(d float64) float64 { return d })
	assert.Equal(t, []float64{0.2}, got)
}

func TestSelectWithoutBandsReturnsInput(t *testing.T) {
	in := []float64{0.9, 0.1}
	assert.Equal(t, in, Select(nil, in, func(d float64) float64 { return d }))
}
