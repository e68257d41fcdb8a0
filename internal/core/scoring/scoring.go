// Package scoring ranks graph relationships by embedding distance, weight and degree.
package scoring

import (
	"math"
	"sort"
)

// WeightRange gives the per-unit coefficient for weight inside [Lower, Upper).
type WeightRange struct {
	Lower       float64
	Upper       float64
	Coefficient float64
}

var DefaultWeightTable = []WeightRange{
	{Lower: 0, Upper: 100, Coefficient: 0.01},
	{Lower: 100, Upper: 1000, Coefficient: 0.001},
	{Lower: 1000, Upper: 10000, Coefficient: 0.0001},
	{Lower: 10000, Upper: math.Inf(1), Coefficient: 0.00001},
}

const (
	DefaultAlpha       = 1.0
	DefaultDegreeCoeff = 0.001
)

// WeightScore consumes weight greedily from the lowest range upward.
func WeightScore(weight float64, table []WeightRange) float64 {
	if weight <= 0 {
		return 0
	}
	remaining := weight
	score := 0.0
	for _, r := range table {
		if remaining <= 0 {
			break
		}
		width := r.Upper - r.Lower
		used := math.Min(width, remaining)
		score += used * r.Coefficient
		remaining -= used
	}
	return score
}

func DegreeScore(inDegree, outDegree int, coeff float64) float64 {
	return float64(inDegree-outDegree) * coeff
}

type Params struct {
	Distance    float64
	Weight      float64
	InDegree    int
	OutDegree   int
	Alpha       float64
	WeightTable []WeightRange
	DegreeCoeff float64
	UseDegree   bool
}

// Score combines distance, weight and optionally degree. Distance must be positive.
func Score(p Params) float64 {
	table := p.WeightTable
	if table == nil {
		table = DefaultWeightTable
	}
	score := p.Alpha*(1/p.Distance) + WeightScore(p.Weight, table)
	if p.UseDegree {
		score += DegreeScore(p.InDegree, p.OutDegree, p.DegreeCoeff)
	}
	return score
}

// DistanceBand keeps Ratio of the candidates whose distance falls in [Lower, Upper).
type DistanceBand struct {
	Lower float64
	Upper float64
	Ratio float64
}

// RangeSearchPolicy is an ordered list of disjoint distance bands.
type RangeSearchPolicy []DistanceBand

var DefaultRangeSearch = RangeSearchPolicy{
	{Lower: 0, Upper: 0.25, Ratio: 1},
	{Lower: 0.25, Upper: 0.35, Ratio: 0.7},
	{Lower: 0.35, Upper: 0.45, Ratio: 0.2},
	{Lower: 0.45, Upper: 0.55, Ratio: 0.1},
}

// Select keeps, per band, the nearest ceil(ratio*n) of the n candidates falling
// in that band, at least one. Candidates outside every band are dropped. The
// result is ordered by ascending distance; ties keep input order.
func Select[T any](bands RangeSearchPolicy, items []T, distance func(T) float64) []T {
	if len(bands) == 0 {
		return items
	}

	ordered := make([]T, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return distance(ordered[i]) < distance(ordered[j])
	})

	buckets := make([][]T, len(bands))
	for _, item := range ordered {
		d := distance(item)
		for idx, band := range bands {
			if d >= band.Lower && d < band.Upper {
				buckets[idx] = append(buckets[idx], item)
				break
			}
		}
	}

	out := make([]T, 0, len(ordered))
	for idx, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		keep := int(math.Ceil(bands[idx].Ratio * float64(len(bucket))))
		if keep < 1 {
			keep = 1
		}
		if keep > len(bucket) {
			keep = len(bucket)
		}
		out = append(out, bucket[:keep]...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return distance(out[i]) < distance(out[j])
	})
	return out
}
