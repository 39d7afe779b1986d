package stats

import (
	"math"
	"sort"
)

// TwoProportionResult is the outcome of a pooled two-proportion z-test
// between samples A and B.
type TwoProportionResult struct {
	Z            float64 // positive when A converts better than B
	PValue       float64 // two-sided
	Diff         float64 // pA - pB
	DiffLow      float64 // CI of the difference (unpooled SE)
	DiffHigh     float64
	EffectSize   float64 // Cohen's h
	Insufficient bool    // either sample below MinSample
}

// TwoProportion runs a pooled two-proportion z-test. When either sample
// is below MinSample the result is flagged insufficient; the numbers are
// still filled in so callers can display them, but no significance claim
// should be made from them.
func TwoProportion(aSucc, aTrials, bSucc, bTrials int, confidence float64) TwoProportionResult {
	res := TwoProportionResult{
		Insufficient: aTrials < MinSample || bTrials < MinSample,
	}
	if aTrials == 0 || bTrials == 0 {
		res.PValue = 1
		res.Insufficient = true
		return res
	}

	pA := float64(aSucc) / float64(aTrials)
	pB := float64(bSucc) / float64(bTrials)
	nA := float64(aTrials)
	nB := float64(bTrials)

	res.Diff = pA - pB
	res.EffectSize = 2*math.Asin(math.Sqrt(pA)) - 2*math.Asin(math.Sqrt(pB))

	pooled := float64(aSucc+bSucc) / (nA + nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nA + 1/nB))
	if se == 0 {
		// Both rates identical at 0% or 100%.
		res.PValue = 1
		return res
	}

	res.Z = res.Diff / se
	res.PValue = 2 * (1 - NormalCDF(math.Abs(res.Z)))
	if res.PValue > 1 {
		res.PValue = 1
	}

	z := ZScore(confidence)
	seDiff := math.Sqrt(pA*(1-pA)/nA + pB*(1-pB)/nB)
	res.DiffLow = res.Diff - z*seDiff
	res.DiffHigh = res.Diff + z*seDiff

	return res
}

// Proportion is one group's successes/trials for a chi-square test.
type Proportion struct {
	Successes int
	Trials    int
}

// ChiSquare runs a chi-square test of homogeneity over k proportions.
// The p-value uses the Wilson-Hilferty cube-root normal approximation,
// which is accurate to a few decimal places for the sample sizes this
// engine gates on.
func ChiSquare(groups []Proportion) (chi2 float64, df int, pValue float64) {
	if len(groups) < 2 {
		return 0, 0, 1
	}

	totalSucc, totalTrials := 0, 0
	for _, g := range groups {
		totalSucc += g.Successes
		totalTrials += g.Trials
	}
	if totalTrials == 0 || totalSucc == 0 || totalSucc == totalTrials {
		return 0, len(groups) - 1, 1
	}

	pPool := float64(totalSucc) / float64(totalTrials)
	for _, g := range groups {
		if g.Trials == 0 {
			continue
		}
		n := float64(g.Trials)
		expSucc := n * pPool
		expFail := n * (1 - pPool)
		obsSucc := float64(g.Successes)
		obsFail := n - obsSucc
		chi2 += (obsSucc-expSucc)*(obsSucc-expSucc)/expSucc +
			(obsFail-expFail)*(obsFail-expFail)/expFail
	}

	df = len(groups) - 1
	return chi2, df, chiSquarePValue(chi2, df)
}

func chiSquarePValue(chi2 float64, df int) float64 {
	if df <= 0 {
		return 1
	}
	k := float64(df)
	t := 2.0 / (9.0 * k)
	z := (math.Cbrt(chi2/k) - (1 - t)) / math.Sqrt(t)
	p := 1 - NormalCDF(z)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// BenjaminiHochberg applies the BH step-up procedure to a set of
// p-values and reports which are significant at false-discovery rate
// alpha. The returned slice is aligned with the input.
func BenjaminiHochberg(pValues []float64, alpha float64) []bool {
	m := len(pValues)
	significant := make([]bool, m)
	if m == 0 {
		return significant
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return pValues[order[i]] < pValues[order[j]]
	})

	cutoff := -1
	for rank, idx := range order {
		threshold := float64(rank+1) / float64(m) * alpha
		if pValues[idx] <= threshold {
			cutoff = rank
		}
	}
	for rank := 0; rank <= cutoff; rank++ {
		significant[order[rank]] = true
	}
	return significant
}
