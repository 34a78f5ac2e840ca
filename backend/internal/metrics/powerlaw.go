package metrics

import (
	"math"
	"sort"
)

// PowerLawFit fits log(count) against log(degree+1) over the degree
// histogram by least squares. It returns the exponent (negated slope) and the
// squared correlation. Fewer than three nodes or a single distinct degree
// yields (0, 0).
func PowerLawFit(degrees []int) (alpha, r2 float64) {
	if len(degrees) <= 2 {
		return 0, 0
	}

	counts := make(map[int]int)
	for _, d := range degrees {
		counts[d+1]++
	}
	if len(counts) <= 1 {
		return 0, 0
	}

	unique := make([]int, 0, len(counts))
	for d := range counts {
		unique = append(unique, d)
	}
	sort.Ints(unique)

	xs := make([]float64, len(unique))
	ys := make([]float64, len(unique))
	for i, d := range unique {
		xs[i] = math.Log(float64(d))
		ys[i] = math.Log(float64(counts[d]))
	}

	slope, r := linearRegression(xs, ys)
	return -slope, r * r
}

// linearRegression returns the least-squares slope and Pearson correlation.
// A zero variance on either axis gives r = 0.
func linearRegression(xs, ys []float64) (slope, r float64) {
	n := float64(len(xs))
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var sxx, syy, sxy float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx == 0 {
		return 0, 0
	}
	slope = sxy / sxx
	if syy == 0 {
		return slope, 0
	}
	return slope, sxy / math.Sqrt(sxx*syy)
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		stddev += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(stddev / float64(len(values)))
}
