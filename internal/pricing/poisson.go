package pricing

import "math"

// poissonPMF returns P(X = k) for X ~ Poisson(lambda).
func poissonPMF(lambda float64, k int) float64 {
	if lambda <= 0 || k < 0 {
		return 0
	}
	return math.Exp(-lambda) * math.Pow(lambda, float64(k)) / factorial(k)
}

// poissonCDF returns P(X <= k) for X ~ Poisson(lambda).
func poissonCDF(lambda float64, k int) float64 {
	sum := 0.0
	for i := 0; i <= k; i++ {
		sum += poissonPMF(lambda, i)
	}
	return sum
}

func factorial(k int) float64 {
	f := 1.0
	for i := 2; i <= k; i++ {
		f *= float64(i)
	}
	return f
}
