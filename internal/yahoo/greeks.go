package yahoo

import "math"

// The free path has no Greeks in its feed, so gamma and delta are
// backfilled from Black-Scholes with a fixed risk-free rate. This is an
// approximation: with the one-day time floor below, values at very
// short DTE are not numerically comparable to brokerage-sourced Greeks.
const (
	riskFreeRate = 0.05
	// minTimeYears floors time-to-expiry at one day so 0-DTE contracts
	// do not blow up the denominator.
	minTimeYears = 1.0 / 365.0
)

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1(spot, strike, t, sigma float64) float64 {
	return (math.Log(spot/strike) + (riskFreeRate+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
}

// bsGamma computes Black-Scholes gamma, identical for calls and puts.
// Returns 0 for degenerate inputs rather than NaN.
func bsGamma(spot, strike, t, sigma float64) float64 {
	if sigma <= 0 || t <= 0 || spot <= 0 || strike <= 0 {
		return 0
	}
	return normPDF(d1(spot, strike, t, sigma)) / (spot * sigma * math.Sqrt(t))
}

// bsDelta computes Black-Scholes delta. call selects the side.
func bsDelta(spot, strike, t, sigma float64, call bool) float64 {
	if sigma <= 0 || t <= 0 || spot <= 0 || strike <= 0 {
		return 0
	}
	d := normCDF(d1(spot, strike, t, sigma))
	if call {
		return d
	}
	return d - 1
}

// yearsToExpiry converts DTE to years with the one-day floor.
func yearsToExpiry(dte int) float64 {
	t := float64(dte) / 365.0
	if t < minTimeYears {
		return minTimeYears
	}
	return t
}
