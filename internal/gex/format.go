package gex

import (
	"fmt"
	"math"
)

// FormatValue renders an exposure value for display, e.g. 571200 ->
// "571.2k", -1834000 -> "-1.8M". Zero renders as a dash so empty cells
// read as empty in the ladder table.
func FormatValue(v float64) string {
	if v == 0 || math.IsNaN(v) {
		return "-"
	}
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fk", v/1_000)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// ATMStrike rounds spot to the nearest strike on the exchange increment.
func ATMStrike(spot, increment float64) float64 {
	if increment <= 0 {
		return spot
	}
	return math.Round(spot/increment) * increment
}

// ZeroGammaFlip locates the strike nearest spot where the per-strike
// exposure series changes sign. Below the flip, dealer hedging chases
// price; above it, hedging dampens moves. Returns false when the series
// never changes sign.
func ZeroGammaFlip(series Series, spot float64) (float64, bool) {
	var (
		best     float64
		bestDist = math.MaxFloat64
		found    bool
	)
	// Series is strike-descending; walk adjacent pairs.
	for i := 0; i+1 < len(series); i++ {
		hi, lo := series[i], series[i+1]
		if hi.Value == 0 || lo.Value == 0 {
			continue
		}
		if (hi.Value > 0) == (lo.Value > 0) {
			continue
		}
		mid := (hi.Strike + lo.Strike) / 2
		if d := math.Abs(mid - spot); d < bestDist {
			bestDist = d
			best = mid
			found = true
		}
	}
	return best, found
}
