package gex

import "github.com/Dellyyty/gex-tool/internal/models"

// FilterStrikes keeps contracts within the configured band around the
// at-the-money strike. This pre-filter belongs to the caller, not the
// aggregation itself: the engine never filters by distance from spot.
// A non-positive spot disables filtering and returns the input slice.
func FilterStrikes(contracts []models.Contract, spot, increment float64, above, below int) []models.Contract {
	if spot <= 0 || increment <= 0 {
		return contracts
	}
	atm := ATMStrike(spot, increment)
	min := atm - float64(below)*increment
	max := atm + float64(above)*increment

	filtered := make([]models.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Strike >= min && c.Strike <= max {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
