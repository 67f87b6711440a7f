package models

import "time"

// Data source tags carried on a fetched chain. The aggregation engine is
// agnostic to the source; the tag exists for display and for operators
// comparing the two fidelity levels.
const (
	SourceSchwab = "schwab"
	SourceYahoo  = "yahoo"
)

// Chain is a fetched, normalized options chain for a single underlying.
type Chain struct {
	Symbol    string     `json:"symbol"`
	SpotPrice float64    `json:"spot_price"`
	Source    string     `json:"source"`
	FetchedAt time.Time  `json:"fetched_at"`
	Contracts []Contract `json:"contracts"`
}

// Empty reports whether the chain carries no contracts.
func (ch *Chain) Empty() bool {
	return len(ch.Contracts) == 0
}
