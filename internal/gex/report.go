package gex

import (
	"time"

	"github.com/google/uuid"
)

// Report bundles one aggregation pass for consumers (dashboard,
// notifier). It is immutable once built.
type Report struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	SpotPrice    float64   `json:"spot_price"`
	Source       string    `json:"source"`
	GeneratedAt  time.Time `json:"generated_at"`
	Surface      Surface   `json:"surface"`
	GEXByStrike  Series    `json:"gex_by_strike"`
	NetContracts Series    `json:"net_contracts_by_strike"`
}

// NewReport assembles a report from one engine pass.
func NewReport(symbol string, spot float64, source string, surface Surface, gexByStrike, netContracts Series) *Report {
	return &Report{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		SpotPrice:    spot,
		Source:       source,
		GeneratedAt:  time.Now().UTC(),
		Surface:      surface,
		GEXByStrike:  gexByStrike,
		NetContracts: netContracts,
	}
}
