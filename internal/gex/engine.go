// Package gex computes dealer gamma exposure surfaces from normalized
// option chains.
//
// Sign convention (dealer perspective): call exposure is positive because
// dealers short calls buy as price rises, stabilizing spot; put exposure
// is negated because dealers short puts sell as price falls. Dropping the
// put negation silently inverts the downside-target/upside-magnet
// semantics, so it is pinned by tests.
package gex

import (
	"sort"

	"github.com/Dellyyty/gex-tool/internal/models"
)

// DefaultContractMultiplier is shares per option contract. Kept
// configurable because underlyings with non-standard multipliers are a
// real operational scenario.
const DefaultContractMultiplier = 100

// Config controls surface shape and the exposure arithmetic.
type Config struct {
	// AggregateDTE bounds the synthetic near-term aggregate column:
	// every expiration with DTE <= AggregateDTE contributes, whether or
	// not it gets its own display column.
	AggregateDTE int
	// ExpiryColumns is the number of nearest distinct expirations that
	// get individual columns.
	ExpiryColumns int
	// ContractMultiplier is shares per contract.
	ContractMultiplier float64
}

// DefaultConfig returns the standard SPX setup.
func DefaultConfig() Config {
	return Config{
		AggregateDTE:       30,
		ExpiryColumns:      5,
		ContractMultiplier: DefaultContractMultiplier,
	}
}

// Engine aggregates contracts into exposure surfaces. It is stateless
// and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine, substituting defaults for non-positive config
// values.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.AggregateDTE <= 0 {
		cfg.AggregateDTE = def.AggregateDTE
	}
	if cfg.ExpiryColumns <= 0 {
		cfg.ExpiryColumns = def.ExpiryColumns
	}
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = def.ContractMultiplier
	}
	return &Engine{cfg: cfg}
}

// Point is one strike's value in a per-strike series.
type Point struct {
	Strike float64 `json:"strike"`
	Value  float64 `json:"value"`
}

// Series is a per-strike mapping ordered by strike descending.
type Series []Point

// Value returns the series value at strike, zero when absent.
func (s Series) Value(strike float64) float64 {
	for _, p := range s {
		if p.Strike == strike {
			return p.Value
		}
	}
	return 0
}

// Row is one strike ladder row of the exposure surface. ByExpiration is
// aligned index-for-index with Surface.Expirations; cells with no
// matching contract hold zero, never a sentinel.
type Row struct {
	Strike       float64   `json:"strike"`
	ByExpiration []float64 `json:"by_expiration"`
	Aggregate    float64   `json:"aggregate"`
	NetContracts float64   `json:"net_contracts"`
}

// Surface is the strike x expiration exposure table. Rows are sorted by
// strike descending (highest strike first, matching a top-down ladder).
type Surface struct {
	// Expirations are the displayed column keys, chronologically
	// ascending, at most Config.ExpiryColumns entries.
	Expirations []string `json:"expirations"`
	// AggregateDTE is the DTE bound of the aggregate column, carried so
	// renderers can label it ("0-30 DTE").
	AggregateDTE int   `json:"aggregate_dte"`
	Rows         []Row `json:"rows"`
}

// Empty reports whether the surface has no rows.
func (s *Surface) Empty() bool {
	return len(s.Rows) == 0
}

// Aggregate transforms a normalized chain into the exposure surface plus
// the two per-strike series (total net exposure, net open interest).
//
// spot is advisory only: callers use it to pick a reference row, the
// arithmetic never touches it. Empty input yields empty outputs, not an
// error. Duplicate (strike, expiration) records are summed defensively
// even though the merge invariant upstream should prevent them.
func (e *Engine) Aggregate(contracts []models.Contract, spot float64) (Surface, Series, Series) {
	surface := Surface{AggregateDTE: e.cfg.AggregateDTE}
	if len(contracts) == 0 {
		return surface, Series{}, Series{}
	}

	type cellKey struct {
		strike float64
		exp    string
	}

	pivot := make(map[cellKey]float64)
	aggregate := make(map[float64]float64)
	totalGEX := make(map[float64]float64)
	netOI := make(map[float64]float64)
	expSet := make(map[string]struct{})
	strikeSet := make(map[float64]struct{})

	for i := range contracts {
		c := &contracts[i]
		callGEX := float64(c.CallOI) * c.CallGamma * e.cfg.ContractMultiplier
		putGEX := -(float64(c.PutOI) * c.PutGamma * e.cfg.ContractMultiplier)
		netGEX := callGEX + putGEX
		netContracts := float64(c.CallOI - c.PutOI)

		exp := c.ExpirationKey()
		expSet[exp] = struct{}{}
		strikeSet[c.Strike] = struct{}{}

		pivot[cellKey{c.Strike, exp}] += netGEX
		totalGEX[c.Strike] += netGEX
		netOI[c.Strike] += netContracts
		if c.DTE <= e.cfg.AggregateDTE {
			aggregate[c.Strike] += netGEX
		}
	}

	// Displayed columns: the N nearest distinct expirations. Later
	// expirations still contribute to the aggregate column and to the
	// per-strike series above.
	expirations := make([]string, 0, len(expSet))
	for exp := range expSet {
		expirations = append(expirations, exp)
	}
	sort.Strings(expirations)
	if len(expirations) > e.cfg.ExpiryColumns {
		expirations = expirations[:e.cfg.ExpiryColumns]
	}
	surface.Expirations = expirations

	strikes := make([]float64, 0, len(strikeSet))
	for strike := range strikeSet {
		strikes = append(strikes, strike)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(strikes)))

	surface.Rows = make([]Row, 0, len(strikes))
	gexByStrike := make(Series, 0, len(strikes))
	netContractsByStrike := make(Series, 0, len(strikes))
	for _, strike := range strikes {
		row := Row{
			Strike:       strike,
			ByExpiration: make([]float64, len(expirations)),
			Aggregate:    aggregate[strike],
			NetContracts: netOI[strike],
		}
		for i, exp := range expirations {
			row.ByExpiration[i] = pivot[cellKey{strike, exp}]
		}
		surface.Rows = append(surface.Rows, row)
		gexByStrike = append(gexByStrike, Point{Strike: strike, Value: totalGEX[strike]})
		netContractsByStrike = append(netContractsByStrike, Point{Strike: strike, Value: netOI[strike]})
	}

	return surface, gexByStrike, netContractsByStrike
}
