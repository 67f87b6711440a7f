package gex

import (
	"math"
	"testing"
	"time"

	"github.com/Dellyyty/gex-tool/internal/models"
)

var testDay = time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

// expiry returns an expiration date dte days out from the fixed test day.
func expiry(dte int) time.Time {
	return testDay.AddDate(0, 0, dte)
}

func contract(strike float64, dte int, callOI, putOI int64, callGamma, putGamma float64) models.Contract {
	return models.Contract{
		Strike:     strike,
		Expiration: expiry(dte),
		DTE:        dte,
		CallOI:     callOI,
		PutOI:      putOI,
		CallGamma:  callGamma,
		PutGamma:   putGamma,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregate_CallSignInvariant(t *testing.T) {
	// Call-only exposure: net = call_OI * call_gamma * 100, strictly
	// positive for positive OI.
	e := New(DefaultConfig())
	contracts := []models.Contract{contract(6900, 5, 1200, 0, 0.002, 0)}

	_, gexByStrike, _ := e.Aggregate(contracts, 6900)
	want := 1200 * 0.002 * 100
	if got := gexByStrike.Value(6900); !almostEqual(got, want) {
		t.Errorf("call exposure = %v, want %v", got, want)
	}
	if gexByStrike.Value(6900) <= 0 {
		t.Error("call-only exposure must be strictly positive")
	}
}

func TestAggregate_PutSignInvariant(t *testing.T) {
	// Put-only exposure carries the dealer hedging negation:
	// net = -(put_OI * put_gamma * 100).
	e := New(DefaultConfig())
	contracts := []models.Contract{contract(6900, 5, 0, 800, 0, 0.0015)}

	_, gexByStrike, _ := e.Aggregate(contracts, 6900)
	want := -(800 * 0.0015 * 100)
	if got := gexByStrike.Value(6900); !almostEqual(got, want) {
		t.Errorf("put exposure = %v, want %v", got, want)
	}
	if gexByStrike.Value(6900) >= 0 {
		t.Error("put-only exposure must be strictly negative")
	}
}

func TestAggregate_NetExposureCombinesSides(t *testing.T) {
	e := New(DefaultConfig())
	contracts := []models.Contract{contract(6900, 5, 1000, 400, 0.002, 0.003)}

	_, gexByStrike, _ := e.Aggregate(contracts, 6900)
	want := 1000*0.002*100 - 400*0.003*100
	if got := gexByStrike.Value(6900); !almostEqual(got, want) {
		t.Errorf("net exposure = %v, want %v", got, want)
	}
}

func TestAggregate_ContractMultiplier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContractMultiplier = 10 // mini contracts
	e := New(cfg)
	contracts := []models.Contract{contract(6900, 5, 100, 0, 0.002, 0)}

	_, gexByStrike, _ := e.Aggregate(contracts, 6900)
	want := 100 * 0.002 * 10
	if got := gexByStrike.Value(6900); !almostEqual(got, want) {
		t.Errorf("exposure with multiplier 10 = %v, want %v", got, want)
	}
}

func TestAggregate_AggregateColumnCompleteness(t *testing.T) {
	// DTE 5 and 10 fall inside the 30-day window, DTE 45 does not. The
	// aggregate column must include exactly the first two regardless of
	// which expirations are displayed.
	e := New(DefaultConfig())
	contracts := []models.Contract{
		contract(6900, 5, 100, 0, 0.002, 0),
		contract(6900, 10, 200, 0, 0.001, 0),
		contract(6900, 45, 5000, 0, 0.004, 0),
	}

	surface, _, _ := e.Aggregate(contracts, 6900)
	want := 100*0.002*100 + 200*0.001*100
	if got := surface.Rows[0].Aggregate; !almostEqual(got, want) {
		t.Errorf("aggregate column = %v, want %v (DTE 45 must be excluded)", got, want)
	}
}

func TestAggregate_AggregateIncludesUndisplayedExpirations(t *testing.T) {
	// With one display column, the DTE 10 expiration gets no column of
	// its own but still contributes to the aggregate and the series.
	cfg := DefaultConfig()
	cfg.ExpiryColumns = 1
	e := New(cfg)
	contracts := []models.Contract{
		contract(6900, 5, 100, 0, 0.002, 0),
		contract(6900, 10, 200, 0, 0.001, 0),
	}

	surface, gexByStrike, _ := e.Aggregate(contracts, 6900)
	if len(surface.Expirations) != 1 {
		t.Fatalf("got %d display columns, want 1", len(surface.Expirations))
	}
	wantAgg := 100*0.002*100 + 200*0.001*100
	if got := surface.Rows[0].Aggregate; !almostEqual(got, wantAgg) {
		t.Errorf("aggregate = %v, want %v", got, wantAgg)
	}
	if got := gexByStrike.Value(6900); !almostEqual(got, wantAgg) {
		t.Errorf("series = %v, want %v", got, wantAgg)
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	e := New(DefaultConfig())
	surface, gexByStrike, netContracts := e.Aggregate(nil, 6900)
	if !surface.Empty() {
		t.Error("surface should be empty for empty input")
	}
	if len(gexByStrike) != 0 || len(netContracts) != 0 {
		t.Error("series should be empty for empty input")
	}
}

func TestAggregate_ColumnRestriction(t *testing.T) {
	// 8 distinct expirations, 5 display columns: exactly the 5 nearest
	// get columns; the rest still contribute to aggregate and series.
	e := New(DefaultConfig())
	var contracts []models.Contract
	dtes := []int{1, 3, 7, 14, 21, 28, 45, 60}
	for _, dte := range dtes {
		contracts = append(contracts, contract(6900, dte, 100, 0, 0.001, 0))
	}

	surface, gexByStrike, _ := e.Aggregate(contracts, 6900)
	if len(surface.Expirations) != 5 {
		t.Fatalf("got %d display columns, want 5", len(surface.Expirations))
	}
	for i, dte := range dtes[:5] {
		want := expiry(dte).Format(models.ExpirationLayout)
		if surface.Expirations[i] != want {
			t.Errorf("column %d = %s, want %s", i, surface.Expirations[i], want)
		}
	}

	perRecord := 100 * 0.001 * 100
	// Aggregate: DTE <= 30 covers the first six expirations.
	if got := surface.Rows[0].Aggregate; !almostEqual(got, 6*perRecord) {
		t.Errorf("aggregate = %v, want %v", got, 6*perRecord)
	}
	// Series: all eight expirations.
	if got := gexByStrike.Value(6900); !almostEqual(got, 8*perRecord) {
		t.Errorf("series = %v, want %v", got, 8*perRecord)
	}
}

func TestAggregate_NetOpenInterest(t *testing.T) {
	// call OI 100, put OI 40 split across two expirations: 60/40 calls,
	// 40/0 puts. Net OI per strike = 60.
	e := New(DefaultConfig())
	contracts := []models.Contract{
		contract(6900, 5, 60, 40, 0.001, 0.001),
		contract(6900, 10, 40, 0, 0.001, 0),
	}

	surface, _, netContracts := e.Aggregate(contracts, 6900)
	if got := netContracts.Value(6900); !almostEqual(got, 60) {
		t.Errorf("net OI = %v, want 60", got)
	}
	if got := surface.Rows[0].NetContracts; !almostEqual(got, 60) {
		t.Errorf("net OI column = %v, want 60", got)
	}
}

func TestAggregate_StrikesDescending(t *testing.T) {
	e := New(DefaultConfig())
	contracts := []models.Contract{
		contract(6800, 5, 10, 0, 0.001, 0),
		contract(7000, 5, 10, 0, 0.001, 0),
		contract(6900, 5, 10, 0, 0.001, 0),
	}

	surface, gexByStrike, netContracts := e.Aggregate(contracts, 6900)
	wantOrder := []float64{7000, 6900, 6800}
	for i, want := range wantOrder {
		if surface.Rows[i].Strike != want {
			t.Errorf("row %d strike = %v, want %v", i, surface.Rows[i].Strike, want)
		}
		if gexByStrike[i].Strike != want {
			t.Errorf("gex series %d strike = %v, want %v", i, gexByStrike[i].Strike, want)
		}
		if netContracts[i].Strike != want {
			t.Errorf("oi series %d strike = %v, want %v", i, netContracts[i].Strike, want)
		}
	}
}

func TestAggregate_MissingCellsAreZero(t *testing.T) {
	// A strike present only in one expiration still appears as a full
	// row with zeros elsewhere.
	e := New(DefaultConfig())
	contracts := []models.Contract{
		contract(6900, 5, 10, 0, 0.001, 0),
		contract(6800, 10, 10, 0, 0.001, 0),
	}

	surface, _, _ := e.Aggregate(contracts, 6900)
	if len(surface.Rows) != 2 || len(surface.Expirations) != 2 {
		t.Fatalf("got %d rows x %d columns, want 2x2", len(surface.Rows), len(surface.Expirations))
	}
	// 6900 has no DTE-10 entry, 6800 no DTE-5 entry.
	if got := surface.Rows[0].ByExpiration[1]; got != 0 {
		t.Errorf("missing cell = %v, want 0", got)
	}
	if got := surface.Rows[1].ByExpiration[0]; got != 0 {
		t.Errorf("missing cell = %v, want 0", got)
	}
}

func TestAggregate_DuplicateRecordsSummed(t *testing.T) {
	// The merge invariant upstream should prevent duplicates, but the
	// engine tolerates and sums them.
	e := New(DefaultConfig())
	contracts := []models.Contract{
		contract(6900, 5, 100, 0, 0.001, 0),
		contract(6900, 5, 100, 0, 0.001, 0),
	}

	surface, _, _ := e.Aggregate(contracts, 6900)
	want := 2 * 100 * 0.001 * 100
	if got := surface.Rows[0].ByExpiration[0]; !almostEqual(got, want) {
		t.Errorf("duplicate cell = %v, want %v", got, want)
	}
}

func TestNew_DefaultsForZeroConfig(t *testing.T) {
	e := New(Config{})
	if e.cfg.AggregateDTE != 30 || e.cfg.ExpiryColumns != 5 || e.cfg.ContractMultiplier != 100 {
		t.Errorf("zero config not defaulted: %+v", e.cfg)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-"},
		{571200, "571.2k"},
		{-571200, "-571.2k"},
		{1_834_000, "1.8M"},
		{-2_500_000, "-2.5M"},
		{42, "42"},
		{-7, "-7"},
		{999, "999"},
		{1000, "1.0k"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestATMStrike(t *testing.T) {
	if got := ATMStrike(6932.30, 5); got != 6930 {
		t.Errorf("ATMStrike = %v, want 6930", got)
	}
	if got := ATMStrike(6932.50, 5); got != 6935 {
		t.Errorf("ATMStrike = %v, want 6935", got)
	}
}

func TestFilterStrikes(t *testing.T) {
	var contracts []models.Contract
	for strike := 6800.0; strike <= 7100; strike += 5 {
		contracts = append(contracts, contract(strike, 5, 10, 0, 0.001, 0))
	}

	filtered := FilterStrikes(contracts, 6932.30, 5, 4, 2)
	// ATM 6930, band [6920, 6950].
	if len(filtered) != 7 {
		t.Fatalf("got %d contracts, want 7", len(filtered))
	}
	for _, c := range filtered {
		if c.Strike < 6920 || c.Strike > 6950 {
			t.Errorf("strike %v outside band", c.Strike)
		}
	}
}

func TestFilterStrikes_ZeroSpotPassesThrough(t *testing.T) {
	contracts := []models.Contract{contract(6900, 5, 10, 0, 0.001, 0)}
	if got := FilterStrikes(contracts, 0, 5, 10, 10); len(got) != 1 {
		t.Error("zero spot must disable filtering, not drop contracts")
	}
}

func TestZeroGammaFlip(t *testing.T) {
	series := Series{
		{Strike: 7000, Value: 500},
		{Strike: 6950, Value: 200},
		{Strike: 6900, Value: -100},
		{Strike: 6850, Value: -400},
	}
	flip, ok := ZeroGammaFlip(series, 6930)
	if !ok {
		t.Fatal("expected a flip strike")
	}
	if flip != 6925 {
		t.Errorf("flip = %v, want 6925", flip)
	}
}

func TestZeroGammaFlip_NoSignChange(t *testing.T) {
	series := Series{
		{Strike: 7000, Value: 500},
		{Strike: 6950, Value: 200},
	}
	if _, ok := ZeroGammaFlip(series, 6930); ok {
		t.Error("no flip expected for single-sign series")
	}
}
