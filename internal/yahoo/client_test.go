package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// chainServer simulates the Yahoo options endpoint: the bare request
// lists expirations, date-scoped requests return that expiration's
// contracts.
func chainServer(t *testing.T, now time.Time) *httptest.Server {
	t.Helper()
	exp1 := now.AddDate(0, 0, 7).Truncate(24 * time.Hour).Unix()
	exp2 := now.AddDate(0, 0, 35).Truncate(24 * time.Hour).Unix()
	expFar := now.AddDate(0, 0, 120).Truncate(24 * time.Hour).Unix()

	contractsFor := func(exp int64) string {
		return fmt.Sprintf(`{
			"expirationDate": %d,
			"calls": [
				{"strike": 6900, "openInterest": 1200, "volume": 300, "impliedVolatility": 0.15},
				{"strike": 6950, "openInterest": 500, "volume": 100, "impliedVolatility": 0.14}
			],
			"puts": [
				{"strike": 6900, "openInterest": 800, "volume": 250, "impliedVolatility": 0.16}
			]
		}`, exp)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		date := r.URL.Query().Get("date")
		options := ""
		if date != "" {
			options = contractsFor(exp1)
		}
		fmt.Fprintf(w, `{
			"optionChain": {
				"result": [{
					"quote": {"regularMarketPrice": 6932.30, "regularMarketPreviousClose": 6920.00},
					"expirationDates": [%d, %d, %d],
					"options": [%s]
				}],
				"error": null
			}
		}`, exp1, exp2, expFar, options)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_FetchMergesAndBackfills(t *testing.T) {
	now := time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)
	ts := chainServer(t, now)
	c := NewClient("^SPX", 65, 5*time.Second, WithBaseURL(ts.URL), WithClock(func() time.Time { return now }))

	chain, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if chain.SpotPrice != 6932.30 {
		t.Errorf("spot = %v, want 6932.30", chain.SpotPrice)
	}
	if chain.Source != "yahoo" {
		t.Errorf("source = %q, want yahoo", chain.Source)
	}
	// Two in-window expirations, two strikes each (merged).
	if len(chain.Contracts) != 4 {
		t.Fatalf("got %d contracts, want 4", len(chain.Contracts))
	}

	var merged bool
	for _, c := range chain.Contracts {
		if c.Strike == 6900 {
			merged = true
			if c.CallOI != 1200 || c.PutOI != 800 {
				t.Errorf("OI = %d/%d, want 1200/800", c.CallOI, c.PutOI)
			}
			if c.CallGamma <= 0 || c.PutGamma <= 0 {
				t.Errorf("Greeks not backfilled: %v/%v", c.CallGamma, c.PutGamma)
			}
			if c.CallDelta <= 0 || c.PutDelta >= 0 {
				t.Errorf("delta signs wrong: call=%v put=%v", c.CallDelta, c.PutDelta)
			}
		}
		if c.Strike == 6950 {
			// Call-only strike: put side zero-filled.
			if c.PutOI != 0 || c.PutGamma != 0 {
				t.Errorf("missing put side must be zero: %+v", c)
			}
		}
	}
	if !merged {
		t.Fatal("6900 contract missing")
	}
}

func TestClient_FetchSkipsExpirationsBeyondWindow(t *testing.T) {
	now := time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)
	ts := chainServer(t, now)
	c := NewClient("^SPX", 65, 5*time.Second, WithBaseURL(ts.URL), WithClock(func() time.Time { return now }))

	chain, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	maxDTE := 0
	for _, c := range chain.Contracts {
		if c.DTE > maxDTE {
			maxDTE = c.DTE
		}
	}
	if maxDTE > 65 {
		t.Errorf("contract beyond 65 DTE window: %d", maxDTE)
	}
}

func TestClient_FetchErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"optionChain": {"result": [], "error": {"code": "Not Found", "description": "No data found"}}}`)
	}))
	t.Cleanup(ts.Close)

	c := NewClient("^SPX", 65, 5*time.Second, WithBaseURL(ts.URL))
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for yahoo error payload")
	}
}

func TestClient_FetchSpotFallbackToPreviousClose(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"optionChain": {
				"result": [{
					"quote": {"regularMarketPrice": 0, "regularMarketPreviousClose": 6920.00},
					"expirationDates": [],
					"options": []
				}]
			}
		}`)
	}))
	t.Cleanup(ts.Close)

	c := NewClient("^SPX", 65, 5*time.Second, WithBaseURL(ts.URL))
	chain, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if chain.SpotPrice != 6920.00 {
		t.Errorf("spot = %v, want previous close 6920.00", chain.SpotPrice)
	}
	if !chain.Empty() {
		t.Error("chain should be empty with no expirations")
	}
}
