package schwab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/Dellyyty/gex-tool/internal/models"
)

// Fetcher pulls and normalizes option chains through an authenticated
// client. The client handles tokens and transport; the fetcher owns all
// response interpretation.
type Fetcher struct {
	client      *Client
	symbol      string
	maxDTE      int
	strikeCount int
}

// NewFetcher creates a chain fetcher for one underlying.
func NewFetcher(client *Client, symbol string, maxDTE, strikeCount int) *Fetcher {
	if maxDTE <= 0 {
		maxDTE = 65
	}
	if strikeCount <= 0 {
		strikeCount = 45
	}
	return &Fetcher{client: client, symbol: symbol, maxDTE: maxDTE, strikeCount: strikeCount}
}

// chainContract is one leg in the Schwab exp-date maps. Bad Greeks come
// back as -999 sentinels, handled in sanitizeGreek.
type chainContract struct {
	StrikePrice      float64  `json:"strikePrice"`
	DaysToExpiration *int     `json:"daysToExpiration"`
	OpenInterest     int64    `json:"openInterest"`
	Gamma            float64  `json:"gamma"`
	Delta            float64  `json:"delta"`
	TotalVolume      int64    `json:"totalVolume"`
}

type chainResponse struct {
	Symbol          string  `json:"symbol"`
	UnderlyingPrice float64 `json:"underlyingPrice"`
	Underlying      struct {
		Last  float64 `json:"last"`
		Mark  float64 `json:"mark"`
		Close float64 `json:"close"`
	} `json:"underlying"`
	// Keys are "YYYY-MM-DD:DTE"; inner keys are strike strings.
	CallExpDateMap map[string]map[string][]chainContract `json:"callExpDateMap"`
	PutExpDateMap  map[string]map[string][]chainContract `json:"putExpDateMap"`
}

// Fetch retrieves the chain, merges call and put legs per (strike,
// expiration), and zero-fills missing sides.
func (f *Fetcher) Fetch(ctx context.Context) (*models.Chain, error) {
	now := time.Now()
	resp, err := f.client.OptionChain(ctx, ChainParams{
		Symbol:                 f.symbol,
		ContractType:           "ALL",
		StrikeCount:            f.strikeCount,
		IncludeUnderlyingQuote: true,
		FromDate:               now,
		ToDate:                 now.AddDate(0, 0, f.maxDTE),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("schwab chain request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr chainResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("failed to decode chain response: %w", err)
	}

	spot := cr.UnderlyingPrice
	// Ordered fallbacks when the top-level field is absent or zero.
	if spot == 0 {
		for _, v := range []float64{cr.Underlying.Last, cr.Underlying.Mark, cr.Underlying.Close} {
			if v != 0 {
				spot = v
				break
			}
		}
	}

	merged := make(map[mergeKey]*models.Contract)
	mergeExpDateMap(merged, cr.CallExpDateMap, true)
	mergeExpDateMap(merged, cr.PutExpDateMap, false)

	contracts := make([]models.Contract, 0, len(merged))
	for _, c := range merged {
		contracts = append(contracts, *c)
	}
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Strike != contracts[j].Strike {
			return contracts[i].Strike > contracts[j].Strike
		}
		return contracts[i].Expiration.Before(contracts[j].Expiration)
	})

	return &models.Chain{
		Symbol:    f.symbol,
		SpotPrice: spot,
		Source:    models.SourceSchwab,
		FetchedAt: now,
		Contracts: contracts,
	}, nil
}

type mergeKey struct {
	strike float64
	exp    string
}

// mergeExpDateMap folds one side of the chain into the merge map. The
// outer key carries the expiration date and DTE ("2026-09-18:22"); the
// per-contract daysToExpiration wins when present.
func mergeExpDateMap(merged map[mergeKey]*models.Contract, expDateMap map[string]map[string][]chainContract, call bool) {
	for expKey, strikes := range expDateMap {
		expDate, keyDTE, err := parseExpKey(expKey)
		if err != nil {
			continue
		}
		for strikeKey, legs := range strikes {
			for _, leg := range legs {
				strike := leg.StrikePrice
				if strike == 0 {
					strike, _ = strconv.ParseFloat(strikeKey, 64)
				}
				if strike <= 0 {
					continue
				}
				dte := keyDTE
				if leg.DaysToExpiration != nil && *leg.DaysToExpiration >= 0 {
					dte = *leg.DaysToExpiration
				}

				key := mergeKey{strike, expDate.Format(models.ExpirationLayout)}
				c, ok := merged[key]
				if !ok {
					c = &models.Contract{Strike: strike, Expiration: expDate, DTE: dte}
					merged[key] = c
				}
				if call {
					c.CallOI += maxInt64(leg.OpenInterest, 0)
					c.CallGamma = sanitizeGreek(leg.Gamma)
					c.CallDelta = sanitizeDelta(leg.Delta)
					c.CallVolume += maxInt64(leg.TotalVolume, 0)
				} else {
					c.PutOI += maxInt64(leg.OpenInterest, 0)
					c.PutGamma = sanitizeGreek(leg.Gamma)
					c.PutDelta = sanitizeDelta(leg.Delta)
					c.PutVolume += maxInt64(leg.TotalVolume, 0)
				}
			}
		}
	}
}

// parseExpKey splits the "YYYY-MM-DD:DTE" map key.
func parseExpKey(key string) (time.Time, int, error) {
	datePart, dtePart, found := strings.Cut(key, ":")
	expDate, err := time.Parse(models.ExpirationLayout, datePart)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("bad expiration key %q: %w", key, err)
	}
	dte := 0
	if found {
		if n, err := strconv.Atoi(dtePart); err == nil && n >= 0 {
			dte = n
		}
	}
	return expDate, dte, nil
}

// sanitizeGreek drops the -999 error sentinel and NaN the API emits for
// unpriceable legs.
func sanitizeGreek(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func sanitizeDelta(v float64) float64 {
	if math.IsNaN(v) || v < -1 || v > 1 {
		return 0
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SpotPrice fetches the current underlying price from the quote
// endpoint. The response shape varies by symbol type (indexes nest the
// quote under the symbol, equities may not), so the price is probed
// through an ordered fallback list: quote.lastPrice, quote.last,
// quote.mark, then the same fields at the symbol level.
func (f *Fetcher) SpotPrice(ctx context.Context) (float64, error) {
	resp, err := f.client.Quote(ctx, f.symbol)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("schwab quote request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	v, err := fastjson.ParseBytes(body)
	if err != nil {
		return 0, fmt.Errorf("failed to parse quote response: %w", err)
	}

	symbolVal := v.Get(f.symbol)
	if symbolVal == nil {
		return 0, fmt.Errorf("quote response missing symbol %q", f.symbol)
	}
	candidates := []*fastjson.Value{symbolVal.Get("quote"), symbolVal}
	fields := []string{"lastPrice", "last", "mark"}
	for _, obj := range candidates {
		if obj == nil {
			continue
		}
		for _, field := range fields {
			if fv := obj.Get(field); fv != nil {
				if price := fv.GetFloat64(); price > 0 {
					return price, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("quote response for %q carries no usable price", f.symbol)
}
