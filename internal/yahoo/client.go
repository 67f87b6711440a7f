// Package yahoo fetches SPX option chains from the free Yahoo Finance
// endpoint and backfills Greeks via Black-Scholes. No API key needed;
// lower fidelity than the brokerage path.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/Dellyyty/gex-tool/internal/logger"
	"github.com/Dellyyty/gex-tool/internal/models"
)

const defaultBaseURL = "https://query2.finance.yahoo.com"

// Client fetches option chains for one underlying.
type Client struct {
	httpClient *http.Client
	baseURL    string
	symbol     string
	maxDTE     int
	// now is injectable for tests; DTE arithmetic depends on it.
	now func() time.Time
}

// Option customizes client construction.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Yahoo Finance chain client. symbol is the Yahoo
// ticker, e.g. "^SPX".
func NewClient(symbol string, maxDTE int, timeout time.Duration, opts ...Option) *Client {
	if maxDTE <= 0 {
		maxDTE = 65
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		symbol:     symbol,
		maxDTE:     maxDTE,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type optionQuote struct {
	Strike            float64 `json:"strike"`
	OpenInterest      int64   `json:"openInterest"`
	Volume            int64   `json:"volume"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			Quote struct {
				RegularMarketPrice         float64 `json:"regularMarketPrice"`
				RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
			} `json:"quote"`
			ExpirationDates []int64 `json:"expirationDates"`
			Options         []struct {
				ExpirationDate int64         `json:"expirationDate"`
				Calls          []optionQuote `json:"calls"`
				Puts           []optionQuote `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"optionChain"`
}

// Fetch retrieves the chain across all expirations within the DTE
// window and backfills Greeks. One request lists expirations and the
// spot; one more request per expiration pulls its contracts.
func (c *Client) Fetch(ctx context.Context) (*models.Chain, error) {
	first, err := c.fetchExpiration(ctx, 0)
	if err != nil {
		return nil, err
	}

	// Ordered spot fallback: live price, then previous close.
	spot := first.Quote.RegularMarketPrice
	if spot == 0 {
		spot = first.Quote.RegularMarketPreviousClose
	}
	if spot == 0 {
		return nil, fmt.Errorf("yahoo returned no usable price for %s", c.symbol)
	}

	today := c.now().Truncate(24 * time.Hour)
	maxDate := today.AddDate(0, 0, c.maxDTE)

	var contracts []models.Contract
	for _, expUnix := range first.ExpirationDates {
		expDate := time.Unix(expUnix, 0).UTC().Truncate(24 * time.Hour)
		if expDate.Before(today) || expDate.After(maxDate) {
			continue
		}
		result, err := c.fetchExpiration(ctx, expUnix)
		if err != nil {
			// One bad expiration should not sink the whole chain.
			logger.Warn("Skipping expiration %s: %v", expDate.Format(models.ExpirationLayout), err)
			continue
		}
		for _, opt := range result.Options {
			dte := int(expDate.Sub(today).Hours() / 24)
			contracts = append(contracts, mergeExpiration(opt.Calls, opt.Puts, expDate, dte, spot)...)
		}
	}

	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Strike != contracts[j].Strike {
			return contracts[i].Strike > contracts[j].Strike
		}
		return contracts[i].Expiration.Before(contracts[j].Expiration)
	})

	return &models.Chain{
		Symbol:    c.symbol,
		SpotPrice: spot,
		Source:    models.SourceYahoo,
		FetchedAt: c.now(),
		Contracts: contracts,
	}, nil
}

type expirationResult struct {
	Quote struct {
		RegularMarketPrice         float64
		RegularMarketPreviousClose float64
	}
	ExpirationDates []int64
	Options         []struct {
		ExpirationDate int64
		Calls          []optionQuote
		Puts           []optionQuote
	}
}

func (c *Client) fetchExpiration(ctx context.Context, dateUnix int64) (*expirationResult, error) {
	u := c.baseURL + "/v7/finance/options/" + url.PathEscape(c.symbol)
	if dateUnix > 0 {
		u += fmt.Sprintf("?date=%d", dateUnix)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; gextool)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yahoo request failed (HTTP %d)", resp.StatusCode)
	}

	var or optionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("failed to decode yahoo response: %w", err)
	}
	if or.OptionChain.Error != nil {
		return nil, fmt.Errorf("yahoo error: %s", or.OptionChain.Error.Description)
	}
	if len(or.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("yahoo response carries no result for %s", c.symbol)
	}

	r := or.OptionChain.Result[0]
	out := &expirationResult{ExpirationDates: r.ExpirationDates}
	out.Quote.RegularMarketPrice = r.Quote.RegularMarketPrice
	out.Quote.RegularMarketPreviousClose = r.Quote.RegularMarketPreviousClose
	for _, o := range r.Options {
		out.Options = append(out.Options, struct {
			ExpirationDate int64
			Calls          []optionQuote
			Puts           []optionQuote
		}{o.ExpirationDate, o.Calls, o.Puts})
	}
	return out, nil
}

// mergeExpiration joins call and put quotes per strike into merged
// contracts with Black-Scholes Greeks, zero-filling missing sides.
func mergeExpiration(calls, puts []optionQuote, expDate time.Time, dte int, spot float64) []models.Contract {
	byStrike := make(map[float64]*models.Contract)
	t := yearsToExpiry(dte)

	get := func(strike float64) *models.Contract {
		c, ok := byStrike[strike]
		if !ok {
			c = &models.Contract{Strike: strike, Expiration: expDate, DTE: dte}
			byStrike[strike] = c
		}
		return c
	}

	for _, q := range calls {
		if q.Strike <= 0 {
			continue
		}
		c := get(q.Strike)
		c.CallOI = maxInt64(q.OpenInterest, 0)
		c.CallVolume = maxInt64(q.Volume, 0)
		if q.ImpliedVolatility > 0 {
			c.CallGamma = bsGamma(spot, q.Strike, t, q.ImpliedVolatility)
			c.CallDelta = bsDelta(spot, q.Strike, t, q.ImpliedVolatility, true)
		}
	}
	for _, q := range puts {
		if q.Strike <= 0 {
			continue
		}
		c := get(q.Strike)
		c.PutOI = maxInt64(q.OpenInterest, 0)
		c.PutVolume = maxInt64(q.Volume, 0)
		if q.ImpliedVolatility > 0 {
			c.PutGamma = bsGamma(spot, q.Strike, t, q.ImpliedVolatility)
			c.PutDelta = bsDelta(spot, q.Strike, t, q.ImpliedVolatility, false)
		}
	}

	out := make([]models.Contract, 0, len(byStrike))
	for _, c := range byStrike {
		out = append(out, *c)
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
