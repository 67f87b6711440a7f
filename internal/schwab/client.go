// Package schwab provides a headless Schwab API client that manages the
// OAuth token lifecycle directly over HTTP, with no interactive step.
package schwab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dellyyty/gex-tool/internal/logger"
)

const (
	defaultBaseURL  = "https://api.schwabapi.com"
	defaultTokenURL = "https://api.schwabapi.com/v1/oauth/token"

	// Tokens are renewed this long before the server-declared expiry to
	// absorb clock skew and request latency.
	expirySafetyMargin = 60 * time.Second

	// Lifetime assumed when the token endpoint omits expires_in.
	defaultTokenLifetime = 1800 * time.Second
)

// ErrNotConfigured reports absent or placeholder credentials. This is an
// operator problem distinct from a failed renewal: credentials must be
// supplied out of band before the client can be constructed.
var ErrNotConfigured = errors.New("schwab credentials not configured: set app key, app secret and refresh token")

// RenewalError reports a non-success response from the token endpoint.
// The usual cause is a refresh token past its 7-day inactivity limit,
// which cannot be fixed automatically: the operator must re-authenticate
// and supply a fresh refresh token.
type RenewalError struct {
	StatusCode int
	Body       string
}

func (e *RenewalError) Error() string {
	return fmt.Sprintf("schwab token renewal failed (HTTP %d): %s; the refresh token may have expired (7-day limit), re-authenticate and update it",
		e.StatusCode, strings.TrimSpace(e.Body))
}

// TokenUpdate is a snapshot of credentials after a successful renewal,
// handed to the persistence callback.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	Scope        string
	IDToken      string
	IssuedAt     time.Time
}

// Client owns the bearer credential lifecycle: initial acquisition from
// the refresh token, expiry tracking, lazy thread-safe renewal, and
// authenticated request dispatch. It does not parse domain responses;
// callers interpret the raw *http.Response.
type Client struct {
	appKey    string
	appSecret string

	// mu guards the whole check-expiry/renew/update sequence, not just
	// the HTTP call, so concurrent callers observing an expired token
	// trigger exactly one renewal.
	mu           sync.Mutex
	refreshToken string
	accessToken  string
	tokenExpiry  time.Time

	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	tokenURL   string

	// onTokenUpdate, when set, receives every successful renewal so the
	// operator side can persist rotated refresh tokens. Best effort; it
	// must not call back into the client.
	onTokenUpdate func(TokenUpdate)
}

// Option customizes client construction.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTokenURL overrides the token endpoint (tests).
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

// WithAccessToken seeds an already-valid bearer token, e.g. from the
// local token cache, so construction can skip the initial renewal while
// the token is still fresh.
func WithAccessToken(token string, expiry time.Time) Option {
	return func(c *Client) {
		c.accessToken = token
		c.tokenExpiry = expiry
	}
}

// WithTokenUpdateFunc registers a persistence callback for renewals.
func WithTokenUpdateFunc(fn func(TokenUpdate)) Option {
	return func(c *Client) { c.onTokenUpdate = fn }
}

// WithRateLimit caps outbound request throughput. Schwab enforces 120
// requests per minute per account.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// NewClient constructs a client and performs one synchronous renewal
// unless a still-valid token was seeded. Construction fails entirely on
// renewal failure; there is no partially constructed client.
func NewClient(ctx context.Context, appKey, appSecret, refreshToken string, timeout time.Duration, opts ...Option) (*Client, error) {
	if isPlaceholder(appKey) || isPlaceholder(appSecret) || isPlaceholder(refreshToken) {
		return nil, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		appKey:       appKey,
		appSecret:    appSecret,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" || !time.Now().Before(c.tokenExpiry) {
		if err := c.renewLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// isPlaceholder rejects empty values and the obvious template strings
// people leave in config files.
func isPlaceholder(v string) bool {
	if v == "" {
		return true
	}
	lower := strings.ToLower(v)
	return strings.ContainsAny(v, "<>") ||
		strings.Contains(lower, "your_app") ||
		strings.Contains(lower, "replace_me") ||
		strings.Contains(lower, "changeme")
}

func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.appKey + ":" + c.appSecret))
}

// ensureToken renews the bearer token when the stored expiry has passed.
// The whole sequence runs under the mutex so exactly one renewal happens
// no matter how many callers discover the expiry concurrently.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.tokenExpiry) {
		return nil
	}
	return c.renewLocked(ctx)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// renewLocked exchanges the refresh token for a fresh bearer token.
// Callers must hold c.mu. On any failure the stored token state is left
// untouched.
func (c *Client) renewLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("Token renewal rejected: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return &RenewalError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	lifetime := defaultTokenLifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	}

	now := time.Now()
	c.accessToken = tok.AccessToken
	c.tokenExpiry = now.Add(lifetime - expirySafetyMargin)
	if tok.RefreshToken != "" {
		// Server rotated the refresh token; the old one may already be
		// invalidated.
		c.refreshToken = tok.RefreshToken
	}
	logger.Info("Access token renewed, valid until %s", c.tokenExpiry.Format(time.RFC3339))

	if c.onTokenUpdate != nil {
		c.onTokenUpdate(TokenUpdate{
			AccessToken:  tok.AccessToken,
			RefreshToken: c.refreshToken,
			ExpiresIn:    int64(lifetime / time.Second),
			TokenType:    tok.TokenType,
			Scope:        tok.Scope,
			IDToken:      tok.IDToken,
			IssuedAt:     now,
		})
	}
	return nil
}

// do ensures a valid token, then dispatches an authenticated GET and
// returns the raw response. Transport failures propagate untouched; no
// retry beyond the implicit renew-before-call.
func (c *Client) do(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// Quote fetches the raw quote response for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*http.Response, error) {
	return c.do(ctx, "/marketdata/v1/"+url.PathEscape(symbol)+"/quotes", nil)
}

// ChainParams narrows an option chain request.
type ChainParams struct {
	Symbol                 string
	ContractType           string
	StrikeCount            int
	IncludeUnderlyingQuote bool
	FromDate               time.Time
	ToDate                 time.Time
}

// OptionChain fetches the raw option chain response.
func (c *Client) OptionChain(ctx context.Context, p ChainParams) (*http.Response, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	if p.ContractType != "" {
		params.Set("contractType", p.ContractType)
	}
	if p.StrikeCount > 0 {
		params.Set("strikeCount", fmt.Sprintf("%d", p.StrikeCount))
	}
	if p.IncludeUnderlyingQuote {
		params.Set("includeUnderlyingQuote", "true")
	}
	if !p.FromDate.IsZero() {
		params.Set("fromDate", p.FromDate.Format("2006-01-02"))
	}
	if !p.ToDate.IsZero() {
		params.Set("toDate", p.ToDate.Format("2006-01-02"))
	}
	return c.do(ctx, "/marketdata/v1/chains", params)
}
