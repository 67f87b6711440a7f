// Package models defines the core domain entities: option contracts and chains.
package models

import (
	"errors"
	"time"
)

// ExpirationLayout is the canonical day-granularity format used to key
// expiration columns and to compare expirations across data sources.
const ExpirationLayout = "2006-01-02"

// Contract is one merged chain row per (strike, expiration) pair.
// When a side (call or put) is missing at the source, its fields are
// zero rather than absent, so downstream arithmetic never needs
// nil-checks.
type Contract struct {
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	DTE        int       `json:"dte"`

	CallOI     int64   `json:"call_oi"`
	PutOI      int64   `json:"put_oi"`
	CallGamma  float64 `json:"call_gamma"`
	PutGamma   float64 `json:"put_gamma"`
	CallDelta  float64 `json:"call_delta"`
	PutDelta   float64 `json:"put_delta"`
	CallVolume int64   `json:"call_volume"`
	PutVolume  int64   `json:"put_volume"`
}

// ExpirationKey returns the expiration as a day-granularity string.
func (c *Contract) ExpirationKey() string {
	return c.Expiration.Format(ExpirationLayout)
}

// Validate checks contract field constraints.
func (c *Contract) Validate() error {
	if c.Strike <= 0 {
		return errors.New("strike must be positive")
	}
	if c.Expiration.IsZero() {
		return errors.New("expiration must be set")
	}
	if c.DTE < 0 {
		return errors.New("days to expiration must not be negative")
	}
	if c.CallOI < 0 || c.PutOI < 0 {
		return errors.New("open interest must not be negative")
	}
	if c.CallGamma < 0 || c.PutGamma < 0 {
		return errors.New("gamma must not be negative")
	}
	if c.CallDelta < -1.0 || c.CallDelta > 1.0 {
		return errors.New("call delta must be between -1.0 and 1.0")
	}
	if c.PutDelta < -1.0 || c.PutDelta > 1.0 {
		return errors.New("put delta must be between -1.0 and 1.0")
	}
	if c.CallVolume < 0 || c.PutVolume < 0 {
		return errors.New("volume must not be negative")
	}
	return nil
}
