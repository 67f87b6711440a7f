// Package dashboard serves the strike-ladder view and the JSON API over
// the most recent exposure report.
package dashboard

import (
	"sync"
	"time"

	"github.com/Dellyyty/gex-tool/internal/gex"
)

// Holder keeps the latest report for concurrent readers. The fetch loop
// writes, HTTP handlers read.
type Holder struct {
	mu        sync.RWMutex
	report    *gex.Report
	fetchedAt time.Time
	ttl       time.Duration
}

// NewHolder creates a holder whose reports go stale after ttl.
func NewHolder(ttl time.Duration) *Holder {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Holder{ttl: ttl}
}

// Set stores a new report and stamps the fetch time.
func (h *Holder) Set(report *gex.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report = report
	h.fetchedAt = time.Now()
}

// Get returns the current report, its fetch time, and whether it is
// still fresh. A nil report is never fresh.
func (h *Holder) Get() (*gex.Report, time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.report == nil {
		return nil, time.Time{}, false
	}
	fresh := time.Since(h.fetchedAt) <= h.ttl
	return h.report, h.fetchedAt, fresh
}
