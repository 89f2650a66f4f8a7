package autotrader

import (
	"strings"
	"sync"
	"time"
)

// ============================================================================
// NEWS CALENDAR
// ============================================================================

// NewsImpact levels
const (
	NewsImpactHigh   = "HIGH"
	NewsImpactMedium = "MEDIUM"
)

// NewsEvent is one scheduled economic release
type NewsEvent struct {
	Currency string    `json:"currency"` // EUR, USD, ...
	Impact   string    `json:"impact"`
	Title    string    `json:"title"`
	At       time.Time `json:"at"` // UTC
}

// NewsCalendar holds upcoming events. Populated externally (import job or
// admin endpoint); trading is never blocked by an empty calendar.
type NewsCalendar struct {
	mu     sync.RWMutex
	events []NewsEvent
}

// NewNewsCalendar creates an empty calendar
func NewNewsCalendar() *NewsCalendar {
	return &NewsCalendar{}
}

// Replace swaps the whole event list
func (nc *NewsCalendar) Replace(events []NewsEvent) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.events = events
}

// Add appends one event
func (nc *NewsCalendar) Add(e NewsEvent) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.events = append(nc.events, e)
}

// Blocking windows: HIGH blocks 30 min before to 15 min after; MEDIUM
// blocks 15 min before to 10 min after.
var newsWindows = map[string][2]time.Duration{
	NewsImpactHigh:   {30 * time.Minute, 15 * time.Minute},
	NewsImpactMedium: {15 * time.Minute, 10 * time.Minute},
}

// Blocked reports whether now falls inside a blackout window of an event
// affecting one of the symbol's currencies.
func (nc *NewsCalendar) Blocked(symbol string, now time.Time) (NewsEvent, bool) {
	currencies := symbolCurrencies(symbol)

	nc.mu.RLock()
	defer nc.mu.RUnlock()
	for _, e := range nc.events {
		window, ok := newsWindows[e.Impact]
		if !ok {
			continue
		}
		if !currencies[e.Currency] {
			continue
		}
		if now.After(e.At.Add(-window[0])) && now.Before(e.At.Add(window[1])) {
			return e, true
		}
	}
	return NewsEvent{}, false
}

// symbolCurrencies extracts the currencies a symbol exposes
func symbolCurrencies(symbol string) map[string]bool {
	s := strings.ToUpper(symbol)
	out := make(map[string]bool, 2)
	for _, ccy := range []string{"EUR", "GBP", "USD", "JPY", "CHF", "AUD", "NZD", "CAD"} {
		if strings.Contains(s, ccy) {
			out[ccy] = true
		}
	}
	// Metals and indices are USD-sensitive.
	if strings.Contains(s, "XAU") || strings.Contains(s, "XAG") ||
		strings.Contains(s, "US30") || strings.Contains(s, "US500") || strings.Contains(s, "NAS") {
		out["USD"] = true
	}
	if strings.Contains(s, "DE40") {
		out["EUR"] = true
	}
	return out
}

// CurrencyGroup buckets a symbol for the correlation cap: base currency
// for forex, asset family otherwise.
func CurrencyGroup(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "XAU") || strings.Contains(s, "GOLD"):
		return "GOLD"
	case strings.Contains(s, "XAG") || strings.Contains(s, "SILVER"):
		return "SILVER"
	case strings.Contains(s, "BTC") || strings.Contains(s, "ETH"):
		return "CRYPTO"
	case strings.Contains(s, "DE40") || strings.Contains(s, "US30") || strings.Contains(s, "US500") || strings.Contains(s, "NAS"):
		return "INDICES"
	}
	if len(s) >= 3 {
		return s[:3]
	}
	return s
}
