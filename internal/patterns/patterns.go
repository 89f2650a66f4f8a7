// Package patterns detects candlestick patterns over recent OHLC candles.
// Each detection carries a direction and a reliability weight consumed by
// the signal generator's confidence scoring.
package patterns

import (
	"math"

	"mt5-trading-backend/internal/database"
)

// Pattern is one detected candlestick formation
type Pattern struct {
	Name        string  `json:"name"`
	Direction   string  `json:"direction"`   // BUY or SELL
	Reliability float64 `json:"reliability"` // 0..1
	Candles     int     `json:"candles"`     // formation width
}

// Detect scans the tail of the candle window for known formations. The
// strongest patterns come last in the returned slice order only by
// detection sequence; callers rank by Reliability.
func Detect(candles []*database.OHLCCandle) []Pattern {
	var found []Pattern
	n := len(candles)
	if n < 3 {
		return found
	}

	c0 := candles[n-1] // current
	c1 := candles[n-2]
	c2 := candles[n-3]

	if p, ok := detectEngulfing(c1, c0); ok {
		found = append(found, p)
	}
	if p, ok := detectHammer(c0, candles); ok {
		found = append(found, p)
	}
	if p, ok := detectShootingStar(c0, candles); ok {
		found = append(found, p)
	}
	if p, ok := detectDoji(c0); ok {
		found = append(found, p)
	}
	if p, ok := detectStar(c2, c1, c0); ok {
		found = append(found, p)
	}
	if p, ok := detectThreeSoldiers(c2, c1, c0); ok {
		found = append(found, p)
	}
	if p, ok := detectPiercing(c1, c0); ok {
		found = append(found, p)
	}
	if p, ok := detectHarami(c1, c0); ok {
		found = append(found, p)
	}

	return found
}

// Names returns just the pattern names for signal snapshots
func Names(patterns []Pattern) []string {
	names := make([]string, len(patterns))
	for i, p := range patterns {
		names[i] = p.Name
	}
	return names
}

// Strongest returns the highest-reliability pattern matching direction, or
// nil.
func Strongest(patterns []Pattern, direction string) *Pattern {
	var best *Pattern
	for i := range patterns {
		p := &patterns[i]
		if p.Direction != direction {
			continue
		}
		if best == nil || p.Reliability > best.Reliability {
			best = p
		}
	}
	return best
}

func body(c *database.OHLCCandle) float64  { return math.Abs(c.Close - c.Open) }
func rng(c *database.OHLCCandle) float64   { return c.High - c.Low }
func isBull(c *database.OHLCCandle) bool   { return c.Close > c.Open }
func isBear(c *database.OHLCCandle) bool   { return c.Close < c.Open }
func upperWick(c *database.OHLCCandle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}
func lowerWick(c *database.OHLCCandle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

// recentTrend returns +1 for an uptrend into the pattern, -1 for a
// downtrend, 0 when flat, judged over the prior 5 closes.
func recentTrend(candles []*database.OHLCCandle) int {
	n := len(candles)
	if n < 7 {
		return 0
	}
	start := candles[n-7].Close
	end := candles[n-2].Close
	if start == 0 {
		return 0
	}
	change := (end - start) / start
	switch {
	case change > 0.001:
		return 1
	case change < -0.001:
		return -1
	}
	return 0
}

func detectEngulfing(prev, cur *database.OHLCCandle) (Pattern, bool) {
	if body(prev) == 0 || body(cur) < body(prev)*1.1 {
		return Pattern{}, false
	}
	if isBear(prev) && isBull(cur) && cur.Open <= prev.Close && cur.Close >= prev.Open {
		return Pattern{Name: "bullish_engulfing", Direction: database.SignalBuy, Reliability: 0.8, Candles: 2}, true
	}
	if isBull(prev) && isBear(cur) && cur.Open >= prev.Close && cur.Close <= prev.Open {
		return Pattern{Name: "bearish_engulfing", Direction: database.SignalSell, Reliability: 0.8, Candles: 2}, true
	}
	return Pattern{}, false
}

func detectHammer(c *database.OHLCCandle, candles []*database.OHLCCandle) (Pattern, bool) {
	r := rng(c)
	if r == 0 {
		return Pattern{}, false
	}
	// Small body near the top, long lower wick, after a downtrend.
	if body(c) < r*0.3 && lowerWick(c) > body(c)*2 && upperWick(c) < r*0.15 && recentTrend(candles) < 0 {
		return Pattern{Name: "hammer", Direction: database.SignalBuy, Reliability: 0.7, Candles: 1}, true
	}
	return Pattern{}, false
}

func detectShootingStar(c *database.OHLCCandle, candles []*database.OHLCCandle) (Pattern, bool) {
	r := rng(c)
	if r == 0 {
		return Pattern{}, false
	}
	if body(c) < r*0.3 && upperWick(c) > body(c)*2 && lowerWick(c) < r*0.15 && recentTrend(candles) > 0 {
		return Pattern{Name: "shooting_star", Direction: database.SignalSell, Reliability: 0.7, Candles: 1}, true
	}
	return Pattern{}, false
}

func detectDoji(c *database.OHLCCandle) (Pattern, bool) {
	r := rng(c)
	if r == 0 || body(c) > r*0.05 {
		return Pattern{}, false
	}
	// Indecision; direction comes from context, so weight is low. Reported
	// as NEUTRAL-adjacent by giving both sides nothing: skipped from
	// directional scoring by the generator when direction is empty.
	return Pattern{Name: "doji", Direction: "", Reliability: 0.3, Candles: 1}, true
}

func detectStar(c2, c1, c0 *database.OHLCCandle) (Pattern, bool) {
	// Morning star: long bear, small body gap, long bull closing into the
	// first body.
	if isBear(c2) && body(c1) < body(c2)*0.4 && isBull(c0) &&
		c0.Close > (c2.Open+c2.Close)/2 {
		return Pattern{Name: "morning_star", Direction: database.SignalBuy, Reliability: 0.85, Candles: 3}, true
	}
	if isBull(c2) && body(c1) < body(c2)*0.4 && isBear(c0) &&
		c0.Close < (c2.Open+c2.Close)/2 {
		return Pattern{Name: "evening_star", Direction: database.SignalSell, Reliability: 0.85, Candles: 3}, true
	}
	return Pattern{}, false
}

func detectThreeSoldiers(c2, c1, c0 *database.OHLCCandle) (Pattern, bool) {
	if isBull(c2) && isBull(c1) && isBull(c0) &&
		c1.Close > c2.Close && c0.Close > c1.Close &&
		body(c1) > rng(c1)*0.5 && body(c0) > rng(c0)*0.5 {
		return Pattern{Name: "three_white_soldiers", Direction: database.SignalBuy, Reliability: 0.75, Candles: 3}, true
	}
	if isBear(c2) && isBear(c1) && isBear(c0) &&
		c1.Close < c2.Close && c0.Close < c1.Close &&
		body(c1) > rng(c1)*0.5 && body(c0) > rng(c0)*0.5 {
		return Pattern{Name: "three_black_crows", Direction: database.SignalSell, Reliability: 0.75, Candles: 3}, true
	}
	return Pattern{}, false
}

func detectPiercing(prev, cur *database.OHLCCandle) (Pattern, bool) {
	if isBear(prev) && isBull(cur) &&
		cur.Open < prev.Close && cur.Close > (prev.Open+prev.Close)/2 && cur.Close < prev.Open {
		return Pattern{Name: "piercing_line", Direction: database.SignalBuy, Reliability: 0.6, Candles: 2}, true
	}
	if isBull(prev) && isBear(cur) &&
		cur.Open > prev.Close && cur.Close < (prev.Open+prev.Close)/2 && cur.Close > prev.Open {
		return Pattern{Name: "dark_cloud_cover", Direction: database.SignalSell, Reliability: 0.6, Candles: 2}, true
	}
	return Pattern{}, false
}

func detectHarami(prev, cur *database.OHLCCandle) (Pattern, bool) {
	if body(prev) == 0 || body(cur) > body(prev)*0.5 {
		return Pattern{}, false
	}
	inside := math.Max(cur.Open, cur.Close) < math.Max(prev.Open, prev.Close) &&
		math.Min(cur.Open, cur.Close) > math.Min(prev.Open, prev.Close)
	if !inside {
		return Pattern{}, false
	}
	if isBear(prev) && isBull(cur) {
		return Pattern{Name: "bullish_harami", Direction: database.SignalBuy, Reliability: 0.55, Candles: 2}, true
	}
	if isBull(prev) && isBear(cur) {
		return Pattern{Name: "bearish_harami", Direction: database.SignalSell, Reliability: 0.55, Candles: 2}, true
	}
	return Pattern{}, false
}
