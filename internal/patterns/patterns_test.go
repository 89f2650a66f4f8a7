package patterns

import (
	"testing"

	"mt5-trading-backend/internal/database"
)

func candle(open, high, low, close float64) *database.OHLCCandle {
	return &database.OHLCCandle{Open: open, High: high, Low: low, Close: close}
}

// pad prefixes enough neutral candles that context checks (recent trend)
// see real history.
func pad(trendStep float64, tail ...*database.OHLCCandle) []*database.OHLCCandle {
	candles := make([]*database.OHLCCandle, 0, 10+len(tail))
	price := 100.0
	for i := 0; i < 10; i++ {
		candles = append(candles, candle(price, price+0.2, price-0.2, price+trendStep))
		price += trendStep
	}
	return append(candles, tail...)
}

func hasPattern(patterns []Pattern, name string) *Pattern {
	for i := range patterns {
		if patterns[i].Name == name {
			return &patterns[i]
		}
	}
	return nil
}

func TestDetectBullishEngulfing(t *testing.T) {
	candles := pad(0,
		candle(101, 101.2, 99.8, 100), // bear
		candle(99.9, 101.6, 99.7, 101.5), // bull engulfing the prior body
	)
	found := Detect(candles)
	p := hasPattern(found, "bullish_engulfing")
	if p == nil {
		t.Fatalf("bullish_engulfing not detected in %v", Names(found))
	}
	if p.Direction != database.SignalBuy || p.Reliability != 0.8 {
		t.Errorf("pattern = %+v, want BUY at 0.8", p)
	}
}

func TestDetectBearishEngulfing(t *testing.T) {
	candles := pad(0,
		candle(100, 101.2, 99.8, 101), // bull
		candle(101.1, 101.3, 99.4, 99.5), // bear engulfing
	)
	if hasPattern(Detect(candles), "bearish_engulfing") == nil {
		t.Error("bearish_engulfing not detected")
	}
}

func TestDetectHammerNeedsDowntrend(t *testing.T) {
	// Small body near the top with a long lower wick.
	hammer := candle(99.95, 100.02, 99.0, 100.0)

	down := pad(-0.5, candle(95.4, 95.6, 95.2, 95.3), hammer)
	if hasPattern(Detect(down), "hammer") == nil {
		t.Error("hammer after a downtrend not detected")
	}

	up := pad(0.5, candle(105.4, 105.6, 105.2, 105.5), hammer)
	if hasPattern(Detect(up), "hammer") != nil {
		t.Error("hammer should require a prior downtrend")
	}
}

func TestDetectShootingStar(t *testing.T) {
	star := candle(100.0, 101.0, 99.98, 100.05)
	up := pad(0.5, candle(105.0, 105.2, 104.8, 105.1), star)
	p := hasPattern(Detect(up), "shooting_star")
	if p == nil {
		t.Fatal("shooting_star after an uptrend not detected")
	}
	if p.Direction != database.SignalSell {
		t.Errorf("shooting_star direction = %s, want SELL", p.Direction)
	}
}

func TestDetectDoji(t *testing.T) {
	doji := candle(100.0, 100.5, 99.5, 100.01)
	found := Detect(pad(0, candle(100, 100.3, 99.7, 100), doji))
	p := hasPattern(found, "doji")
	if p == nil {
		t.Fatal("doji not detected")
	}
	if p.Direction != "" {
		t.Errorf("doji direction = %q, want empty (indecision)", p.Direction)
	}
}

func TestDetectMorningStar(t *testing.T) {
	candles := pad(0,
		candle(102, 102.2, 99.8, 100),      // long bear
		candle(99.9, 100.2, 99.6, 100.05),  // small body
		candle(100.1, 101.8, 100.0, 101.7), // bull closing above the midpoint
	)
	p := hasPattern(Detect(candles), "morning_star")
	if p == nil {
		t.Fatal("morning_star not detected")
	}
	if p.Direction != database.SignalBuy || p.Reliability != 0.85 {
		t.Errorf("pattern = %+v, want BUY at 0.85", p)
	}
}

func TestDetectThreeWhiteSoldiers(t *testing.T) {
	candles := pad(0,
		candle(100, 101.1, 99.9, 101),
		candle(101, 102.1, 100.9, 102),
		candle(102, 103.1, 101.9, 103),
	)
	if hasPattern(Detect(candles), "three_white_soldiers") == nil {
		t.Error("three_white_soldiers not detected")
	}
}

func TestDetectHarami(t *testing.T) {
	candles := pad(0,
		candle(102, 102.2, 99.8, 100),    // long bear
		candle(100.5, 100.9, 100.3, 100.8), // small bull inside
	)
	p := hasPattern(Detect(candles), "bullish_harami")
	if p == nil {
		t.Fatal("bullish_harami not detected")
	}
	if p.Direction != database.SignalBuy {
		t.Errorf("direction = %s, want BUY", p.Direction)
	}
}

func TestDetectTooFewCandles(t *testing.T) {
	if got := Detect([]*database.OHLCCandle{candle(1, 2, 0, 1)}); len(got) != 0 {
		t.Errorf("Detect on 1 candle = %v, want none", got)
	}
}

func TestStrongest(t *testing.T) {
	patterns := []Pattern{
		{Name: "piercing_line", Direction: database.SignalBuy, Reliability: 0.6},
		{Name: "morning_star", Direction: database.SignalBuy, Reliability: 0.85},
		{Name: "evening_star", Direction: database.SignalSell, Reliability: 0.85},
	}
	best := Strongest(patterns, database.SignalBuy)
	if best == nil || best.Name != "morning_star" {
		t.Errorf("Strongest(BUY) = %+v, want morning_star", best)
	}
	if Strongest(nil, database.SignalBuy) != nil {
		t.Error("Strongest on empty slice should be nil")
	}
}
