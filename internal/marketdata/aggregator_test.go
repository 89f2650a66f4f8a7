package marketdata

import (
	"testing"
	"time"

	"mt5-trading-backend/internal/database"
)

func tick(at time.Time, bid float64) *database.Tick {
	return &database.Tick{Symbol: "EURUSD", Bid: bid, Ask: bid + 0.0001, TickTime: at}
}

func TestBuildM1Candles(t *testing.T) {
	base := time.Date(2025, 7, 15, 9, 30, 0, 0, time.UTC)
	ticks := []*database.Tick{
		tick(base.Add(5*time.Second), 1.1000),
		tick(base.Add(20*time.Second), 1.1010),
		tick(base.Add(45*time.Second), 1.0995),
		tick(base.Add(59*time.Second), 1.1005),
		tick(base.Add(70*time.Second), 1.1007), // next minute
		tick(base.Add(80*time.Second), 1.1003),
	}

	candles := buildM1Candles("EURUSD", ticks)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}

	first := candles[0]
	if !first.CandleTime.Equal(base) {
		t.Errorf("first candle time = %v, want %v", first.CandleTime, base)
	}
	if first.Open != 1.1000 || first.Close != 1.1005 {
		t.Errorf("first OHLC open/close = %v/%v, want 1.1000/1.1005", first.Open, first.Close)
	}
	if first.High != 1.1010 || first.Low != 1.0995 {
		t.Errorf("first OHLC high/low = %v/%v, want 1.1010/1.0995", first.High, first.Low)
	}
	if first.Volume != 4 {
		t.Errorf("first volume = %d, want tick count 4", first.Volume)
	}
	if first.Timeframe != database.TimeframeM1 {
		t.Errorf("timeframe = %s, want M1", first.Timeframe)
	}

	second := candles[1]
	if !second.CandleTime.Equal(base.Add(time.Minute)) {
		t.Errorf("second candle time = %v, want %v", second.CandleTime, base.Add(time.Minute))
	}
	if second.Open != 1.1007 || second.Close != 1.1003 || second.Volume != 2 {
		t.Errorf("second bar = %+v, want open 1.1007 close 1.1003 volume 2", second)
	}
}

func TestBuildM1CandlesRecomputeIsStable(t *testing.T) {
	// Overlapping sweeps rebuild the same bars from the same ticks. The
	// result must be identical each pass; volume is the minute's tick
	// count, never a running total across sweeps.
	base := time.Date(2025, 7, 15, 10, 0, 0, 0, time.UTC)
	ticks := []*database.Tick{
		tick(base.Add(2*time.Second), 1.1000),
		tick(base.Add(15*time.Second), 1.1004),
		tick(base.Add(30*time.Second), 1.1001),
		tick(base.Add(55*time.Second), 1.1003),
	}

	first := buildM1Candles("EURUSD", ticks)
	second := buildM1Candles("EURUSD", ticks)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("got %d and %d candles, want 1 each", len(first), len(second))
	}
	if first[0].Volume != 4 || second[0].Volume != 4 {
		t.Errorf("volumes = %d and %d, want tick count 4 on every pass", first[0].Volume, second[0].Volume)
	}
	if *first[0] != *second[0] {
		t.Errorf("recomputed bar differs: %+v vs %+v", first[0], second[0])
	}
}

func TestBuildM1CandlesEmpty(t *testing.T) {
	if got := buildM1Candles("EURUSD", nil); len(got) != 0 {
		t.Errorf("empty tick slice produced %d candles", len(got))
	}
}
