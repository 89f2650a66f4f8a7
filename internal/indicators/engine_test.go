package indicators

import (
	"testing"

	"mt5-trading-backend/internal/database"
)

func TestComputeVoteCount(t *testing.T) {
	analysis := Compute("EURUSD", "H1", risingCandles(120, 100, 0.5))
	if len(analysis.Votes) != 18 {
		t.Fatalf("vote map has %d entries, want 18", len(analysis.Votes))
	}
	for _, name := range []string{"rsi", "macd", "bollinger", "stochastic", "adx", "atr",
		"ema_cross", "sma_trend", "supertrend", "ichimoku", "heiken_ashi", "obv",
		"vwap", "volume", "cci", "williams_r", "momentum", "mfi"} {
		if _, ok := analysis.Votes[name]; !ok {
			t.Errorf("missing vote %q", name)
		}
	}
}

func TestComputeUptrendVotes(t *testing.T) {
	analysis := Compute("EURUSD", "H1", risingCandles(120, 100, 0.5))

	if analysis.Regime != RegimeTrending {
		t.Fatalf("regime = %s, want TRENDING", analysis.Regime)
	}
	for _, name := range []string{"ema_cross", "sma_trend", "supertrend", "heiken_ashi"} {
		v := analysis.Votes[name]
		if v.Direction != database.SignalBuy {
			t.Errorf("%s vote = %s (%s), want BUY in a steady uptrend", name, v.Direction, v.Reasoning)
		}
	}
	if !analysis.OBVRising {
		t.Error("OBV should be rising in a steady uptrend")
	}
	if analysis.LastClose == 0 || analysis.ATR == 0 {
		t.Errorf("context fields missing: close=%v atr=%v", analysis.LastClose, analysis.ATR)
	}
}

func TestComputeATRVoteIsNeutral(t *testing.T) {
	analysis := Compute("EURUSD", "H1", risingCandles(120, 100, 0.5))
	atrVote := analysis.Votes["atr"]
	if atrVote.Direction != NeutralDirection || atrVote.Strength != 0 {
		t.Errorf("ATR vote = %+v, want neutral with zero strength", atrVote)
	}
}

func TestComputeRangingHalvesTrendVotes(t *testing.T) {
	// Oscillating closes with a gentle saw shape keep ADX low without
	// collapsing it to TOO_WEAK territory on every run, so force the
	// comparison through the exported pieces instead: the same vote in a
	// trending window must carry at least the strength of the ranging one.
	trending := Compute("EURUSD", "H1", risingCandles(120, 100, 0.5))

	closes := make([]float64, 120)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 101
		}
	}
	choppy := Compute("EURUSD", "H1", candlesFromCloses(closes...))

	if choppy.Regime == RegimeTrending {
		t.Fatalf("oscillating series classified as TRENDING (ADX %.1f)", choppy.ADX)
	}
	if choppy.Regime == RegimeRanging {
		st := choppy.Votes["supertrend"]
		if st.Direction != NeutralDirection && st.Strength > 0.4 {
			t.Errorf("ranging supertrend strength = %v, want halved (<= 0.4)", st.Strength)
		}
	}
	if trending.Votes["supertrend"].Strength != 0.8 {
		t.Errorf("trending supertrend strength = %v, want full 0.8", trending.Votes["supertrend"].Strength)
	}
}
