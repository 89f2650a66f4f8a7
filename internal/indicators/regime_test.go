package indicators

import "testing"

func TestDetectRegimeTrending(t *testing.T) {
	regime, adx := DetectRegime(risingCandles(80, 100, 1))
	if regime != RegimeTrending {
		t.Errorf("steady uptrend classified as %s (ADX %.1f), want TRENDING", regime, adx.ADX)
	}
}

func TestDetectRegimeTooWeak(t *testing.T) {
	regime, adx := DetectRegime(flatCandles(80, 1.5))
	if regime != RegimeTooWeak {
		t.Errorf("flat market classified as %s (ADX %.1f), want TOO_WEAK", regime, adx.ADX)
	}
}

func TestRSIBands(t *testing.T) {
	tests := []struct {
		regime     Regime
		oversold   float64
		overbought float64
	}{
		{RegimeTrending, 40, 60},
		{RegimeRanging, 30, 70},
		{RegimeTooWeak, 30, 70},
	}
	for _, tt := range tests {
		os, ob := RSIBands(tt.regime)
		if os != tt.oversold || ob != tt.overbought {
			t.Errorf("RSIBands(%s) = (%v, %v), want (%v, %v)", tt.regime, os, ob, tt.oversold, tt.overbought)
		}
	}
}
