package indicators

import (
	"math"

	"mt5-trading-backend/internal/database"
)

// ============================================================================
// CCI (Commodity Channel Index)
// ============================================================================

// CalculateCCI calculates the Commodity Channel Index
func CalculateCCI(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period {
		return 0
	}

	window := candles[len(candles)-period:]
	typical := make([]float64, period)
	sum := 0.0
	for i, c := range window {
		typical[i] = (c.High + c.Low + c.Close) / 3
		sum += typical[i]
	}
	sma := sum / float64(period)

	meanDev := 0.0
	for _, tp := range typical {
		meanDev += math.Abs(tp - sma)
	}
	meanDev /= float64(period)
	if meanDev == 0 {
		return 0
	}

	return (typical[period-1] - sma) / (0.015 * meanDev)
}

// ============================================================================
// WILLIAMS %R
// ============================================================================

// CalculateWilliamsR calculates Williams %R (range -100..0)
func CalculateWilliamsR(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period {
		return -50
	}

	window := candles[len(candles)-period:]
	highest := window[0].High
	lowest := window[0].Low
	for _, c := range window {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}
	if highest == lowest {
		return -50
	}

	return -100 * (highest - window[len(window)-1].Close) / (highest - lowest)
}

// ============================================================================
// MOMENTUM (Rate of Change)
// ============================================================================

// CalculateROC calculates the percentage rate of change over period bars
func CalculateROC(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	past := candles[len(candles)-1-period].Close
	if past == 0 {
		return 0
	}
	return 100 * (candles[len(candles)-1].Close - past) / past
}

// ============================================================================
// MFI (Money Flow Index)
// ============================================================================

// CalculateMFI calculates the Money Flow Index, a volume-weighted RSI
func CalculateMFI(candles []*database.OHLCCandle, period int) float64 {
	if len(candles) < period+1 {
		return 50
	}

	posFlow, negFlow := 0.0, 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		tp := (candles[i].High + candles[i].Low + candles[i].Close) / 3
		prevTP := (candles[i-1].High + candles[i-1].Low + candles[i-1].Close) / 3
		flow := tp * float64(candles[i].Volume)
		if tp > prevTP {
			posFlow += flow
		} else if tp < prevTP {
			negFlow += flow
		}
	}

	if negFlow == 0 {
		return 100
	}
	ratio := posFlow / negFlow
	return 100 - (100 / (1 + ratio))
}
