package signals

import (
	"testing"

	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/indicators"
	"mt5-trading-backend/internal/logging"
)

func testGenerator(cfg GeneratorConfig) *Generator {
	return NewGenerator(nil, nil, nil, cfg, logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))
}

func votes(buy, sell, neutral int) *indicators.Analysis {
	v := make(map[string]indicators.Vote)
	i := 0
	add := func(direction string, n int) {
		for j := 0; j < n; j++ {
			v[string(rune('a'+i))] = indicators.Vote{Direction: direction, Strength: 0.5}
			i++
		}
	}
	add(database.SignalBuy, buy)
	add(database.SignalSell, sell)
	add(indicators.NeutralDirection, neutral)
	return &indicators.Analysis{Votes: v}
}

func TestConsensusBuyNeedsAdvantage(t *testing.T) {
	g := testGenerator(GeneratorConfig{})

	// 6 BUY vs 5 SELL: margin of 1 is not enough for BUY, and SELL has no
	// majority either.
	if dir, _, _ := g.consensus(votes(6, 5, 7)); dir != "" {
		t.Errorf("6v5 consensus = %q, want none", dir)
	}

	// 7 BUY vs 5 SELL meets the +2 margin.
	if dir, _, _ := g.consensus(votes(7, 5, 6)); dir != database.SignalBuy {
		t.Errorf("7v5 consensus = %q, want BUY", dir)
	}
}

func TestConsensusSellSimpleMajority(t *testing.T) {
	g := testGenerator(GeneratorConfig{})

	if dir, _, _ := g.consensus(votes(4, 5, 9)); dir != database.SignalSell {
		t.Errorf("4v5 consensus = %q, want SELL on simple majority", dir)
	}
	if dir, _, _ := g.consensus(votes(5, 5, 8)); dir != "" {
		t.Errorf("5v5 consensus = %q, want none", dir)
	}
}

func TestConsensusCounts(t *testing.T) {
	g := testGenerator(GeneratorConfig{})
	_, buy, sell := g.consensus(votes(7, 4, 7))
	if buy != 7 || sell != 4 {
		t.Errorf("counts = (%d, %d), want (7, 4)", buy, sell)
	}
}

func TestConsensusConfiguredAdvantage(t *testing.T) {
	g := testGenerator(GeneratorConfig{BuyAdvantage: 4})

	if dir, _, _ := g.consensus(votes(8, 5, 5)); dir != "" {
		t.Errorf("8v5 with advantage 4 = %q, want none", dir)
	}
	if dir, _, _ := g.consensus(votes(9, 5, 4)); dir != database.SignalBuy {
		t.Errorf("9v5 with advantage 4 = %q, want BUY", dir)
	}
}

func TestIndicatorWeight(t *testing.T) {
	// Win rates come from the database as percentages. 50% is baseline.
	tests := []struct {
		winRatePct float64
		want       float64
	}{
		{0, 0.5},
		{25, 0.75},
		{50, 1.0},
		{75, 1.25},
		{100, 1.5},
		{-10, 0.5}, // clamped
		{250, 1.5}, // clamped
	}
	for _, tt := range tests {
		if got := indicatorWeight(tt.winRatePct); got != tt.want {
			t.Errorf("indicatorWeight(%v) = %v, want %v", tt.winRatePct, got, tt.want)
		}
	}
}

func TestGeneratorConfigDefaults(t *testing.T) {
	g := testGenerator(GeneratorConfig{})
	if g.cfg.MinConfidence != 50 || g.cfg.BuyAdvantage != 2 || g.cfg.BuyPenalty != 3 {
		t.Errorf("defaults = %+v, want 50/2/3", g.cfg)
	}
}

func TestSnapshotCarriesVoteContext(t *testing.T) {
	analysis := &indicators.Analysis{
		Votes:     map[string]indicators.Vote{"rsi": {Direction: database.SignalBuy, Strength: 0.8}},
		Regime:    indicators.RegimeTrending,
		ADX:       31.2,
		ATR:       0.0012,
		LastClose: 1.1,
	}
	snap := snapshot(analysis, nil, 0.0002, 7, 3)

	if snap["regime"] != indicators.RegimeTrending {
		t.Errorf("snapshot regime = %v, want TRENDING", snap["regime"])
	}
	if snap["buy_votes"] != 7 || snap["sell_votes"] != 3 {
		t.Errorf("snapshot vote counts = %v/%v, want 7/3", snap["buy_votes"], snap["sell_votes"])
	}
	if snap["spread"] != 0.0002 {
		t.Errorf("snapshot spread = %v, want 0.0002", snap["spread"])
	}
}
