package database

import "testing"

func TestValidTimeframe(t *testing.T) {
	for _, tf := range Timeframes {
		if !ValidTimeframe(tf) {
			t.Errorf("ValidTimeframe(%q) = false, want true", tf)
		}
	}
	for _, tf := range []string{"", "M2", "h1", "W1"} {
		if ValidTimeframe(tf) {
			t.Errorf("ValidTimeframe(%q) = true, want false", tf)
		}
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != apiKeyBytes*2 {
		t.Errorf("key length = %d, want %d hex characters", len(key), apiKeyBytes*2)
	}

	other, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == other {
		t.Error("two generated keys collided")
	}
}

func TestIsTradeCommand(t *testing.T) {
	tests := []struct {
		commandType string
		want        bool
	}{
		{CommandOpenTrade, true},
		{CommandCloseTrade, true},
		{CommandModifyTrade, true},
		{CommandRequestOHLC, false},
		{CommandRequestHistoricalData, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTradeCommand(tt.commandType); got != tt.want {
			t.Errorf("IsTradeCommand(%q) = %v, want %v", tt.commandType, got, tt.want)
		}
	}
}

func TestHashAPIKey(t *testing.T) {
	// sha256("abc"), hex encoded.
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashAPIKey("abc"); got != want {
		t.Errorf("HashAPIKey = %s, want %s", got, want)
	}
	if HashAPIKey("abc") != HashAPIKey("abc") {
		t.Error("hash is not deterministic")
	}
}
