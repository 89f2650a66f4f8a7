package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSuccessResponseEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	successResponse(c, "Account registered", gin.H{"account": int64(12345)})

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "success" || body["message"] != "Account registered" {
		t.Errorf("envelope = %+v", body)
	}
	if body["account"] != float64(12345) {
		t.Errorf("data field account = %v, want 12345", body["account"])
	}
}

func TestSuccessResponseOmitsEmptyMessage(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	successResponse(c, "", gin.H{"buffered": 3})

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := body["message"]; ok {
		t.Error("empty message should be omitted from the envelope")
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	errorResponse(c, 403, "Invalid API key")

	if w.Code != 403 {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "error" || body["message"] != "Invalid API key" {
		t.Errorf("envelope = %+v", body)
	}
}

func TestTickFromPayload(t *testing.T) {
	s := &Server{}

	tick, ok := s.tickFromPayload(&tickPayload{
		Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002,
		Time: "2025-07-15 12:00:00",
	})
	if !ok {
		t.Fatal("valid payload rejected")
	}
	// Broker clock is UTC+3 in July.
	want := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	if !tick.TickTime.Equal(want) {
		t.Errorf("tick time = %v, want %v", tick.TickTime, want)
	}
	if !floatEq(tick.Spread, 0.0002) {
		t.Errorf("spread default = %v, want ask-bid", tick.Spread)
	}
}

func TestTickFromPayloadEpochFallback(t *testing.T) {
	s := &Server{}
	wall := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC).Unix()

	tick, ok := s.tickFromPayload(&tickPayload{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, Epoch: wall})
	if !ok {
		t.Fatal("epoch payload rejected")
	}
	// January: broker clock is UTC+2.
	want := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	if !tick.TickTime.Equal(want) {
		t.Errorf("tick time = %v, want %v", tick.TickTime, want)
	}
}

func TestTickFromPayloadRejections(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name    string
		payload tickPayload
	}{
		{"missing symbol", tickPayload{Bid: 1.1, Ask: 1.1002, Epoch: 1}},
		{"zero bid", tickPayload{Symbol: "EURUSD", Ask: 1.1002, Epoch: 1}},
		{"no timestamp", tickPayload{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002}},
		{"bad time string", tickPayload{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, Time: "yesterday"}},
	}
	for _, tt := range tests {
		if _, ok := s.tickFromPayload(&tt.payload); ok {
			t.Errorf("%s: payload accepted, want rejection", tt.name)
		}
	}
}

func floatEq(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
