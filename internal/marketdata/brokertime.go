package marketdata

import (
	"fmt"
	"time"
)

// MT5 terminals report server time in the broker's timezone (EET, with
// EEST in summer). All persistence is UTC; conversion happens here, at
// ingress, and nowhere else.

const brokerTimeLayout = "2006-01-02 15:04:05"

var brokerLocation *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		// Fallback keeps ingestion alive without DST correctness.
		loc = time.FixedZone("EET", 2*60*60)
	}
	brokerLocation = loc
}

// ParseBrokerTime parses a "YYYY-MM-DD HH:MM:SS" broker timestamp and
// returns it in UTC.
func ParseBrokerTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(brokerTimeLayout, s, brokerLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse broker time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// BrokerEpochToUTC converts a broker-local epoch-style wall clock reading
// (seconds counted as if the broker wall time were UTC) into real UTC.
// MT5's TimeCurrent() serializes this way.
func BrokerEpochToUTC(epoch int64) time.Time {
	wall := time.Unix(epoch, 0).UTC()
	local := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, brokerLocation)
	return local.UTC()
}

// TradingSession labels the active forex session for a UTC instant
type TradingSession string

const (
	SessionAsian   TradingSession = "asian"
	SessionLondon  TradingSession = "london"
	SessionNewYork TradingSession = "newyork"
	SessionOverlap TradingSession = "overlap" // London/NY overlap
	SessionClosed  TradingSession = "closed"
)

// DetectSession returns the trading session for a UTC time. Weekend gaps
// count as closed.
func DetectSession(t time.Time) TradingSession {
	t = t.UTC()
	wd := t.Weekday()
	h := t.Hour()

	if wd == time.Saturday || (wd == time.Sunday && h < 21) || (wd == time.Friday && h >= 21) {
		return SessionClosed
	}

	switch {
	case h >= 12 && h < 16:
		return SessionOverlap
	case h >= 7 && h < 12:
		return SessionLondon
	case h >= 16 && h < 21:
		return SessionNewYork
	default:
		return SessionAsian
	}
}
