// Package relation derives logical relationships between markets from their
// ticker structure and serves them from an atomically swapped graph
// snapshot.
package relation

import (
	"strconv"
	"strings"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// TickerInfo is the parsed form of a market ticker such as
// "HIGHNY-22DEC23-T53.5": series, event date, and the strike condition.
type TickerInfo struct {
	Ticker string
	Series string
	Date   string
	Kind   domain.StrikeKind
	Strike float64
}

// ParseTicker extracts the strike condition from a market ticker. The strike
// segment's leading letter encodes the condition: T above ("greater than"),
// B below, E exactly, R range. Tickers without a parsable strike yield
// StrikeNone and never participate in threshold classification.
func ParseTicker(ticker string) TickerInfo {
	info := TickerInfo{Ticker: ticker, Kind: domain.StrikeNone}

	parts := strings.Split(ticker, "-")
	info.Series = parts[0]
	if len(parts) < 3 {
		return info
	}
	info.Date = parts[1]

	strike := parts[2]
	if len(strike) < 2 {
		return info
	}
	var kind domain.StrikeKind
	switch strike[0] {
	case 'T':
		kind = domain.StrikeAbove
	case 'B':
		kind = domain.StrikeBelow
	case 'E':
		kind = domain.StrikeExactly
	case 'R':
		info.Kind = domain.StrikeBetween
		return info
	default:
		return info
	}
	v, err := strconv.ParseFloat(strike[1:], 64)
	if err != nil {
		return info
	}
	info.Kind = kind
	info.Strike = v
	return info
}

// Comparable reports whether two parsed tickers belong to the same
// threshold family: same series, same date, same strike kind.
func (t TickerInfo) Comparable(other TickerInfo) bool {
	return t.Series == other.Series &&
		t.Date == other.Date &&
		t.Kind == other.Kind &&
		t.Kind != domain.StrikeNone &&
		t.Kind != domain.StrikeBetween
}
