// Package fees implements the published Kalshi fee schedule. The schedule is
// a pure function of (price, quantity, market, maker/taker); it carries no
// state and is shared by detection and execution sizing so both compute the
// same cost.
package fees

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Model maps an order to its transaction cost in cents. Implemented by
// Schedule; tests substitute flat models.
type Model interface {
	TradingFeeCents(priceCents, contracts int64, ticker string, isMaker bool) int64
}

// Published schedule constants.
var (
	generalRate         = decimal.RequireFromString("0.07")
	indexRate           = decimal.RequireFromString("0.035")
	makerFeePerContract = decimal.RequireFromString("0.0025")
	one                 = decimal.NewFromInt(1)
	hundred             = decimal.NewFromInt(100)
)

// reducedFeePrefixes are the S&P500 and NASDAQ-100 series billed at the
// reduced rate.
var reducedFeePrefixes = []string{"INX", "NASDAQ100"}

// makerFeeSeries lists the series that charge a flat per-contract maker fee.
var makerFeeSeries = map[string]struct{}{
	"KXAAAGASM": {}, "KXGDP": {}, "KXPAYROLLS": {}, "KXU3": {}, "KXEGGS": {},
	"KXCPI": {}, "KXCPIYOY": {}, "KXFEDDECISION": {}, "KXFED": {},
	"KXNBA": {}, "KXNBAEAST": {}, "KXNBAWEST": {}, "KXNBASERIES": {}, "KXNBAGAME": {},
	"KXNHL": {}, "KXNHLEAST": {}, "KXNHLWEST": {}, "KXNHLSERIES": {}, "KXNHLGAME": {},
	"KXINDY500": {}, "KXPGA": {}, "KXUSOPEN": {}, "KXPGARYDER": {}, "KXTHEOPEN": {},
	"KXPGASOLHEIM": {}, "KXFOMENSINGLES": {}, "KXFOWOMENSINGLES": {},
	"KXWMENSINGLES": {}, "KXWWOMENSINGLES": {}, "KXUSOMENSINGLES": {},
	"KXUSOWOMENSINGLES": {}, "KXAOMENSINGLES": {}, "KXAOWOMENSINGLES": {},
	"KXNFLGAME": {}, "KXUEFACL": {}, "KXNBAFINALSMVP": {}, "KXCONNSMYTHE": {},
	"KXFOMEN": {}, "KXFOWOMEN": {}, "KXNATHANSHD": {}, "KXNATHANDOGS": {},
	"KXCLUBWC": {}, "KXTOURDEFRANCE": {}, "KXNASCARRACE": {},
}

// Schedule is the deterministic Kalshi fee schedule.
type Schedule struct{}

// NewSchedule returns the schedule built from the published constants.
func NewSchedule() *Schedule { return &Schedule{} }

// Rate returns the taker fee rate applicable to the market ticker.
func (s *Schedule) Rate(ticker string) decimal.Decimal {
	for _, p := range reducedFeePrefixes {
		if strings.HasPrefix(ticker, p) {
			return indexRate
		}
	}
	return generalRate
}

// HasMakerFee reports whether the series charges resting-order fees.
func (s *Schedule) HasMakerFee(series string) bool {
	_, ok := makerFeeSeries[series]
	return ok
}

// SeriesOf extracts the series component from a full market ticker like
// "KXFED-23DEC-T3.00".
func SeriesOf(ticker string) string {
	if i := strings.IndexByte(ticker, '-'); i >= 0 {
		return ticker[:i]
	}
	return ticker
}

// TradingFeeCents computes the fee for a single trade, rounded up to the
// next cent. Taker fee is rate * C * P * (1-P); maker orders are free except
// on the maker-fee series, which charge a flat per-contract amount.
func (s *Schedule) TradingFeeCents(priceCents, contracts int64, ticker string, isMaker bool) int64 {
	if contracts <= 0 || priceCents <= 0 || priceCents >= 100 {
		return 0
	}

	if isMaker {
		if !s.HasMakerFee(SeriesOf(ticker)) {
			return 0
		}
		fee := makerFeePerContract.Mul(decimal.NewFromInt(contracts))
		return ceilCents(fee)
	}

	price := decimal.NewFromInt(priceCents).Div(hundred)
	fee := s.Rate(ticker).
		Mul(decimal.NewFromInt(contracts)).
		Mul(price).
		Mul(one.Sub(price))
	return ceilCents(fee)
}

// ceilCents rounds a dollar amount up to the next whole cent.
func ceilCents(dollars decimal.Decimal) int64 {
	return dollars.Mul(hundred).Ceil().IntPart()
}
