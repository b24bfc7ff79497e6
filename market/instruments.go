// market/instruments.go
package market

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// InstrumentMeta describes contract sizing for one tradable symbol.
// Sizes are in lots; ContractSize is the number of base units per lot.
type InstrumentMeta struct {
	Name             string
	BaseCurrency     string
	QuoteCurrency    string
	PipLocation      int
	PricePrecision   int
	ContractSize     float64
	MinimumTradeSize float64
	SizeIncrement    float64
	MarginRate       float64
}

var Instruments = map[string]InstrumentMeta{
	"XAU_USD": {
		Name:             "XAU_USD",
		BaseCurrency:     "XAU",
		QuoteCurrency:    "USD",
		PipLocation:      -1,
		PricePrecision:   3,
		ContractSize:     100,
		MinimumTradeSize: 0.01,
		SizeIncrement:    0.01,
		MarginRate:       0.05,
	},
	"EUR_USD": {
		Name:             "EUR_USD",
		BaseCurrency:     "EUR",
		QuoteCurrency:    "USD",
		PipLocation:      -4,
		PricePrecision:   5,
		ContractSize:     100_000,
		MinimumTradeSize: 0.01,
		SizeIncrement:    0.01,
		MarginRate:       0.02,
	},
	"USD_JPY": {
		Name:             "USD_JPY",
		BaseCurrency:     "USD",
		QuoteCurrency:    "JPY",
		PipLocation:      -2,
		PricePrecision:   3,
		ContractSize:     100_000,
		MinimumTradeSize: 0.01,
		SizeIncrement:    0.01,
		MarginRate:       0.02,
	},
}

// Lookup returns the metadata for an instrument name.
func Lookup(name string) (InstrumentMeta, error) {
	m, ok := Instruments[name]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument: %s", name)
	}
	return m, nil
}

// PipSize is the price change of one pip, 0.10 for gold.
func (m InstrumentMeta) PipSize() float64 {
	return math.Pow10(m.PipLocation)
}

// PipValue is the quote-currency value of a one pip move on one lot.
func (m InstrumentMeta) PipValue() float64 {
	return decimal.New(1, int32(m.PipLocation)).Mul(decimal.NewFromFloat(m.ContractSize)).InexactFloat64()
}

// ToPips converts an absolute price distance to pips.
func (m InstrumentMeta) ToPips(dist float64) float64 {
	return decimal.NewFromFloat(math.Abs(dist)).Div(decimal.New(1, int32(m.PipLocation))).InexactFloat64()
}

// FromPips converts a pip count to an absolute price distance.
func (m InstrumentMeta) FromPips(pips float64) float64 {
	return decimal.NewFromFloat(pips).Mul(decimal.New(1, int32(m.PipLocation))).InexactFloat64()
}

// RoundPrice rounds a price to the instrument's quoted precision.
func (m InstrumentMeta) RoundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).Round(int32(m.PricePrecision)).InexactFloat64()
}

// PnL is the quote-currency profit of moving from entry to exit with size lots.
func (m InstrumentMeta) PnL(side Side, entry, exit, size float64) float64 {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	return move.Mul(decimal.NewFromFloat(size)).
		Mul(decimal.NewFromFloat(m.ContractSize)).
		Mul(decimal.NewFromInt(int64(side))).
		Round(2).InexactFloat64()
}
