package pricing

import (
	"errors"
	"fmt"
	"math/big"
)

// OracleDecimals is the canonical fixed-point precision committed on-chain.
const OracleDecimals = 18

var (
	// ErrNegativeValue indicates a sample carried a negative fixed-point value.
	ErrNegativeValue = errors.New("pricing: sample value must be non-negative")
)

// PriceSample is a single observation returned by a source provider.
// Value is a non-negative integer scaled by 10^Decimals. Immutable once
// returned by a provider.
type PriceSample struct {
	Symbol    string
	Value     *big.Int
	Decimals  int
	Timestamp int64
	Source    string
	Degraded  bool
}

// NormalizedQuote is a PriceSample rescaled to OracleDecimals.
type NormalizedQuote struct {
	Symbol    string
	Value     *big.Int
	Decimals  int
	Timestamp int64
	Source    string
	Degraded  bool
}

// Normalize rescales a sample to the canonical 18-decimal representation.
// Scaling up is exact; scaling down truncates toward zero.
func Normalize(s PriceSample) (NormalizedQuote, error) {
	if s.Value == nil {
		return NormalizedQuote{}, fmt.Errorf("pricing: sample %s has nil value", s.Symbol)
	}
	if s.Value.Sign() < 0 {
		return NormalizedQuote{}, ErrNegativeValue
	}

	value := new(big.Int).Set(s.Value)
	switch {
	case s.Decimals < OracleDecimals:
		factor := pow10(OracleDecimals - s.Decimals)
		value.Mul(value, factor)
	case s.Decimals > OracleDecimals:
		factor := pow10(s.Decimals - OracleDecimals)
		value.Quo(value, factor)
	}

	return NormalizedQuote{
		Symbol:    s.Symbol,
		Value:     value,
		Decimals:  OracleDecimals,
		Timestamp: s.Timestamp,
		Source:    s.Source,
		Degraded:  s.Degraded,
	}, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
