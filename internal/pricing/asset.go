package pricing

import (
	"fmt"
	"strings"
)

// AssetClass groups symbols by market so deviation thresholds can differ.
type AssetClass string

const (
	ClassFX      AssetClass = "fx"
	ClassBullion AssetClass = "bullion"
)

// Asset describes one logical feed target: a symbol, its market class, and
// the ordered provider chain used to resolve it.
type Asset struct {
	Symbol    string
	Class     AssetClass
	Providers []string
	Watch     bool
}

// AssetID derives the bytes32 identifier the oracle contract keys prices by:
// the ASCII symbol right-padded with zero bytes.
func AssetID(symbol string) [32]byte {
	var id [32]byte
	copy(id[:], symbol)
	return id
}

// SplitPair decomposes a 6-letter currency pair into base and quote.
func SplitPair(symbol string) (base, quote string, err error) {
	cleaned := strings.ToUpper(strings.TrimSpace(symbol))
	if len(cleaned) != 6 {
		return "", "", fmt.Errorf("pricing: %q is not a 6-letter pair", symbol)
	}
	return cleaned[:3], cleaned[3:], nil
}

// ClassOf infers the asset class from the symbol when configuration does not
// state it. Metal codes start with X (XAU, XAG).
func ClassOf(symbol string) AssetClass {
	if strings.HasPrefix(strings.ToUpper(symbol), "XA") {
		return ClassBullion
	}
	return ClassFX
}
