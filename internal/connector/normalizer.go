package connector

import (
	"fmt"
	"strings"
)

// Symbols are canonical in BASE/QUOTE form ("BTC/USDT") everywhere inside
// the engine. Each exchange speaks its own dialect on the wire.

var knownQuotes = []string{"USDT", "USDC", "BUSD", "TUSD", "USD", "BTC", "ETH", "BNB", "DAI", "EUR", "KRW"}

// ToBinance converts "BTC/USDT" to "BTCUSDT".
func ToBinance(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// FromBinance converts "BTCUSDT" to "BTC/USDT" by splitting on a known
// quote asset suffix, longest match first.
func FromBinance(raw string) (string, error) {
	up := strings.ToUpper(raw)
	for _, q := range knownQuotes {
		if strings.HasSuffix(up, q) && len(up) > len(q) {
			return up[:len(up)-len(q)] + "/" + q, nil
		}
	}
	return "", fmt.Errorf("cannot split symbol %q into base/quote", raw)
}

// ToBybit converts "BTC/USDT" to "BTCUSDT".
func ToBybit(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// FromBybit converts "BTCUSDT" to "BTC/USDT".
func FromBybit(raw string) (string, error) {
	return FromBinance(raw)
}

// ToOKX converts "BTC/USDT" to "BTC-USDT".
func ToOKX(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// FromOKX converts "BTC-USDT" to "BTC/USDT".
func FromOKX(raw string) (string, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed OKX instrument id %q", raw)
	}
	return strings.ToUpper(parts[0]) + "/" + strings.ToUpper(parts[1]), nil
}

// SplitSymbol returns base and quote of a canonical symbol.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}
